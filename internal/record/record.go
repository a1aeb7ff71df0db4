// Package record holds the registry row types and the normalizer that turns
// raw extracted rows into immutable, display-ready records.
package record

import (
	"fmt"

	"github.com/Aman-CERP/tablerag/internal/errors"
)

// DefaultPrefix is the registration prefix used in display strings.
const DefaultPrefix = "GSA"

// Missing is how absent values are rendered for display.
const Missing = "Not Available"

// Status is the operating status of a facility.
type Status string

const (
	StatusActive Status = "Active"
	StatusClosed Status = "Closed"
)

// Row is one raw row as produced by the upstream table extraction.
// All cells are kept as text; Normalize interprets them.
type Row struct {
	ID           int    `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	Village      string `yaml:"village" json:"village"`
	District     string `yaml:"district" json:"district"`
	Registration string `yaml:"registration" json:"registration"`
	Count        string `yaml:"count" json:"count"`
	Status       string `yaml:"status" json:"status"`
	Contact      string `yaml:"contact" json:"contact"`
	Phone        string `yaml:"phone" json:"phone"`
}

// Registration is a normalized registration code.
type Registration struct {
	// Raw is the cell text as extracted.
	Raw string
	// Display is PREFIX-<int> when a code was found, else Raw.
	Display string
	// Code is the integer component, nil when Raw has no digits.
	Code *int
}

// Record is a normalized facility. Records are never mutated after
// Normalize returns.
type Record struct {
	ID           int
	Name         *string
	Village      *string
	District     *string
	Registration Registration
	Count        int
	Status       Status
	Contact      *string
	Phone        *string
}

// Display returns the value of an optional field or the missing marker.
func Display(v *string) string {
	if v == nil {
		return Missing
	}
	return *v
}

// Location renders "village, district" skipping missing parts.
func (r *Record) Location() string {
	switch {
	case r.Village != nil && r.District != nil:
		return *r.Village + ", " + *r.District
	case r.District != nil:
		return *r.District
	case r.Village != nil:
		return *r.Village
	default:
		return Missing
	}
}

// ContactLine renders "name (phone)" with whichever parts are present.
func (r *Record) ContactLine() string {
	switch {
	case r.Contact != nil && r.Phone != nil:
		return fmt.Sprintf("%s (%s)", *r.Contact, *r.Phone)
	case r.Contact != nil:
		return *r.Contact
	case r.Phone != nil:
		return *r.Phone
	default:
		return Missing
	}
}

// HasContact reports whether a contact name or phone is present.
func (r *Record) HasContact() bool {
	return r.Contact != nil || r.Phone != nil
}

// NormalizeAll normalizes rows in order. When any row lacks an ID (zero,
// as in a 0-based export) every row gets its 1-based position, so explicit
// and positional IDs never mix.
func NormalizeAll(rows []Row, prefix string) []Record {
	positional := false
	for _, row := range rows {
		if row.ID == 0 {
			positional = true
			break
		}
	}

	out := make([]Record, 0, len(rows))
	for i, row := range rows {
		if positional {
			row.ID = i + 1
		}
		out = append(out, Normalize(row, prefix))
	}
	return out
}

// Validate checks that a record set can be indexed and displayed.
func Validate(records []Record) error {
	if len(records) == 0 {
		return errors.EmptyCorpus("record set is empty")
	}
	var names, districts int
	seen := make(map[int]struct{}, len(records))
	for i := range records {
		if _, dup := seen[records[i].ID]; dup {
			return errors.ValidationError(fmt.Sprintf("duplicate record id %d", records[i].ID), nil).
				WithDetail("field", "id").
				WithDetail("id", fmt.Sprint(records[i].ID)).
				WithSuggestion("Give every row a unique serial number or leave the column empty")
		}
		seen[records[i].ID] = struct{}{}
		if records[i].Name != nil {
			names++
		}
		if records[i].District != nil {
			districts++
		}
	}
	if names == 0 {
		return errors.ValidationError("no record has a name", nil).
			WithDetail("field", "name").
			WithSuggestion("Check the column headers of the uploaded report")
	}
	if districts == 0 {
		return errors.ValidationError("no record has a district", nil).
			WithDetail("field", "district").
			WithSuggestion("Check the column headers of the uploaded report")
	}
	return nil
}
