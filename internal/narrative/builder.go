// Package narrative renders records as natural-language text units, one
// per facet, so identity, location and contact details are searchable on
// their own.
package narrative

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/tablerag/internal/record"
	"github.com/Aman-CERP/tablerag/internal/store"
)

// Build renders every record into text units in record order.
func Build(records []record.Record) []*store.TextUnit {
	units := make([]*store.TextUnit, 0, len(records)*2)
	for i := range records {
		units = append(units, Units(&records[i])...)
	}
	return units
}

// Units renders one record. The identity facet is always emitted, the
// location facet when a name or village is known, and the contact facet
// only when a contact name or phone is present.
func Units(r *record.Record) []*store.TextUnit {
	info := FullInfo(r)
	code := store.NoRegCode
	if r.Registration.Code != nil {
		code = *r.Registration.Code
	}

	unit := func(facet store.Facet, body string) *store.TextUnit {
		return &store.TextUnit{
			ID:       fmt.Sprintf("%d:%s", r.ID, facet),
			RecordID: r.ID,
			Facet:    facet,
			Body:     body,
			FullInfo: info,
			RegCode:  code,
		}
	}

	units := []*store.TextUnit{unit(store.FacetIdentity, identityText(r))}
	if r.Name != nil || r.Village != nil {
		units = append(units, unit(store.FacetLocation, locationText(r)))
	}
	if r.HasContact() {
		units = append(units, unit(store.FacetContact, contactText(r)))
	}
	return units
}

// FullInfo is the display payload shared by all facets of a record.
func FullInfo(r *record.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Gaushala: %s\n", record.Display(r.Name))
	fmt.Fprintf(&b, "Registration: %s\n", registration(r))
	fmt.Fprintf(&b, "Location: %s\n", r.Location())
	fmt.Fprintf(&b, "Contact: %s\n", r.ContactLine())
	fmt.Fprintf(&b, "Cattle: %d\n", r.Count)
	fmt.Fprintf(&b, "Status: %s", r.Status)
	return b.String()
}

func identityText(r *record.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s has registration number %s", name(r), registration(r))
	if r.Village != nil {
		fmt.Fprintf(&b, ", village %s", *r.Village)
	}
	fmt.Fprintf(&b, ", district %s.", record.Display(r.District))
	fmt.Fprintf(&b, " Status %s with %d cattle.", r.Status, r.Count)
	return b.String()
}

func locationText(r *record.Record) string {
	where := record.Display(r.District) + " district"
	if r.Village != nil {
		where = *r.Village + " village in " + where
	}
	return fmt.Sprintf("%s is located in %s (registration %s).", name(r), where, registration(r))
}

// contactText always names both the contact and the phone slot so a
// question about either finds the unit.
func contactText(r *record.Record) string {
	return fmt.Sprintf("Contact person for %s (registration %s, %s district) is %s, phone number %s.",
		name(r), registration(r), record.Display(r.District),
		record.Display(r.Contact), record.Display(r.Phone))
}

func name(r *record.Record) string {
	if r.Name == nil {
		return "Unnamed gaushala"
	}
	return *r.Name
}

func registration(r *record.Record) string {
	if r.Registration.Display == "" {
		return record.Missing
	}
	return r.Registration.Display
}
