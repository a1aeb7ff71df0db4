package record

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	digitRun   = regexp.MustCompile(`\d+`)
	phoneRun   = regexp.MustCompile(`\d{10,}`)
	whitespace = regexp.MustCompile(`\s+`)
	phoneSeps  = regexp.MustCompile(`[\s.\-()+]`)
	nameNoise  = regexp.MustCompile(`[\d._\-/+()]+`)
)

// placeholders are cell values that mean "no data".
var placeholders = map[string]struct{}{
	"":              {},
	"not available": {},
	"unknown":       {},
	"nan":           {},
	"n/a":           {},
	"na":            {},
	"none":          {},
	"null":          {},
	"-":             {},
	"--":            {},
}

// Normalize converts a raw row into a Record. It never fails; unparseable
// cells become missing values.
func Normalize(row Row, prefix string) Record {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	display, code := NormalizeRegistration(row.Registration, prefix)

	rec := Record{
		ID:       row.ID,
		Name:     CleanField(row.Name),
		Village:  CleanField(row.Village),
		District: CleanField(row.District),
		Registration: Registration{
			Raw:     row.Registration,
			Display: display,
			Code:    code,
		},
		Count:  ParseCount(row.Count),
		Status: ParseStatus(row.Status, row.Registration, row.Count),
	}

	// Contact cells often carry "Name 98765 43210".
	name, inline := SplitContact(row.Contact)
	rec.Contact = name
	rec.Phone = NormalizePhone(row.Phone)
	if rec.Phone == nil {
		rec.Phone = inline
	}
	return rec
}

// NormalizeRegistration extracts the first run of digits as the integer
// code. It returns "PREFIX-<int>" and the code, or (raw, nil) if raw has no
// digits.
func NormalizeRegistration(raw, prefix string) (string, *int) {
	m := digitRun.FindString(raw)
	if m == "" {
		return raw, nil
	}
	trimmed := strings.TrimLeft(m, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		// Longer than an int; not a registration number.
		return raw, nil
	}
	return prefix + "-" + strconv.Itoa(n), &n
}

// CleanField trims, collapses whitespace and title-cases a free-text cell.
// Placeholder values map to nil.
func CleanField(raw string) *string {
	s := norm.NFKC.String(raw)
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
	if IsPlaceholder(s) {
		return nil
	}
	// Casers are stateful and must not be shared across goroutines.
	s = cases.Title(language.Und).String(s)
	return &s
}

// IsPlaceholder reports whether s is a known "no data" token.
func IsPlaceholder(s string) bool {
	_, ok := placeholders[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// NormalizePhone keeps every 10-digit number found in raw, sorted and
// joined by ", ". Numbers with a country code keep their last 10 digits.
func NormalizePhone(raw string) *string {
	if IsPlaceholder(raw) {
		return nil
	}
	compact := phoneSeps.ReplaceAllString(raw, "")
	seen := make(map[string]struct{})
	var phones []string
	for _, run := range phoneRun.FindAllString(compact, -1) {
		var candidates []string
		switch {
		case len(run) <= 12:
			candidates = []string{run[len(run)-10:]}
		case len(run)%10 == 0:
			// Several numbers separated only by spaces.
			for i := 0; i < len(run); i += 10 {
				candidates = append(candidates, run[i:i+10])
			}
		}
		for _, p := range candidates {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			phones = append(phones, p)
		}
	}
	if len(phones) == 0 {
		return nil
	}
	sort.Strings(phones)
	joined := strings.Join(phones, ", ")
	return &joined
}

// SplitContact separates a combined "name number" cell. Names shorter than
// three letters are treated as missing.
func SplitContact(raw string) (name, phone *string) {
	phone = NormalizePhone(raw)
	cleaned := strings.TrimSpace(nameNoise.ReplaceAllString(raw, " "))
	cleaned = strings.Trim(cleaned, ",;: ")
	if len([]rune(strings.ReplaceAll(cleaned, " ", ""))) < 3 {
		return nil, phone
	}
	return CleanField(cleaned), phone
}

// ParseCount returns the first integer in raw, or 0.
func ParseCount(raw string) int {
	m := digitRun.FindString(raw)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ParseStatus returns Closed if any of the given cells mentions "closed".
func ParseStatus(cells ...string) Status {
	for _, c := range cells {
		if strings.Contains(strings.ToLower(c), "closed") {
			return StatusClosed
		}
	}
	return StatusActive
}
