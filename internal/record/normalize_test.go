package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRegistration(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		display string
		code    int
		hasCode bool
	}{
		{"leading zeros", "GSA-014", "GSA-14", 14, true},
		{"dotted prefix", "G.S.A 14", "GSA-14", 14, true},
		{"closed marker", "(Closed) 14", "GSA-14", 14, true},
		{"first run wins", "GSA-4314/2019", "GSA-4314", 4314, true},
		{"all zeros", "000", "GSA-0", 0, true},
		{"no digits", "Pending", "Pending", 0, false},
		{"empty", "", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			display, code := NormalizeRegistration(tt.raw, DefaultPrefix)
			assert.Equal(t, tt.display, display)
			if !tt.hasCode {
				assert.Nil(t, code)
				return
			}
			require.NotNil(t, code)
			assert.Equal(t, tt.code, *code)
		})
	}
}

func TestCleanField(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *string
	}{
		{"title cases and trims", "  shanti   gaushala ", ptr("Shanti Gaushala")},
		{"not available", "Not Available", nil},
		{"unknown upper", "UNKNOWN", nil},
		{"nan", "nan", nil},
		{"empty", "   ", nil},
		{"full width normalised", "ＡＭＢＡＬＡ", ptr("Ambala")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanField(tt.raw))
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, ptr("9876543210"), NormalizePhone("98765-43210"))
	assert.Equal(t, ptr("9876543210"), NormalizePhone("+91 98765 43210"))
	assert.Equal(t, ptr("9000000001, 9876543210"), NormalizePhone("9876543210 / 9000000001 / 9876543210"))
	assert.Nil(t, NormalizePhone("12345"))
	assert.Nil(t, NormalizePhone("Not Available"))
}

func TestSplitContact(t *testing.T) {
	// Given: a combined contact cell
	name, phone := SplitContact("ramesh kumar 9876543210")

	// Then: name and phone are separated
	assert.Equal(t, ptr("Ramesh Kumar"), name)
	assert.Equal(t, ptr("9876543210"), phone)

	// And: very short names are dropped
	name, phone = SplitContact("Om 9876543210")
	assert.Nil(t, name)
	assert.Equal(t, ptr("9876543210"), phone)
}

func TestParseStatusAndCount(t *testing.T) {
	assert.Equal(t, StatusActive, ParseStatus("Active"))
	assert.Equal(t, StatusClosed, ParseStatus("", "(Closed) 14"))
	assert.Equal(t, StatusClosed, ParseStatus("", "", "closed"))
	assert.Equal(t, 42, ParseCount("42 cattle"))
	assert.Equal(t, 0, ParseCount("Closed"))
}

func TestNormalize_FullRow(t *testing.T) {
	// Given: the reference row
	row := Row{
		ID:           7,
		Name:         "Shanti Gaushala",
		Village:      "Rampur",
		District:     "Ambala",
		Registration: "GSA-014",
		Count:        "42",
		Status:       "Active",
		Contact:      "Ramesh",
		Phone:        "9876543210",
	}

	// When: it is normalized
	rec := Normalize(row, "")

	// Then: every field is cleaned and typed
	assert.Equal(t, 7, rec.ID)
	assert.Equal(t, "Shanti Gaushala", Display(rec.Name))
	assert.Equal(t, "Rampur, Ambala", rec.Location())
	assert.Equal(t, "GSA-14", rec.Registration.Display)
	require.NotNil(t, rec.Registration.Code)
	assert.Equal(t, 14, *rec.Registration.Code)
	assert.Equal(t, 42, rec.Count)
	assert.Equal(t, StatusActive, rec.Status)
	assert.Equal(t, "Ramesh (9876543210)", rec.ContactLine())
	assert.True(t, rec.HasContact())
}

func TestNormalize_PlaceholdersBecomeMissing(t *testing.T) {
	rec := Normalize(Row{Name: "Gopal Gaushala", District: "Hisar", Contact: "Not Available", Phone: "nan"}, "")

	assert.Nil(t, rec.Contact)
	assert.Nil(t, rec.Phone)
	assert.False(t, rec.HasContact())
	assert.Equal(t, Missing, rec.ContactLine())
	assert.Equal(t, "Hisar", rec.Location())
}

func TestNormalizeAll_IDs(t *testing.T) {
	tests := []struct {
		name string
		rows []Row
		want []int
	}{
		{"explicit ids kept", []Row{{ID: 10, Name: "A"}, {ID: 20, Name: "B"}}, []int{10, 20}},
		{"all missing", []Row{{Name: "A"}, {Name: "B"}, {Name: "C"}}, []int{1, 2, 3}},
		{"one missing renumbers all", []Row{{Name: "A"}, {ID: 10, Name: "B"}, {Name: "C"}}, []int{1, 2, 3}},
		{"zero-based export", []Row{{ID: 0, Name: "A"}, {ID: 1, Name: "B"}, {ID: 2, Name: "C"}}, []int{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := NormalizeAll(tt.rows, "")

			ids := make([]int, 0, len(recs))
			for _, r := range recs {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.ErrorContains(t, Validate(nil), "ERR_407_EMPTY_CORPUS")
	})
	t.Run("no names anywhere", func(t *testing.T) {
		recs := NormalizeAll([]Row{{District: "Ambala"}, {District: "Hisar"}}, "")
		assert.ErrorContains(t, Validate(recs), "no record has a name")
	})
	t.Run("no districts anywhere", func(t *testing.T) {
		recs := NormalizeAll([]Row{{Name: "A"}}, "")
		assert.ErrorContains(t, Validate(recs), "no record has a district")
	})
	t.Run("duplicate explicit ids", func(t *testing.T) {
		recs := NormalizeAll([]Row{
			{ID: 7, Name: "A", District: "Ambala"},
			{ID: 8, Name: "B", District: "Hisar"},
			{ID: 7, Name: "C", District: "Karnal"},
		}, "")
		err := Validate(recs)
		assert.ErrorContains(t, err, "duplicate record id 7")
		assert.ErrorContains(t, err, "ERR_401_INVALID_INPUT")
	})
	t.Run("partial gaps are fine", func(t *testing.T) {
		recs := NormalizeAll([]Row{{Name: "A"}, {District: "Hisar"}}, "")
		assert.NoError(t, Validate(recs))
	})
}

func ptr(s string) *string { return &s }
