package record

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/tablerag/internal/errors"
)

// headerAliases maps a squashed column header to a Row field.
var headerAliases = map[string]string{
	"id": "id", "globalsr": "id", "sr": "id", "srno": "id", "sno": "id", "serialno": "id",
	"name": "name", "gaushalaname": "name", "gaushala": "name", "facility": "name", "facilityname": "name",
	"village": "village", "villagename": "village", "sublocation": "village", "location": "village",
	"district": "district", "districtname": "district",
	"registration": "registration", "registrationno": "registration", "registrationnumber": "registration",
	"regno": "registration", "regnno": "registration",
	"count": "count", "cattlecount": "count", "cattle": "count", "noofcattle": "count",
	"status": "status",
	"contact": "contact", "contactperson": "contact", "contactname": "contact",
	"phone": "phone", "phonenumber": "phone", "mobile": "phone", "mobileno": "phone", "contactno": "phone",
}

// LoadFile reads raw rows from a .json, .yaml, .yml, .csv or .xlsx file.
func LoadFile(path string) ([]Row, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".yaml", ".yml":
		return loadStructured(path)
	case ".csv":
		return loadCSV(path)
	case ".xlsx":
		return loadXLSX(path)
	default:
		return nil, errors.New(errors.ErrCodeUnsupported, fmt.Sprintf("unsupported records file type %q", ext), nil).
			WithDetail("path", path).
			WithSuggestion("Use a .xlsx, .csv, .json or .yaml export")
	}
}

// loadStructured accepts either a top-level list of rows or a mapping
// with a "records" list. YAML is a superset of JSON so one decoder serves
// both.
func loadStructured(path string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IOFailure("read records file", err).WithDetail("path", path)
	}

	var rows []Row
	if err := yaml.Unmarshal(data, &rows); err == nil {
		return rows, nil
	}

	var wrapped struct {
		Records []Row `yaml:"records"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err != nil {
		return nil, errors.New(errors.ErrCodeFileCorrupt, "parse records file", err).WithDetail("path", path)
	}
	return wrapped.Records, nil
}

func loadCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.IOFailure("open records file", err).WithDetail("path", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	table, err := r.ReadAll()
	if err != nil {
		return nil, errors.New(errors.ErrCodeFileCorrupt, "parse csv", err).WithDetail("path", path)
	}
	return rowsFromTable(table)
}

func loadXLSX(path string) ([]Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return nil, errors.IOFailure("open workbook", err).WithDetail("path", path)
		}
		return nil, errors.New(errors.ErrCodeFileCorrupt, "open workbook", err).WithDetail("path", path)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	table, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.New(errors.ErrCodeFileCorrupt, "read sheet "+sheets[0], err).WithDetail("path", path)
	}
	return rowsFromTable(table)
}

// rowsFromTable maps a header row plus data rows onto Row values.
// Blank rows are skipped. Rows without a serial keep ID 0 and are
// numbered by NormalizeAll.
func rowsFromTable(table [][]string) ([]Row, error) {
	if len(table) == 0 {
		return nil, nil
	}

	columns := make(map[int]string)
	for i, h := range table[0] {
		if field, ok := headerAliases[squash(h)]; ok {
			columns[i] = field
		}
	}
	if len(columns) == 0 {
		return nil, errors.ValidationError("no recognised column headers", nil).
			WithDetail("header", strings.Join(table[0], ",")).
			WithSuggestion("Expected columns such as Gaushala_Name, District, Registration_No")
	}

	rows := make([]Row, 0, len(table)-1)
	for _, cells := range table[1:] {
		if blank(cells) {
			continue
		}
		var row Row
		for i, cell := range cells {
			field, ok := columns[i]
			if !ok {
				continue
			}
			setField(&row, field, strings.TrimSpace(cell))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func setField(row *Row, field, value string) {
	switch field {
	case "id":
		if id, err := strconv.Atoi(value); err == nil && id > 0 {
			row.ID = id
		}
	case "name":
		row.Name = value
	case "village":
		row.Village = value
	case "district":
		row.District = value
	case "registration":
		row.Registration = value
	case "count":
		row.Count = value
	case "status":
		row.Status = value
	case "contact":
		row.Contact = value
	case "phone":
		row.Phone = value
	}
}

func squash(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
