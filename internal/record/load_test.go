package record

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Aman-CERP/tablerag/internal/errors"
)

func TestLoadFile_JSON(t *testing.T) {
	// Given: a JSON list of rows with a numeric count
	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id": 1, "name": "Shanti Gaushala", "district": "Ambala", "registration": "GSA-014", "count": 42}
	]`), 0o644))

	// When: loading it
	rows, err := LoadFile(path)

	// Then: the row is decoded
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Shanti Gaushala", rows[0].Name)
	assert.Equal(t, "42", rows[0].Count)
}

func TestLoadFile_YAMLWrapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`records:
  - name: Gopal Gaushala
    district: Hisar
    registration: "GSA 0007"
`), 0o644))

	rows, err := LoadFile(path)

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "GSA 0007", rows[0].Registration)
}

func TestLoadFile_CSVHeaderAliases(t *testing.T) {
	// Given: a CSV export using the source report's headers
	path := filepath.Join(t.TempDir(), "records.csv")
	content := "Global_Sr,Gaushala_Name,Village,District,Registration_No,Cattle_Count,Contact_Person,Phone_Number\n" +
		"3,Shanti Gaushala,Rampur,Ambala,GSA-014,42,Ramesh,9876543210\n" +
		",,,,,,,\n" +
		",Krishna Gaushala,,Ambala,GSA-4314,0,,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// When: loading it
	rows, err := LoadFile(path)

	// Then: columns map through aliases and blank rows are skipped
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 3, rows[0].ID)
	assert.Equal(t, "Ramesh", rows[0].Contact)
	assert.Zero(t, rows[1].ID, "row without a serial")
	assert.Equal(t, "GSA-4314", rows[1].Registration)

	// And: normalizing numbers every row so the missing serial cannot collide
	recs := NormalizeAll(rows, "")
	assert.Equal(t, 1, recs[0].ID)
	assert.Equal(t, 2, recs[1].ID)
	assert.NoError(t, Validate(recs))
}

func TestLoadFile_XLSX(t *testing.T) {
	// Given: a workbook written with excelize
	path := filepath.Join(t.TempDir(), "records.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Gaushala_Name", "District", "Registration_No", "Status"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"Shanti Gaushala", "Ambala", "GSA-014", "Active"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	// When: loading it
	rows, err := LoadFile(path)

	// Then: the data row is read from the first sheet
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Shanti Gaushala", rows[0].Name)
	assert.Zero(t, rows[0].ID)
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(dir, "nope.csv"))
		assert.Equal(t, errors.ErrCodeFileNotFound, errors.GetCode(err))
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(dir, "records.pdf"))
		assert.Equal(t, errors.ErrCodeUnsupported, errors.GetCode(err))
	})

	t.Run("unknown headers", func(t *testing.T) {
		path := filepath.Join(dir, "bad.csv")
		require.NoError(t, os.WriteFile(path, []byte("foo,bar\n1,2\n"), 0o644))
		_, err := LoadFile(path)
		assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
	})
}
