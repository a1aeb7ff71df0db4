package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/tablerag/internal/errors"
)

func saveTestBundle(t *testing.T) (string, []*TextUnit, *Manifest) {
	t.Helper()
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")

	units := sampleUnits()
	vectors, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	require.NoError(t, err)
	ids := make([]string, len(units))
	vecs := make([][]float32, len(units))
	for i, u := range units {
		ids[i] = u.ID
		vecs[i] = []float32{float32(i + 1), 1, 0, 0}
	}
	require.NoError(t, vectors.Add(ctx, ids, vecs))

	m := &Manifest{
		SchemaVersion:  SchemaVersion,
		BuildID:        NewBuildID(),
		UnitCount:      len(units),
		RecordCount:    3,
		Checksum:       Checksum(units),
		EmbedderModel:  "static-test",
		Dimensions:     4,
		LexicalBackend: LexicalBackendBleve,
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, SaveBundle(ctx, dir, m, units, vectors))
	return dir, units, m
}

func TestBundle_SaveLoadRoundTrip(t *testing.T) {
	// Given: a saved bundle
	dir, units, m := saveTestBundle(t)

	// When: loading it
	b, err := LoadBundle(context.Background(), dir)

	// Then: units come back in order with the same manifest
	require.NoError(t, err)
	assert.Equal(t, units, b.Units)
	assert.Equal(t, m.BuildID, b.Manifest.BuildID)
	assert.Equal(t, m.Checksum, b.Manifest.Checksum)
	assert.True(t, m.CreatedAt.Equal(b.Manifest.CreatedAt))
	assert.Equal(t, "static-test", b.Manifest.EmbedderModel)
	assert.Equal(t, len(units), b.Vectors.Count())

	// And: no staging directories are left behind
	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "staging")
	}
}

func TestBundle_SaveReplacesPrevious(t *testing.T) {
	dir, _, _ := saveTestBundle(t)
	first, err := ReadManifest(context.Background(), dir)
	require.NoError(t, err)

	// When: a second bundle is saved to the same place
	units := sampleUnits()[:1]
	vectors, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	require.NoError(t, err)
	require.NoError(t, vectors.Add(context.Background(), []string{units[0].ID}, [][]float32{{1, 0, 0, 0}}))
	m := &Manifest{SchemaVersion: SchemaVersion, BuildID: NewBuildID(), UnitCount: 1, RecordCount: 1,
		Checksum: Checksum(units), Dimensions: 4}
	require.NoError(t, SaveBundle(context.Background(), dir, m, units, vectors))

	// Then: the new manifest is what loads
	b, err := LoadBundle(context.Background(), dir)
	require.NoError(t, err)
	assert.NotEqual(t, first.BuildID, b.Manifest.BuildID)
	assert.Len(t, b.Units, 1)
}

func TestChecksum_OrderIndependent(t *testing.T) {
	units := sampleUnits()
	reversed := []*TextUnit{units[3], units[2], units[1], units[0]}

	assert.Equal(t, Checksum(units), Checksum(reversed))

	changed := *units[0]
	changed.Body += "!"
	assert.NotEqual(t, Checksum(units), Checksum([]*TextUnit{&changed, units[1], units[2], units[3]}))
}

func TestLoadBundle_FailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, dir string)
		reason  string
	}{
		{
			name:    "missing directory",
			corrupt: func(t *testing.T, dir string) { require.NoError(t, os.RemoveAll(dir)) },
			reason:  errors.ReasonNotFound,
		},
		{
			name:    "missing units",
			corrupt: func(t *testing.T, dir string) { require.NoError(t, os.Remove(filepath.Join(dir, UnitsFile))) },
			reason:  errors.ReasonNotFound,
		},
		{
			name:    "missing vectors",
			corrupt: func(t *testing.T, dir string) { require.NoError(t, os.Remove(filepath.Join(dir, VectorsFile))) },
			reason:  errors.ReasonNotFound,
		},
		{
			name:    "missing vector metadata",
			corrupt: func(t *testing.T, dir string) { require.NoError(t, os.Remove(filepath.Join(dir, VectorsFile+".meta"))) },
			reason:  errors.ReasonNotFound,
		},
		{
			name: "garbage units",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, UnitsFile), []byte("not a database at all, just bytes"), 0o644))
			},
			reason: errors.ReasonCorrupt,
		},
		{
			name: "truncated vectors",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, VectorsFile), []byte{1, 2}, 0o644))
			},
			reason: errors.ReasonCorrupt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, _, _ := saveTestBundle(t)
			tt.corrupt(t, dir)

			_, err := LoadBundle(context.Background(), dir)

			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrCorruptIndex)
			assert.Equal(t, tt.reason, errors.GetDetail(err, "reason"))
		})
	}
}

func TestLoadBundle_MismatchedArtifacts(t *testing.T) {
	// Given: two bundles built separately
	dirA, _, _ := saveTestBundle(t)
	dirB, _, _ := saveTestBundle(t)

	// When: bundle A is given bundle B's vectors
	for _, name := range []string{VectorsFile, VectorsFile + ".meta"} {
		data, err := os.ReadFile(filepath.Join(dirB, name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dirA, name), data, 0o644))
	}

	// Then: load refuses the pair
	_, err := LoadBundle(context.Background(), dirA)
	assert.ErrorIs(t, err, errors.ErrCorruptIndex)
	assert.Equal(t, errors.ReasonMismatch, errors.GetDetail(err, "reason"))
}

func TestReadManifest(t *testing.T) {
	dir, _, m := saveTestBundle(t)

	got, err := ReadManifest(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, m.BuildID, got.BuildID)
	assert.Equal(t, 4, got.UnitCount)
	assert.Equal(t, 3, got.RecordCount)
	assert.Equal(t, LexicalBackendBleve, got.LexicalBackend)

	_, err = ReadManifest(context.Background(), filepath.Join(t.TempDir(), "none"))
	assert.ErrorIs(t, err, errors.ErrCorruptIndex)
}
