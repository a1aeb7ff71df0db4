package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/tablerag/internal/errors"
)

// Bundle file names and schema version.
const (
	UnitsFile     = "units.db"
	VectorsFile   = "vectors.hnsw"
	SchemaVersion = 1
)

// Manifest describes a persisted bundle. It is stored in units.db and
// cross-checked against the vector store on load.
type Manifest struct {
	SchemaVersion  int
	BuildID        string
	UnitCount      int
	RecordCount    int
	Checksum       string
	EmbedderModel  string
	Dimensions     int
	LexicalBackend string
	CreatedAt      time.Time
}

// Bundle is a loaded index bundle: the text-unit collection and the
// vector store built from it.
type Bundle struct {
	Manifest *Manifest
	Units    []*TextUnit
	Vectors  *HNSWStore
}

// NewBuildID returns a fresh build identifier.
func NewBuildID() string {
	return uuid.NewString()
}

// Checksum hashes the unit collection independent of order.
func Checksum(units []*TextUnit) string {
	sorted := make([]*TextUnit, len(units))
	copy(sorted, units)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	for _, u := range sorted {
		fmt.Fprintf(h, "%s\x1f%d\x1f%s\x1f%d\x1f%s\x1f%s\x1e",
			u.ID, u.RecordID, u.Facet, u.RegCode, u.Body, u.FullInfo)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SaveBundle writes units and vectors to dir. Files are staged in a sibling
// directory that replaces dir only once everything is written, under the
// bundle lock.
func SaveBundle(ctx context.Context, dir string, m *Manifest, units []*TextUnit, vectors *HNSWStore) error {
	parent := filepath.Dir(filepath.Clean(dir))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return errors.IOFailure("create index parent directory", err).WithDetail("path", parent)
	}

	lock := NewBundleLock(dir)
	if err := lock.Lock(ctx); err != nil {
		return errors.New(errors.ErrCodeIndexLocked, "index is locked by another process", err).
			WithDetail("lock", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+".staging-")
	if err != nil {
		return errors.IOFailure("create staging directory", err).WithDetail("path", parent)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	if err := writeUnits(ctx, filepath.Join(staging, UnitsFile), m, units); err != nil {
		return errors.IOFailure("write text units", err).WithDetail("path", dir)
	}
	vectors.SetBuildID(m.BuildID)
	if err := vectors.Save(filepath.Join(staging, VectorsFile)); err != nil {
		return errors.IOFailure("write vector index", err).WithDetail("path", dir)
	}

	if err := os.RemoveAll(dir); err != nil {
		return errors.IOFailure("remove previous bundle", err).WithDetail("path", dir)
	}
	if err := os.Rename(staging, dir); err != nil {
		return errors.IOFailure("install bundle", err).WithDetail("path", dir)
	}
	return nil
}

// LoadBundle reads and cross-checks the bundle at dir. Every failure is a
// corrupt-index error whose reason distinguishes missing files, permission
// problems, undecodable artifacts and artifacts that disagree.
func LoadBundle(ctx context.Context, dir string) (*Bundle, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, errors.CorruptIndex("index bundle not found", err).WithDetail("path", dir)
	}

	lock := NewBundleLock(dir)
	if err := lock.RLock(ctx); err != nil {
		return nil, errors.New(errors.ErrCodeIndexLocked, "index is locked by another process", err).
			WithDetail("lock", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	unitsPath := filepath.Join(dir, UnitsFile)
	m, units, err := readUnits(ctx, unitsPath)
	if err != nil {
		return nil, errors.CorruptIndex("read text units", err).WithDetail("path", unitsPath)
	}
	if m.SchemaVersion != SchemaVersion {
		return nil, errors.IndexMismatch(fmt.Sprintf("bundle schema version %d, want %d", m.SchemaVersion, SchemaVersion))
	}
	if len(units) != m.UnitCount {
		return nil, errors.IndexMismatch(fmt.Sprintf("manifest lists %d units, found %d", m.UnitCount, len(units)))
	}
	if sum := Checksum(units); sum != m.Checksum {
		return nil, errors.IndexMismatch("text unit checksum does not match manifest")
	}

	vectorsPath := filepath.Join(dir, VectorsFile)
	for _, p := range []string{vectorsPath, vectorsPath + ".meta"} {
		if _, err := os.Stat(p); err != nil {
			return nil, errors.CorruptIndex("vector index missing", err).WithDetail("path", p)
		}
	}

	vectors, err := NewHNSWStore(DefaultVectorStoreConfig(max(m.Dimensions, 1)))
	if err != nil {
		return nil, errors.CorruptIndex("create vector store", err)
	}
	if err := vectors.Load(vectorsPath); err != nil {
		_ = vectors.Close()
		return nil, errors.CorruptIndex("read vector index", err).WithDetail("path", vectorsPath)
	}

	if vectors.BuildID() != m.BuildID {
		_ = vectors.Close()
		return nil, errors.IndexMismatch("vector index belongs to a different build").
			WithDetail("units_build", m.BuildID).
			WithDetail("vectors_build", vectors.BuildID())
	}
	if vectors.Dimensions() != m.Dimensions {
		_ = vectors.Close()
		return nil, errors.IndexMismatch(fmt.Sprintf("vector dimensions %d, manifest %d", vectors.Dimensions(), m.Dimensions))
	}
	if !sameIDs(units, vectors.AllIDs()) {
		_ = vectors.Close()
		return nil, errors.IndexMismatch("vector index and text units cover different ids")
	}

	return &Bundle{Manifest: m, Units: units, Vectors: vectors}, nil
}

// ReadManifest returns the manifest of the bundle at dir without loading
// the vectors.
func ReadManifest(ctx context.Context, dir string) (*Manifest, error) {
	path := filepath.Join(dir, UnitsFile)
	if _, err := os.Stat(path); err != nil {
		return nil, errors.CorruptIndex("index bundle not found", err).WithDetail("path", dir)
	}
	db, err := openUnitsDB(path)
	if err != nil {
		return nil, errors.CorruptIndex("open text units", err).WithDetail("path", path)
	}
	defer db.Close()

	m, err := readManifest(ctx, db)
	if err != nil {
		return nil, errors.CorruptIndex("read manifest", err).WithDetail("path", path)
	}
	return m, nil
}

func sameIDs(units []*TextUnit, ids []string) bool {
	if len(units) != len(ids) {
		return false
	}
	want := make(map[string]struct{}, len(units))
	for _, u := range units {
		want[u.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := want[id]; !ok {
			return false
		}
	}
	return true
}

// openUnitsDB opens units.db. Callers stat the file first when it must
// already exist, since opening creates it.
func openUnitsDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

const unitsSchema = `
CREATE TABLE manifest (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE units (
	seq       INTEGER PRIMARY KEY,
	id        TEXT NOT NULL UNIQUE,
	record_id INTEGER NOT NULL,
	facet     TEXT NOT NULL,
	reg_code  INTEGER NOT NULL,
	body      TEXT NOT NULL,
	full_info TEXT NOT NULL
);`

func writeUnits(ctx context.Context, path string, m *Manifest, units []*TextUnit) error {
	db, err := openUnitsDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, unitsSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO units (seq, id, record_id, facet, reg_code, body, full_info)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, u := range units {
		if _, err := stmt.ExecContext(ctx, i, u.ID, u.RecordID, string(u.Facet), u.RegCode, u.Body, u.FullInfo); err != nil {
			return fmt.Errorf("insert unit %s: %w", u.ID, err)
		}
	}

	for k, v := range manifestValues(m) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO manifest (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("write manifest %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func readUnits(ctx context.Context, path string) (*Manifest, []*TextUnit, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, err
	}
	db, err := openUnitsDB(path)
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()

	m, err := readManifest(ctx, db)
	if err != nil {
		return nil, nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, record_id, facet, reg_code, body, full_info
		FROM units ORDER BY seq`)
	if err != nil {
		return nil, nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	units := make([]*TextUnit, 0, m.UnitCount)
	for rows.Next() {
		var u TextUnit
		var facet string
		if err := rows.Scan(&u.ID, &u.RecordID, &facet, &u.RegCode, &u.Body, &u.FullInfo); err != nil {
			return nil, nil, fmt.Errorf("scan unit: %w", err)
		}
		u.Facet = Facet(facet)
		units = append(units, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return m, units, nil
}

func manifestValues(m *Manifest) map[string]string {
	return map[string]string{
		"schema_version":  strconv.Itoa(m.SchemaVersion),
		"build_id":        m.BuildID,
		"unit_count":      strconv.Itoa(m.UnitCount),
		"record_count":    strconv.Itoa(m.RecordCount),
		"checksum":        m.Checksum,
		"embedder_model":  m.EmbedderModel,
		"dimensions":      strconv.Itoa(m.Dimensions),
		"lexical_backend": m.LexicalBackend,
		"created_at":      m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func readManifest(ctx context.Context, db *sql.DB) (*Manifest, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM manifest`)
	if err != nil {
		return nil, fmt.Errorf("query manifest: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan manifest: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	m := &Manifest{
		BuildID:        values["build_id"],
		Checksum:       values["checksum"],
		EmbedderModel:  values["embedder_model"],
		LexicalBackend: values["lexical_backend"],
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"schema_version", &m.SchemaVersion},
		{"unit_count", &m.UnitCount},
		{"record_count", &m.RecordCount},
		{"dimensions", &m.Dimensions},
	}
	for _, f := range ints {
		n, err := strconv.Atoi(values[f.key])
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", f.key, err)
		}
		*f.dst = n
	}
	if ts, err := time.Parse(time.RFC3339Nano, values["created_at"]); err == nil {
		m.CreatedAt = ts
	}
	if m.BuildID == "" {
		return nil, fmt.Errorf("manifest has no build id")
	}
	return m, nil
}
