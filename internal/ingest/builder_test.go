package ingest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/bikidata/internal/config"
	"github.com/standardbeagle/bikidata/internal/hash"
	"github.com/standardbeagle/bikidata/internal/rdf"
	"github.com/standardbeagle/bikidata/internal/store"
)

// openTestStore opens an in-memory engine, skipping when the engine is not
// available in the test environment.
func openTestStore(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.Open("")
	if err != nil {
		t.Skipf("storage engine unavailable: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("storage engine unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testIngestConfig(t *testing.T) config.Ingest {
	dir := t.TempDir()
	return config.Ingest{
		TriplePath: filepath.Join(dir, "triples"),
		MapPath:    filepath.Join(dir, "maps"),
		Stemmer:    "porter",
	}
}

const testCorpus = "<a> <p> <b> .\n<a> <p> <c> .\n<b> <p> <c> .\n" +
	"<a> <label> \"Alpha\"@en .\n<a> <label> \"Alfa\"@de .\n<b> <label> \"Beta\"@en .\n"

func buildTestCorpus(t *testing.T, db *sql.DB, cfg config.Ingest) Result {
	t.Helper()
	result, err := BuildFromSource(context.Background(), db, cfg, func(emit rdf.EmitFunc) error {
		return rdf.Parse(strings.NewReader(testCorpus), emit)
	})
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "fts") {
		t.Skipf("fts extension unavailable: %v", err)
	}
	require.NoError(t, err)
	return result
}

func TestBuildLoadsAllTables(t *testing.T) {
	db := openTestStore(t)
	cfg := testIngestConfig(t)
	result := buildTestCorpus(t, db, cfg)
	assert.Equal(t, 6, result.Count)

	ctx := context.Background()
	var triples int64
	require.NoError(t, db.QueryRowContext(ctx, "select count(*) from triples").Scan(&triples))
	assert.EqualValues(t, 6, triples)

	// every term hash appears in exactly one dictionary
	var dup int64
	require.NoError(t, db.QueryRowContext(ctx,
		"select count(*) from (select hash from iris intersect select hash from literals)").Scan(&dup))
	assert.Zero(t, dup)

	var multi int64
	require.NoError(t, db.QueryRowContext(ctx,
		"select count(*) from (select hash from (select hash from iris union all select hash from literals) group by hash having count(*) > 1)").Scan(&multi))
	assert.Zero(t, multi)

	// round-trip: a parsed triple is present under its hashes
	var n int64
	require.NoError(t, db.QueryRowContext(ctx,
		"select count(*) from triples where s = "+hash.SQLFromSum(hash.Sum("<a>"))+
			" and p = "+hash.SQLFromSum(hash.Sum("<p>"))+
			" and o = "+hash.SQLFromSum(hash.Sum("<b>"))).Scan(&n))
	assert.EqualValues(t, 1, n)

	// interim files are removed after a committed load
	_, err := os.Stat(cfg.TriplePath)
	assert.True(t, os.IsNotExist(err))
}

func TestBuildRefusesPopulatedStore(t *testing.T) {
	db := openTestStore(t)
	cfg := testIngestConfig(t)
	buildTestCorpus(t, db, cfg)

	_, err := BuildFromSource(context.Background(), db, cfg, func(emit rdf.EmitFunc) error {
		return rdf.Parse(strings.NewReader(testCorpus), emit)
	})
	assert.ErrorIs(t, err, ErrAlreadyBuilt)

	// and nothing changed
	var triples int64
	require.NoError(t, db.QueryRow("select count(*) from triples").Scan(&triples))
	assert.EqualValues(t, 6, triples)
}

func TestBuildRejectsEmptyPathList(t *testing.T) {
	db := openTestStore(t)
	_, err := Build(context.Background(), db, testIngestConfig(t), nil)
	assert.Error(t, err)
}

func TestBuildReservesZeroHashForEmptyGraph(t *testing.T) {
	db := openTestStore(t)
	cfg := testIngestConfig(t)
	buildTestCorpus(t, db, cfg)

	// the default graph is stored as hash zero and has no dictionary row;
	// resolution maps zero back to "" directly
	var n int64
	require.NoError(t, db.QueryRow("select count(*) from triples where g = 0").Scan(&n))
	assert.EqualValues(t, 6, n)
	require.NoError(t, db.QueryRow(
		"select count(*) from (select hash from iris union all select hash from literals) where hash = 0").Scan(&n))
	assert.Zero(t, n)
}
