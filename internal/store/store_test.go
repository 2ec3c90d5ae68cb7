package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/bikidata/internal/hash"
)

func openSeededStore(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open("")
	if err != nil {
		t.Skipf("storage engine unavailable: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("storage engine unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, stmt := range []string{
		"create table literals (hash ubigint, value varchar)",
		"create table iris (hash ubigint, value varchar)",
		"create table triples (s ubigint, p ubigint, o ubigint, g ubigint)",
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	seed := func(table, term string) {
		_, err := db.Exec("insert into "+table+" values ("+hash.SQL(term)+", ?)", term)
		require.NoError(t, err)
	}
	for _, iri := range []string{"<a>", "<b>", "<c>", "<p>", "<label>"} {
		seed("iris", iri)
	}
	seed("literals", `"Alpha"@en`)
	triple := func(s, p, o string) {
		_, err := db.Exec("insert into triples values (" +
			hash.SQL(s) + ", " + hash.SQL(p) + ", " + hash.SQL(o) + ", " + hash.SQL("") + ")")
		require.NoError(t, err)
	}
	triple("<a>", "<p>", "<b>")
	triple("<a>", "<p>", "<c>")
	triple("<b>", "<p>", "<c>")
	triple("<a>", "<label>", `"Alpha"@en`)
	return db
}

func TestTotal(t *testing.T) {
	db := openSeededStore(t)
	n, err := Total(context.Background(), db)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestProperties(t *testing.T) {
	db := openSeededStore(t)
	props, err := Properties(context.Background(), db)
	require.NoError(t, err)
	assert.EqualValues(t, 2, props["<p>"])
	assert.EqualValues(t, 1, props["<label>"])
}

func TestCountByProperty(t *testing.T) {
	db := openSeededStore(t)
	counts, err := CountByProperty(context.Background(), db, "<p>")
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts["<c>"])
	assert.EqualValues(t, 1, counts["<b>"])
}

func TestSPO(t *testing.T) {
	db := openSeededStore(t)
	triples, err := SPO(context.Background(), db, "<a>", "<p>", "", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, triples, 2)
	for _, tr := range triples {
		assert.Equal(t, "<a>", tr.S)
		assert.Equal(t, "<p>", tr.P)
	}
}

func TestSPOResolvesLiteralObjects(t *testing.T) {
	db := openSeededStore(t)
	triples, err := SPO(context.Background(), db, "<a>", "<label>", "", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, triples, 1)
	assert.Equal(t, `"Alpha"@en`, triples[0].O)
}

func TestSP(t *testing.T) {
	db := openSeededStore(t)
	grouped, err := SP(context.Background(), db, []string{"<a>", "<b>"}, "<p>")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"<b>", "<c>"}, grouped["<a>"])
	assert.ElementsMatch(t, []string{"<c>"}, grouped["<b>"])
}

func TestSPEmptySubjects(t *testing.T) {
	db := openSeededStore(t)
	grouped, err := SP(context.Background(), db, nil, "")
	require.NoError(t, err)
	assert.Empty(t, grouped)
}
