// Package store opens the DuckDB storage file and exposes the synchronous
// convenience surface: totals, property inventories and direct triple lookup
// by subject/predicate/object. The filtered query pipeline lives in
// internal/query; ingestion in internal/ingest.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/standardbeagle/bikidata/internal/hash"
)

// Open opens the storage file read-write, creating it if absent. Only the
// ingest path and the dispatcher's insert/delete handlers should hold a
// writable handle; everything else opens read-only.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return db, nil
}

// OpenReadOnly opens the storage file for querying. Readers may run in
// parallel; each query session pins its own connection for temp-table scope.
func OpenReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path+"?access_mode=read_only")
	if err != nil {
		return nil, fmt.Errorf("open %s read-only: %w", path, err)
	}
	return db, nil
}

// Total returns the number of distinct subjects in the store.
func Total(ctx context.Context, db *sql.DB) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, "select count(distinct s) from triples").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count subjects: %w", err)
	}
	return n, nil
}

// Properties returns every predicate IRI with its distinct-subject count.
func Properties(ctx context.Context, db *sql.DB) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx,
		"select distinct I.value, count(distinct s) from triples T join iris I on T.p = I.hash group by I.value")
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var value string
		var count int64
		if err := rows.Scan(&value, &count); err != nil {
			return nil, err
		}
		out[value] = count
	}
	return out, rows.Err()
}

// CountByProperty returns, for the given predicate IRI, each distinct IRI
// object with its subject count.
func CountByProperty(ctx context.Context, db *sql.DB, property string) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx,
		"select I.value, count(distinct s) from triples T join iris I on T.o = I.hash join iris II on T.p = II.hash where II.value = ? group by I.value",
		property)
	if err != nil {
		return nil, fmt.Errorf("count by property: %w", err)
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var value string
		var count int64
		if err := rows.Scan(&value, &count); err != nil {
			return nil, err
		}
		out[value] = count
	}
	return out, rows.Err()
}

// Triple is a resolved statement as returned by SPO.
type Triple struct {
	S, P, O string
}

// SPO returns up to size triples matching the given terms, any of which may
// be empty to match everything in that position. Objects resolve through
// either dictionary; IRI resolution wins when both somehow match.
func SPO(ctx context.Context, db *sql.DB, s, p, o, g string, size, start int) ([]Triple, error) {
	if size <= 0 {
		size = 1000
	}
	var conditions []string
	for _, bind := range []struct {
		column, term string
	}{{"s", s}, {"p", p}, {"o", o}, {"g", g}} {
		if bind.term != "" {
			conditions = append(conditions, fmt.Sprintf("%s = %s", bind.column, hash.SQL(bind.term)))
		}
	}
	where := ""
	if len(conditions) > 0 {
		where = " where " + strings.Join(conditions, " and ")
	}
	offset := ""
	if start > 0 {
		offset = fmt.Sprintf(" offset %d", start)
	}
	q := fmt.Sprintf(
		"select U.value, UU.value, UUU.value, L.value from triples T left join iris U on T.s = U.hash left join iris UU on T.p = UU.hash left join iris UUU on T.o = UUU.hash left join literals L on T.o = L.hash%s%s limit %d",
		where, offset, size)
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("spo: %w", err)
	}
	defer rows.Close()
	var out []Triple
	for rows.Next() {
		var rs, rp, ro, rl sql.NullString
		if err := rows.Scan(&rs, &rp, &ro, &rl); err != nil {
			return nil, err
		}
		object := ro.String
		if !ro.Valid {
			object = rl.String
		}
		out = append(out, Triple{S: rs.String, P: rp.String, O: object})
	}
	return out, rows.Err()
}

// SP returns, for a list of subjects and an optional predicate, the object
// terms grouped by subject.
func SP(ctx context.Context, db *sql.DB, subjects []string, p string) (map[string][]string, error) {
	if len(subjects) == 0 {
		return map[string][]string{}, nil
	}
	hashes := make([]string, len(subjects))
	for i, s := range subjects {
		hashes[i] = hash.SQL(s)
	}
	where := fmt.Sprintf("where U.hash in (%s)", strings.Join(hashes, ", "))
	if p != "" {
		where += fmt.Sprintf(" and UU.hash = %s", hash.SQL(p))
	}
	q := fmt.Sprintf(
		"select U.value, UUU.value, L.value from triples T left join iris U on T.s = U.hash left join iris UU on T.p = UU.hash left join iris UUU on T.o = UUU.hash left join literals L on T.o = L.hash %s",
		where)
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sp: %w", err)
	}
	defer rows.Close()
	out := map[string][]string{}
	for rows.Next() {
		var rs, ro, rl sql.NullString
		if err := rows.Scan(&rs, &ro, &rl); err != nil {
			return nil, err
		}
		object := ro.String
		if !ro.Valid {
			object = rl.String
		}
		out[rs.String] = append(out[rs.String], object)
	}
	return out, rows.Err()
}
