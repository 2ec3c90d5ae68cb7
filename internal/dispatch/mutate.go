package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/standardbeagle/bikidata/internal/hash"
)

// mutationRow is one (s,p,o,g) in a mutation request's data list. Empty
// strings mean "absent": skipped on insert validation, unconstrained on
// delete.
type mutationRow struct {
	S, P, O, G string
}

func decodeRows(opts map[string]any) ([]mutationRow, error) {
	data, ok := opts["data"].([]any)
	if !ok {
		return nil, fmt.Errorf("mutation request has no data list")
	}
	rows := make([]mutationRow, 0, len(data))
	for _, item := range data {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("mutation row is not an object")
		}
		get := func(k string) string {
			v, _ := m[k].(string)
			return v
		}
		rows = append(rows, mutationRow{S: get("s"), P: get("p"), O: get("o"), G: get("g")})
	}
	return rows, nil
}

// NewStoreMutators binds insert and delete handlers to a writable store
// handle. The dispatcher manager is the only caller; the store stays
// single-writer.
func NewStoreMutators(db *sql.DB) (insert, delete MutateFunc) {
	return func(ctx context.Context, opts map[string]any) (any, error) {
			return handleInsert(ctx, db, opts)
		}, func(ctx context.Context, opts map[string]any) (any, error) {
			return handleDelete(ctx, db, opts)
		}
}

// handleInsert appends rows to the dictionaries and the triple table.
// Dictionary rows are only added for hashes not yet present; the triple
// insert skips exact duplicates so the table stays a set.
func handleInsert(ctx context.Context, db *sql.DB, opts map[string]any) (any, error) {
	rows, err := decodeRows(opts)
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, row := range rows {
		if row.S == "" || row.P == "" || row.O == "" {
			return nil, fmt.Errorf("insert row needs s, p and o")
		}
		for _, term := range []string{row.S, row.P, row.O, row.G} {
			if term == "" {
				// the zero hash of the default graph has no dictionary row
				continue
			}
			if !hash.Valid(term) {
				return nil, fmt.Errorf("term is not valid UTF-8")
			}
			if err := upsertTerm(ctx, tx, term); err != nil {
				return nil, err
			}
		}
		// Hashes are spliced as ubigint literals: the driver rejects uint64
		// arguments with the high bit set.
		s, p, o, g := hash.SQL(row.S), hash.SQL(row.P), hash.SQL(row.O), hash.SQL(row.G)
		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			"insert into triples select %s, %s, %s, %s where not exists (select 1 from triples where s = %s and p = %s and o = %s and g = %s)",
			s, p, o, g, s, p, o, g))
		if err != nil {
			return nil, fmt.Errorf("insert triple: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert: %w", err)
	}
	return map[string]any{"inserted": inserted}, nil
}

// upsertTerm ensures the dictionary row for one term. Literal surface forms
// go to literals, everything else (IRIs, blank nodes, graph terms) to iris.
func upsertTerm(ctx context.Context, tx *sql.Tx, term string) error {
	table := "iris"
	if strings.HasPrefix(term, `"`) {
		table = "literals"
	}
	h := hash.SQL(term)
	stmt := fmt.Sprintf(
		"insert into %s select %s, ? where not exists (select 1 from %s where hash = %s)", table, h, table, h)
	if _, err := tx.ExecContext(ctx, stmt, term); err != nil {
		return fmt.Errorf("upsert term in %s: %w", table, err)
	}
	return nil
}

// handleDelete removes triples matching each row's non-empty positions.
// A row with no positions at all is rejected rather than wiping the table.
func handleDelete(ctx context.Context, db *sql.DB, opts map[string]any) (any, error) {
	rows, err := decodeRows(opts)
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	deleted := 0
	for _, row := range rows {
		var conditions []string
		for _, bind := range []struct {
			column, term string
		}{{"s", row.S}, {"p", row.P}, {"o", row.O}, {"g", row.G}} {
			if bind.term != "" {
				conditions = append(conditions, bind.column+" = "+hash.SQL(bind.term))
			}
		}
		if len(conditions) == 0 {
			return nil, fmt.Errorf("delete row needs at least one of s, p, o, g")
		}
		res, err := tx.ExecContext(ctx,
			"delete from triples where "+strings.Join(conditions, " and "))
		if err != nil {
			return nil, fmt.Errorf("delete triples: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}
	return map[string]any{"deleted": deleted}, nil
}
