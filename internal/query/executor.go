package query

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/standardbeagle/bikidata/internal/debug"
	"github.com/standardbeagle/bikidata/internal/hash"
)

// DefaultSize is the page size when a request does not set one.
const DefaultSize = 999

// Executor orchestrates clause compilation and page materialization against
// a read-only store handle. Each query pins one connection so its temp
// tables (s_results, s_by_score, s_sorted, wanted) stay private.
type Executor struct {
	db    *sql.DB
	embed EmbedSQLFunc
}

// NewExecutor wraps a store handle. embed may be nil; semantic clauses then
// fail at compile time.
func NewExecutor(db *sql.DB, embed EmbedSQLFunc) *Executor {
	return &Executor{db: db, embed: embed}
}

// Query runs one request through the full pipeline: combine clause subject
// sets, count, sort, paginate, facet, fetch the page's triples and ancestry
// paths, and resolve every hash back to its surface form.
func (e *Executor) Query(ctx context.Context, req Request) (*Response, error) {
	size := req.Size
	if size <= 0 {
		size = DefaultSize
	}
	start := req.Start
	if start < 0 {
		start = 0
	}

	queries, ftsForSorting, err := e.compileFilters(ctx, req.Filters)
	if err != nil {
		return nil, err
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire query connection: %w", err)
	}
	defer conn.Close()

	resp := &Response{Results: map[string]Entity{}, Size: size, Start: start}
	aggregates := map[string][]AggregateRow{}
	tofetch := map[uint64]struct{}{}
	// subject -> predicate -> object set, all as hashes
	entities := map[uint64]map[uint64]map[uint64]struct{}{}
	graphs := map[uint64]map[uint64]struct{}{}
	paths := map[uint64]map[string][]uint64{}
	var pageOrder []uint64

	if len(queries) > 0 {
		if err := e.materializeSubjects(ctx, conn, queries, ftsForSorting); err != nil {
			return nil, err
		}
		if err := conn.QueryRowContext(ctx, "select count(*) from s_results").Scan(&resp.Total); err != nil {
			return nil, fmt.Errorf("count results: %w", err)
		}
		if err := e.materializePage(ctx, conn, req.Order, len(ftsForSorting) > 0, size, start); err != nil {
			return nil, err
		}

		for _, agg := range req.Aggregates {
			rows, err := e.aggregate(ctx, conn, agg)
			if err != nil {
				return nil, err
			}
			aggregates[agg] = rows
		}

		pageOrder, err = e.fetchPageTriples(ctx, conn, req.ExcludeProperties, entities, graphs, tofetch)
		if err != nil {
			return nil, err
		}

		for _, pad := range req.Paths {
			if err := e.fetchPaths(ctx, conn, pad, paths, tofetch); err != nil {
				return nil, err
			}
		}
	}

	// With no filters at all, the properties/graphs facets run over the
	// whole store.
	if len(queries) == 0 {
		for _, agg := range req.Aggregates {
			switch agg {
			case "properties":
				rows, err := e.scanAggregate(ctx, conn,
					"select count(distinct T.s) as count, I.value as val from triples T join iris I on T.p = I.hash group by T.p, I.value")
				if err != nil {
					return nil, err
				}
				aggregates[agg] = rows
			case "graphs":
				rows, err := e.scanAggregate(ctx, conn,
					"select count(distinct T.s) as count, I.value as val from triples T join iris I on T.g = I.hash group by T.g, I.value")
				if err != nil {
					return nil, err
				}
				aggregates[agg] = rows
			}
		}
	}

	resolved, err := e.resolveHashes(ctx, conn, tofetch)
	if err != nil {
		return nil, err
	}

	e.mapResults(resp, pageOrder, entities, graphs, paths, resolved)
	if len(aggregates) > 0 {
		resp.Aggregates = aggregates
	}
	return resp, nil
}

// compileFilters folds the clause list left to right. EXCEPT segments are
// deferred to the end so set subtraction applies to the accumulated
// union/intersection. FTS and semantic clauses are compiled a second time
// with score projection for the parallel sort table.
func (e *Executor) compileFilters(ctx context.Context, filters []Clause) (queries, ftsForSorting []string, err error) {
	var queriesExcept []string
	for _, clause := range filters {
		op := clause.Op
		if op == "" {
			op = "should"
		}

		if strings.HasPrefix(clause.P, "fts") || strings.HasPrefix(clause.P, "semantic") {
			scored := clause
			scored.withScore = true
			scoredSQL, err := CompileClause(ctx, scored, e.embed)
			if err != nil {
				return nil, nil, err
			}
			if len(ftsForSorting) == 0 {
				ftsForSorting = append(ftsForSorting, scoredSQL)
			} else if op == "should" || op == "or" {
				ftsForSorting = append(ftsForSorting, " UNION "+scoredSQL)
			} else if op == "must" || op == "and" {
				ftsForSorting = append(ftsForSorting, " INTERSECT "+scoredSQL)
			}
		}

		clauseSQL, err := CompileClause(ctx, clause, e.embed)
		if err != nil {
			return nil, nil, err
		}
		if clauseSQL == "" {
			continue
		}
		if len(queries) == 0 {
			queries = append(queries, clauseSQL)
			continue
		}
		switch op {
		case "should", "or":
			queries = append(queries, " UNION "+clauseSQL)
		case "must", "and":
			queries = append(queries, " INTERSECT "+clauseSQL)
		case "not":
			queriesExcept = append(queriesExcept, " EXCEPT "+clauseSQL)
		}
	}
	return append(queries, queriesExcept...), ftsForSorting, nil
}

// materializeSubjects builds s_results (and s_by_score when any clause
// carries a score).
func (e *Executor) materializeSubjects(ctx context.Context, conn *sql.Conn, queries, ftsForSorting []string) error {
	if len(ftsForSorting) > 0 {
		scoreSQL := "create temp table s_by_score as select s, max(score) as score from (" +
			strings.Join(ftsForSorting, "\n") + ") group by s"
		debug.LogQuery("score table: %s\n", scoreSQL)
		if _, err := conn.ExecContext(ctx, scoreSQL); err != nil {
			return fmt.Errorf("build score table: %w", err)
		}
		joined := "create temp table s_results as select distinct QJ.s from (" +
			strings.Join(queries, "\n") + ") QJ left join s_by_score SS on QJ.s = SS.s"
		debug.LogQuery("subject set: %s\n", joined)
		if _, err := conn.ExecContext(ctx, joined); err != nil {
			return fmt.Errorf("build subject set: %w", err)
		}
		return nil
	}
	joined := "create temp table s_results as select distinct s from (" +
		strings.Join(queries, "\n") + ")"
	debug.LogQuery("subject set: %s\n", joined)
	if _, err := conn.ExecContext(ctx, joined); err != nil {
		return fmt.Errorf("build subject set: %w", err)
	}
	return nil
}

// materializePage builds wanted(s, pos): the page slice in its final order.
func (e *Executor) materializePage(ctx context.Context, conn *sql.Conn, order OrderRules, haveScores bool, size, start int) error {
	if len(order) > 0 {
		if err := buildSortedTable(ctx, conn, order); err != nil {
			return err
		}
		_, err := conn.ExecContext(ctx, fmt.Sprintf(`
			create temp table wanted as
			select s, row_number() over () as pos
			from s_sorted
			limit %d offset %d`, size, start))
		if err != nil {
			return fmt.Errorf("build page: %w", err)
		}
		return nil
	}
	if haveScores {
		_, err := conn.ExecContext(ctx, fmt.Sprintf(`
			create temp table wanted as
			select QJ.s,
			       row_number() over (order by SS.score desc, QJ.s) as pos
			from s_results QJ
			left join s_by_score SS on QJ.s = SS.s
			order by SS.score desc, QJ.s
			limit %d offset %d`, size, start))
		if err != nil {
			return fmt.Errorf("build page: %w", err)
		}
		return nil
	}
	_, err := conn.ExecContext(ctx, fmt.Sprintf(`
		create temp table wanted as
		select s, row_number() over (order by s) as pos
		from s_results
		order by s
		limit %d offset %d`, size, start))
	if err != nil {
		return fmt.Errorf("build page: %w", err)
	}
	return nil
}

// aggregate computes one facet over all of s_results.
func (e *Executor) aggregate(ctx context.Context, conn *sql.Conn, agg string) ([]AggregateRow, error) {
	var stmt string
	switch agg {
	case "graphs":
		stmt = "select count(distinct T.s) as count, I.value as val from s_results S join triples T on S.s = T.s join iris I on T.g = I.hash group by T.g, I.value"
	case "properties":
		stmt = "select count(distinct T.s) as count, I.value as val from s_results S join triples T on S.s = T.s join iris I on T.p = I.hash group by T.p, I.value"
	default:
		aggO := hash.SQL(agg)
		stmt = fmt.Sprintf(
			"(select count(distinct T.s) as count, I.value as val from s_results S join triples T on S.s = T.s join iris I on T.o = I.hash where T.p = %s group by T.o, I.value) union (select count(distinct T.s) as count, L.value as val from s_results S join triples T on S.s = T.s join literals L on T.o = L.hash where T.p = %s group by T.o, L.value) order by count desc",
			aggO, aggO)
	}
	return e.scanAggregate(ctx, conn, stmt)
}

func (e *Executor) scanAggregate(ctx context.Context, conn *sql.Conn, stmt string) ([]AggregateRow, error) {
	rows, err := conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	defer rows.Close()
	var out []AggregateRow
	for rows.Next() {
		var row AggregateRow
		if err := rows.Scan(&row.Count, &row.Value); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// fetchPageTriples loads every triple of the page's subjects, keeping the
// page order, and registers all hashes for resolution.
func (e *Executor) fetchPageTriples(ctx context.Context, conn *sql.Conn, excludeProperties []string,
	entities map[uint64]map[uint64]map[uint64]struct{}, graphs map[uint64]map[uint64]struct{},
	tofetch map[uint64]struct{}) ([]uint64, error) {

	var wanted int64
	if err := conn.QueryRowContext(ctx, "select count(*) from wanted").Scan(&wanted); err != nil {
		return nil, fmt.Errorf("count page: %w", err)
	}
	if wanted == 0 {
		return nil, nil
	}

	stmt := `
		select distinct T.s, T.p, T.o, T.g, W.pos
		from wanted W
		join triples T on T.s = W.s
		order by W.pos`
	if len(excludeProperties) > 0 {
		quoted := make([]string, len(excludeProperties))
		for i, ep := range excludeProperties {
			quoted[i] = "'" + sqlQuote(ep) + "'"
		}
		stmt = fmt.Sprintf(`
			with excl_props as (select hash from iris where value in (%s))
			select distinct T.s, T.p, T.o, T.g, W.pos
			from wanted W
			join triples T on T.s = W.s
			where T.p not in (select hash from excl_props)
			order by W.pos`, strings.Join(quoted, ","))
	}

	rows, err := conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("fetch page triples: %w", err)
	}
	defer rows.Close()

	var pageOrder []uint64
	seen := map[uint64]struct{}{}
	for rows.Next() {
		var s, p, o, g uint64
		var pos int64
		if err := rows.Scan(&s, &p, &o, &g, &pos); err != nil {
			return nil, err
		}
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			pageOrder = append(pageOrder, s)
		}
		tofetch[s] = struct{}{}
		tofetch[p] = struct{}{}
		tofetch[o] = struct{}{}
		if _, ok := entities[s]; !ok {
			entities[s] = map[uint64]map[uint64]struct{}{}
		}
		if _, ok := entities[s][p]; !ok {
			entities[s][p] = map[uint64]struct{}{}
		}
		entities[s][p][o] = struct{}{}
		if g != hash.EmptyGraph {
			tofetch[g] = struct{}{}
			if _, ok := graphs[s]; !ok {
				graphs[s] = map[uint64]struct{}{}
			}
			graphs[s][g] = struct{}{}
		}
	}
	return pageOrder, rows.Err()
}

// fetchPaths runs the recursive ancestry CTE for one path predicate and
// attaches each page subject's root-to-self chain.
func (e *Executor) fetchPaths(ctx context.Context, conn *sql.Conn, pad string,
	paths map[uint64]map[string][]uint64, tofetch map[uint64]struct{}) error {

	stmt := fmt.Sprintf(`with recursive parents(s, parent) as
 (select distinct s , parent from triples left join (select s as part, o as parent from triples where p = %s) on s = part),
hier(source, path) as (
    select s, [s]::ubigint[] as path
    from parents
    where parent is null
  union all
    select s, list_prepend(s, hier.path)
    from parents, hier
    where parent = hier.source
)
select source, path from hier where source in (select s from wanted)`, hash.SQL(pad))

	rows, err := conn.QueryContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("fetch paths for %s: %w", pad, err)
	}
	defer rows.Close()
	for rows.Next() {
		var source uint64
		var raw any
		if err := rows.Scan(&source, &raw); err != nil {
			return err
		}
		chain := toUint64Slice(raw)
		if _, ok := paths[source]; !ok {
			paths[source] = map[string][]uint64{}
		}
		paths[source][pad] = chain
		for _, h := range chain {
			tofetch[h] = struct{}{}
		}
	}
	return rows.Err()
}

// toUint64Slice converts a driver-provided list value into hashes.
func toUint64Slice(v any) []uint64 {
	switch vv := v.(type) {
	case []uint64:
		return vv
	case []any:
		out := make([]uint64, 0, len(vv))
		for _, e := range vv {
			switch n := e.(type) {
			case uint64:
				out = append(out, n)
			case int64:
				out = append(out, uint64(n))
			case float64:
				out = append(out, uint64(n))
			}
		}
		return out
	}
	return nil
}

// resolveHashes maps every collected hash back to its surface form in one
// union query over both dictionaries. The zero hash resolves to "".
func (e *Executor) resolveHashes(ctx context.Context, conn *sql.Conn, tofetch map[uint64]struct{}) (map[uint64]string, error) {
	resolved := map[uint64]string{hash.EmptyGraph: ""}
	if len(tofetch) == 0 {
		return resolved, nil
	}
	ids := make([]string, 0, len(tofetch))
	for h := range tofetch {
		ids = append(ids, fmt.Sprintf("%d", h))
	}
	sort.Strings(ids)
	list := strings.Join(ids, ", ")
	stmt := fmt.Sprintf(
		"(select hash, value from iris where hash in (%s)) union (select hash, value from literals where hash in (%s))",
		list, list)
	rows, err := conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("resolve hashes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h uint64
		var value string
		if err := rows.Scan(&h, &value); err != nil {
			return nil, err
		}
		resolved[h] = value
	}
	return resolved, rows.Err()
}

// mapResults converts the hash-keyed page into the string-keyed response.
// Subjects that only appeared through a path chain are not result entities
// and are skipped.
func (e *Executor) mapResults(resp *Response, pageOrder []uint64,
	entities map[uint64]map[uint64]map[uint64]struct{}, graphs map[uint64]map[uint64]struct{},
	paths map[uint64]map[string][]uint64, resolved map[uint64]string) {

	for _, s := range pageOrder {
		preds, ok := entities[s]
		if !ok {
			continue
		}
		iri := resolved[s]
		ent := Entity{"id": iri}
		for p, objects := range preds {
			values := make([]string, 0, len(objects))
			for o := range objects {
				values = append(values, resolved[o])
			}
			sort.Strings(values)
			ent[resolved[p]] = values
		}
		graphValues := []string{}
		for g := range graphs[s] {
			graphValues = append(graphValues, resolved[g])
		}
		sort.Strings(graphValues)
		ent["graph"] = graphValues

		if chains, ok := paths[s]; ok {
			mapped := map[string][]string{}
			for pad, chain := range chains {
				vals := make([]string, 0, len(chain))
				for _, h := range chain {
					if h == s {
						continue
					}
					vals = append(vals, resolved[h])
				}
				mapped[pad] = vals
			}
			ent["_paths"] = mapped
		}
		resp.Results[iri] = ent
	}
}
