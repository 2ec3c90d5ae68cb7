package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/standardbeagle/bikidata/internal/hash"
	"github.com/standardbeagle/bikidata/internal/rdf"
)

// EmbedSQLFunc turns free text into an engine-side vector literal for the
// semantic clause form. Nil disables semantic clauses.
type EmbedSQLFunc func(ctx context.Context, text string) (string, error)

// sqlQuote doubles single quotes so free text can be spliced into a string
// literal. Patterns and FTS queries pass through otherwise untouched.
func sqlQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// CompileClause translates one filter clause into a subquery yielding subject
// hashes. The compiler is purely syntactic; apart from the embedder call for
// semantic clauses it never consults the store. Unrecognized clause shapes
// compile to the empty string and are dropped by the caller.
func CompileClause(ctx context.Context, c Clause, embed EmbedSQLFunc) (string, error) {
	p := strings.Trim(c.P, " ")
	o := strings.Trim(c.O, " ")
	g := strings.Trim(c.G, " ")

	// The object constraint is multi-valued when o is a run of IRIs.
	var oo string
	if strings.HasPrefix(o, "<") && strings.HasSuffix(o, ">") && len(strings.Split(o, " ")) > 1 {
		var hashes []string
		for _, multiO := range strings.Split(o, " ") {
			hashes = append(hashes, hash.SQL(multiO))
		}
		oo = fmt.Sprintf(" in (%s)", strings.Join(hashes, ", "))
	} else {
		oo = fmt.Sprintf(" = %s", hash.SQL(o))
	}

	extraG := ""
	if g != "" {
		var hashes []string
		for _, gTerm := range strings.Split(g, " ") {
			hashes = append(hashes, hash.SQL(gTerm))
		}
		extraG = fmt.Sprintf(" and T0.g in (%s)", strings.Join(hashes, ", "))
	}

	score := ""
	if c.withScore {
		score = ", score "
	}

	switch {
	case p == "" && (strings.HasPrefix(o, "<") || strings.HasPrefix(o, "_:")):
		return fmt.Sprintf("(select distinct s from triples T0 where o%s%s)", oo, extraG), nil

	case p == "id":
		if strings.HasPrefix(o, "random") || strings.HasPrefix(o, "sample") {
			count := 1
			if parts := strings.Split(o, " "); len(parts) > 1 {
				if n, err := strconv.Atoi(parts[1]); err == nil {
					count = n
				}
			}
			where := ""
			if extraG != "" {
				where = " where true" + extraG
			}
			return fmt.Sprintf("(select distinct s from triples T0%s using sample %d)", where, count), nil
		}
		return fmt.Sprintf("(select distinct s from triples T0 where s%s%s)", oo, extraG), nil

	case strings.HasPrefix(p, "semantic"):
		if embed == nil {
			return "", fmt.Errorf("semantic clause requires an embedder")
		}
		vec, err := embed(ctx, o)
		if err != nil {
			return "", fmt.Errorf("embed semantic query: %w", err)
		}
		return fmt.Sprintf(
			"(select distinct s%s from (select T0.s, array_cosine_distance(vec, %s) as distance, 1/distance as score from literals_semantic LS join triples T0 on T0.s = LS.hash where distance < 0.5%s))",
			score, vec, extraG), nil

	case strings.HasPrefix(p, "regex"):
		extra := ""
		if parts := strings.Split(p, " "); len(parts) == 2 && rdf.IsIRI(parts[1]) {
			extra = fmt.Sprintf(" and T.p = %s", hash.SQL(parts[1]))
		}
		return fmt.Sprintf(
			"(select distinct T.s from triples T join literals L on T.o = L.hash where L.value similar to '%s'%s)",
			sqlQuote(o), extra), nil

	case strings.HasPrefix(p, "ftss"):
		return fmt.Sprintf(
			"(with scored as (select *, fts_main_fts.match_bm25(s, '%s', conjunctive:=1) AS score from fts)\nselect s%s from scored where score is not null)",
			sqlQuote(o), score), nil

	case strings.HasPrefix(p, "fts"):
		parents := 0
		if parts := strings.Split(p, " "); len(parts) == 2 {
			if n, err := strconv.Atoi(parts[1]); err == nil {
				parents = n
			}
		}
		var joins []string
		for k := 0; k < parents; k++ {
			joins = append(joins, fmt.Sprintf(" join triples T%d on T%d.s = T%d.o", k+1, k, k+1))
		}
		extra := strings.Join(joins, "\n")
		return fmt.Sprintf(
			"(with scored as (select *, fts_main_literals.match_bm25(hash, '%s', conjunctive:=1) AS score from literals)\nselect distinct T%d.s%s from (select * from scored where score is not null) S join triples T0\non S.hash = T0.o\n%s%s)",
			sqlQuote(o), parents, score, extra, extraG), nil

	case rdf.IsIRI(p):
		if o != "" {
			return fmt.Sprintf("(select distinct s from triples T0 where p = %s and o%s%s)", hash.SQL(p), oo, extraG), nil
		}
		return fmt.Sprintf("(select distinct s from triples T0 where p = %s%s)", hash.SQL(p), extraG), nil
	}

	return "", nil
}
