package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/standardbeagle/bikidata/internal/hash"
)

// RDFSLabelIRI is the default label predicate for by:"label" ordering.
const RDFSLabelIRI = "<http://www.w3.org/2000/01/rdf-schema#label>"

// ErrUnsupportedOrder is returned for an order rule the compiler does not
// recognize, or one missing its required IRI argument.
var ErrUnsupportedOrder = errors.New("unsupported order rule")

// defaultLangs ranks untagged and unknown-language labels last.
var defaultLangs = []string{"de", "en"}

// langCaseSQL builds a CASE expression ranking labels by language
// preference. valExpr is the raw literal column (surface form with @lang).
func langCaseSQL(valExpr string, langs []string) string {
	var parts []string
	rank := 1
	for _, lg := range langs {
		parts = append(parts, fmt.Sprintf(`WHEN %s LIKE '%%"@%s' THEN %d`, valExpr, lg, rank))
		rank++
	}
	parts = append(parts, fmt.Sprintf(`WHEN %s NOT LIKE '%%"@%%' THEN %d`, valExpr, rank))
	rank++
	parts = append(parts, fmt.Sprintf("ELSE %d", rank))
	return "CASE " + strings.Join(parts, " ") + " END"
}

// cleanExpr wraps the extracted label text in the normalization the rule
// asks for. baseExpr is the label WITHOUT its @lang suffix.
func cleanExpr(baseExpr string, clean *Clean, mode string) string {
	expr := baseExpr
	c := clean
	if c == nil {
		c = &Clean{}
	}
	if c.RemoveQuotes {
		expr = fmt.Sprintf(`regexp_replace(%s, '^"|"$', '')`, expr)
	}
	if c.CollapseSpace {
		expr = fmt.Sprintf(`regexp_replace(%s, '\s+', ' ')`, expr)
	}
	if c.StripPunct {
		expr = fmt.Sprintf(`regexp_replace(%s, '^[^0-9A-Za-z]+', '')`, expr)
	}
	if c.Trim == nil || *c.Trim {
		expr = fmt.Sprintf("trim(%s)", expr)
	}
	if mode == "lex" && (c.Lower == nil || *c.Lower) {
		expr = fmt.Sprintf("lower(%s)", expr)
	}
	return expr
}

// naturalOrderBlock orders entries with a numeric leading prefix first, by
// that number, before falling back to the label text.
func naturalOrderBlock(prefixAlias, dirSQL string) string {
	return fmt.Sprintf(`
ORDER BY
  sort_label IS NULL ASC,
  (%s.num_prefix IS NULL),
  %s.num_prefix %s,
  sort_label %s,
  S.s
`, prefixAlias, prefixAlias, dirSQL, dirSQL)
}

// plainOrderBlock is the fallback ORDER BY without numeric prefix handling.
func plainOrderBlock(dirSQL, nullsSQL string) string {
	return fmt.Sprintf(`
ORDER BY
  %s,
  sort_label %s,
  S.s
`, nullsSQL, dirSQL)
}

// labelCTE is the shared labels/pref CTE pair: pick each subject's best
// label by language rank, then the winning row per subject.
func labelCTE(joinSQL, caseExpr, sortExpr string) string {
	return fmt.Sprintf(`
            with labels as (
                select S.s,
                       L.value as lbl_val,
                       %s as lang_rank,
                       %s as sort_label
                %s
            ),
            pref as (
                select s, sort_label
                from (
                    select s, sort_label, lang_rank,
                           row_number() over (partition by s order by lang_rank asc, sort_label asc) as rn
                    from labels
                )
                where rn = 1
            )`, caseExpr, sortExpr, joinSQL)
}

// buildSortedTable creates the temp table s_sorted(s, sort_label) from
// s_results per the first order rule.
func buildSortedTable(ctx context.Context, conn *sql.Conn, rules OrderRules) error {
	if len(rules) == 0 {
		return nil
	}
	rule := rules[0]

	by := strings.ToLower(rule.By)
	if by == "" {
		by = "label"
	}
	langs := rule.Lang
	if len(langs) == 0 {
		langs = defaultLangs
	}
	dirSQL := "ASC"
	if strings.ToLower(rule.Dir) == "desc" {
		dirSQL = "DESC"
	}
	nullsSQL := "sort_label IS NULL ASC"
	if strings.ToLower(rule.Nulls) == "first" {
		nullsSQL = "sort_label IS NULL DESC"
	}
	mode := strings.ToLower(rule.Mode)
	if mode == "" {
		mode = "lex"
	}

	caseExpr := langCaseSQL("L.value", langs)
	rawText := `regexp_extract(L.value, '^"(.+)"', 1)`
	sortExpr := cleanExpr(rawText, rule.Clean, mode)

	var postBlock string
	if rule.Natural {
		postBlock = fmt.Sprintf(`
, numbered AS (
    SELECT s,
           sort_label,
           TRY_CAST(NULLIF(regexp_extract(sort_label, '^(\d+)', 1), '') AS INTEGER) AS num_prefix
    FROM pref
)
SELECT S.s, N.sort_label
FROM s_results S
LEFT JOIN numbered N ON N.s = S.s
%s`, naturalOrderBlock("N", dirSQL))
	} else {
		postBlock = fmt.Sprintf(`
SELECT S.s, P.sort_label
FROM s_results S
LEFT JOIN pref P ON P.s = S.s
%s`, plainOrderBlock(dirSQL, nullsSQL))
	}

	var cte string
	switch by {
	case "label":
		cte = labelCTE(fmt.Sprintf(`from s_results S
                join triples T on T.s = S.s and T.p = %s
                join literals L on L.hash = T.o`, hash.SQL(RDFSLabelIRI)), caseExpr, sortExpr)

	case "property":
		if rule.Prop == "" {
			return fmt.Errorf("%w: by=property requires prop (IRI)", ErrUnsupportedOrder)
		}
		cte = labelCTE(fmt.Sprintf(`from s_results S
                join triples T on T.s = S.s and T.p = %s
                join literals L on L.hash = T.o`, hash.SQL(rule.Prop)), caseExpr, sortExpr)

	case "object_label":
		if rule.Via == "" {
			return fmt.Errorf("%w: by=object_label requires via (IRI)", ErrUnsupportedOrder)
		}
		cte = fmt.Sprintf(`
            with objs as (
                select S.s, T1.o as obj
                from s_results S
                join triples T1 on T1.s = S.s and T1.p = %s
            ),
            labels as (
                select O.s,
                       L.value as lbl_val,
                       %s as lang_rank,
                       %s as sort_label
                from objs O
                join triples T2 on T2.s = O.obj and T2.p = %s
                join literals L on L.hash = T2.o
            ),
            pref as (
                select s, sort_label
                from (
                    select s, sort_label, lang_rank,
                           row_number() over (partition by s order by lang_rank asc, sort_label asc) as rn
                    from labels
                )
                where rn = 1
            )`, hash.SQL(rule.Via), caseExpr, sortExpr, hash.SQL(RDFSLabelIRI))

	default:
		return fmt.Errorf("%w: by=%q", ErrUnsupportedOrder, rule.By)
	}

	stmt := "create temp table s_sorted as" + cte + postBlock
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("build sort table: %w", err)
	}
	return nil
}
