package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/bikidata/internal/hash"
)

func compile(t *testing.T, c Clause) string {
	t.Helper()
	sqlText, err := CompileClause(context.Background(), c, nil)
	require.NoError(t, err)
	return sqlText
}

func TestCompileObjectOnlyClause(t *testing.T) {
	sqlText := compile(t, Clause{O: "<b>"})
	assert.Equal(t,
		fmt.Sprintf("(select distinct s from triples T0 where o = %s)", hash.SQL("<b>")),
		sqlText)
}

func TestCompileObjectOnlyBlankNode(t *testing.T) {
	sqlText := compile(t, Clause{O: "_:b0"})
	assert.Contains(t, sqlText, "where o = "+hash.SQL("_:b0"))
}

func TestCompilePredicateObjectClause(t *testing.T) {
	sqlText := compile(t, Clause{P: "<p>", O: "<c>"})
	assert.Equal(t,
		fmt.Sprintf("(select distinct s from triples T0 where p = %s and o = %s)", hash.SQL("<p>"), hash.SQL("<c>")),
		sqlText)
}

func TestCompilePredicateOnlyClause(t *testing.T) {
	sqlText := compile(t, Clause{P: "<p>"})
	assert.Equal(t,
		fmt.Sprintf("(select distinct s from triples T0 where p = %s)", hash.SQL("<p>")),
		sqlText)
}

func TestCompileMultiValuedObject(t *testing.T) {
	sqlText := compile(t, Clause{P: "<p>", O: "<b> <c>"})
	assert.Contains(t, sqlText, fmt.Sprintf("o in (%s, %s)", hash.SQL("<b>"), hash.SQL("<c>")))
}

func TestCompileGraphConstraint(t *testing.T) {
	sqlText := compile(t, Clause{P: "<p>", O: "<c>", G: "<g1> <g2>"})
	assert.Contains(t, sqlText, fmt.Sprintf("T0.g in (%s, %s)", hash.SQL("<g1>"), hash.SQL("<g2>")))
}

func TestCompileIDClause(t *testing.T) {
	sqlText := compile(t, Clause{P: "id", O: "<a>"})
	assert.Equal(t,
		fmt.Sprintf("(select distinct s from triples T0 where s = %s)", hash.SQL("<a>")),
		sqlText)
}

func TestCompileSampleClause(t *testing.T) {
	assert.Equal(t, "(select distinct s from triples T0 using sample 5)",
		compile(t, Clause{P: "id", O: "sample 5"}))
	assert.Equal(t, "(select distinct s from triples T0 using sample 1)",
		compile(t, Clause{P: "id", O: "random"}))
	// an unparsable count falls back to 1
	assert.Equal(t, "(select distinct s from triples T0 using sample 1)",
		compile(t, Clause{P: "id", O: "sample many"}))
}

func TestCompileSampleWithGraph(t *testing.T) {
	sqlText := compile(t, Clause{P: "id", O: "sample 2", G: "<g>"})
	assert.Equal(t,
		fmt.Sprintf("(select distinct s from triples T0 where true and T0.g in (%s) using sample 2)", hash.SQL("<g>")),
		sqlText)
}

func TestCompileRegexClause(t *testing.T) {
	sqlText := compile(t, Clause{P: "regex", O: "%fox%"})
	assert.Equal(t,
		"(select distinct T.s from triples T join literals L on T.o = L.hash where L.value similar to '%fox%')",
		sqlText)
}

func TestCompileRegexWithPropertyClause(t *testing.T) {
	sqlText := compile(t, Clause{P: "regex <label>", O: "%fox%"})
	assert.Contains(t, sqlText, "and T.p = "+hash.SQL("<label>"))
}

func TestCompileRegexQuotesPattern(t *testing.T) {
	sqlText := compile(t, Clause{P: "regex", O: "it's"})
	assert.Contains(t, sqlText, "similar to 'it''s'")
}

func TestCompileFTSClause(t *testing.T) {
	sqlText := compile(t, Clause{P: "fts", O: "quick brown"})
	assert.Contains(t, sqlText, "fts_main_literals.match_bm25(hash, 'quick brown', conjunctive:=1)")
	assert.Contains(t, sqlText, "select distinct T0.s")
	assert.Contains(t, sqlText, "on S.hash = T0.o")
}

func TestCompileFTSWithParentHops(t *testing.T) {
	sqlText := compile(t, Clause{P: "fts 2", O: "quick"})
	assert.Contains(t, sqlText, "select distinct T2.s")
	assert.Contains(t, sqlText, "join triples T1 on T0.s = T1.o")
	assert.Contains(t, sqlText, "join triples T2 on T1.s = T2.o")
}

func TestCompileFTSSClause(t *testing.T) {
	sqlText := compile(t, Clause{P: "ftss", O: "quick brown"})
	assert.Contains(t, sqlText, "fts_main_fts.match_bm25(s, 'quick brown', conjunctive:=1)")
	assert.NotContains(t, sqlText, "distinct T0")
}

func TestCompileScoreProjection(t *testing.T) {
	plain := compile(t, Clause{P: "fts", O: "quick"})
	scored := compile(t, Clause{P: "fts", O: "quick", withScore: true})
	assert.NotContains(t, plain, ", score ")
	assert.Contains(t, scored, ", score ")
}

func TestCompileSemanticRequiresEmbedder(t *testing.T) {
	_, err := CompileClause(context.Background(), Clause{P: "semantic", O: "animals"}, nil)
	assert.Error(t, err)
}

func TestCompileSemanticClause(t *testing.T) {
	embed := func(ctx context.Context, text string) (string, error) {
		assert.Equal(t, "animals", text)
		return "CAST([0.1, 0.2] AS FLOAT[2])", nil
	}
	sqlText, err := CompileClause(context.Background(), Clause{P: "semantic", O: "animals"}, embed)
	require.NoError(t, err)
	assert.Contains(t, sqlText, "array_cosine_distance(vec, CAST([0.1, 0.2] AS FLOAT[2]))")
	assert.Contains(t, sqlText, "distance < 0.5")
	assert.Contains(t, sqlText, "1/distance as score")
}

func TestCompileUnrecognizedClauseIsDropped(t *testing.T) {
	sqlText := compile(t, Clause{P: "nonsense", O: "whatever"})
	assert.Empty(t, sqlText)
	// a literal object with no predicate has no clause form either
	assert.Empty(t, compile(t, Clause{O: `"Alpha"`}))
}
