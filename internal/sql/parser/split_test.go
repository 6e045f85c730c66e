package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_Basic(t *testing.T) {
	got := Split("SELECT 1; SELECT 2;")
	require.Equal(t, []string{"SELECT 1", "SELECT 2"}, got)
}

func TestSplit_TrailingContentWithoutSemicolon(t *testing.T) {
	got := Split("SELECT 1; SELECT 2")
	require.Equal(t, []string{"SELECT 1", "SELECT 2"}, got)
}

func TestSplit_EmptyAndWhitespace(t *testing.T) {
	require.Empty(t, Split(""))
	require.Empty(t, Split("   \n\t"))
	require.Empty(t, Split(";;  ;"))
}

func TestSplit_SemicolonInSingleQuotes(t *testing.T) {
	got := Split("SELECT 'a;b'; SELECT 1;")
	require.Len(t, got, 2)
	assert.Equal(t, "SELECT 'a;b'", got[0])
	assert.Equal(t, "SELECT 1", got[1])
}

func TestSplit_DoubledQuoteEscape(t *testing.T) {
	got := Split("SELECT 'it''s; fine'; SELECT 2")
	require.Equal(t, []string{"SELECT 'it''s; fine'", "SELECT 2"}, got)
}

func TestSplit_QuotedIdentifier(t *testing.T) {
	got := Split(`SELECT "weird;name" FROM "t""x;"; SELECT 2`)
	require.Len(t, got, 2)
	assert.Equal(t, `SELECT "weird;name" FROM "t""x;"`, got[0])
}

func TestSplit_EscapeString(t *testing.T) {
	got := Split(`SELECT E'a\';b'; SELECT 2`)
	require.Len(t, got, 2)
	assert.Equal(t, `SELECT E'a\';b'`, got[0])
}

func TestSplit_BackslashOutsideEscapeString(t *testing.T) {
	// Standard strings treat backslash as a literal char.
	got := Split(`SELECT 'a\'; SELECT 2`)
	require.Equal(t, []string{`SELECT 'a\'`, "SELECT 2"}, got)
}

func TestSplit_DollarQuotedFunctionBody(t *testing.T) {
	sql := `CREATE FUNCTION f() RETURNS int AS $$
BEGIN
  PERFORM 1;
  RETURN 2;
END;
$$ LANGUAGE plpgsql;
SELECT f();
SELECT 3;`

	got := Split(sql)
	require.Len(t, got, 3)
	assert.True(t, strings.HasPrefix(got[0], "CREATE FUNCTION"))
	assert.True(t, strings.HasSuffix(got[0], "LANGUAGE plpgsql"))
	assert.Equal(t, "SELECT f()", got[1])
	assert.Equal(t, "SELECT 3", got[2])
}

func TestSplit_NestedDistinctDollarTags(t *testing.T) {
	sql := `DO $outer$ BEGIN EXECUTE $inner$ SELECT 1; SELECT 2; $inner$; END $outer$; SELECT 4`

	got := Split(sql)
	require.Len(t, got, 2)
	assert.True(t, strings.HasSuffix(got[0], "END $outer$"))
	assert.Equal(t, "SELECT 4", got[1])
}

func TestSplit_DollarTagMustMatchExactly(t *testing.T) {
	// $a$ does not close $ab$.
	got := Split(`SELECT $ab$ x $a$ ; y $ab$; SELECT 2`)
	require.Len(t, got, 2)
	assert.Equal(t, `SELECT $ab$ x $a$ ; y $ab$`, got[0])
}

func TestSplit_PositionalParametersAreNotDollarQuotes(t *testing.T) {
	got := Split(`SELECT $1, $2; SELECT $1`)
	require.Equal(t, []string{"SELECT $1, $2", "SELECT $1"}, got)
}

func TestSplit_DollarInsideIdentifier(t *testing.T) {
	got := Split(`SELECT a$b$c FROM t; SELECT 2`)
	require.Equal(t, []string{"SELECT a$b$c FROM t", "SELECT 2"}, got)
}

func TestSplit_LineComment(t *testing.T) {
	got := Split("SELECT 1 -- comment; more\n; SELECT 2")
	require.Len(t, got, 2)
	assert.Equal(t, "SELECT 1 -- comment; more", got[0])
	assert.Equal(t, "SELECT 2", got[1])
}

func TestSplit_BlockComment(t *testing.T) {
	got := Split("SELECT /* a; b */ 1; SELECT 2")
	require.Equal(t, []string{"SELECT /* a; b */ 1", "SELECT 2"}, got)
}

func TestSplit_NestedBlockComment(t *testing.T) {
	got := Split("SELECT /* outer /* inner; */ still comment; */ 1; SELECT 2")
	require.Len(t, got, 2)
	assert.Equal(t, "SELECT /* outer /* inner; */ still comment; */ 1", got[0])
}

func TestSplit_UnterminatedConstructsKeepContent(t *testing.T) {
	cases := []string{
		"SELECT 1; SELECT 'open; string",
		"SELECT 1; SELECT $$ open; body",
		"SELECT 1; SELECT /* open; comment",
		"SELECT 1; SELECT \"open; ident",
	}
	for _, sql := range cases {
		got := Split(sql)
		require.Len(t, got, 2, sql)
		assert.Equal(t, "SELECT 1", got[0])
		assert.Equal(t, strings.TrimSpace(sql[len("SELECT 1;"):]), got[1])
	}
}

func TestSplit_CountMatchesTopLevelSemicolons(t *testing.T) {
	sql := "INSERT INTO t VALUES ('x;y'); /* ; */ UPDATE t SET a = $q$;$q$; DELETE FROM t -- ;\n;"
	require.Len(t, Split(sql), 3)
	require.Len(t, Split(sql+" SELECT 1"), 4)
}

func TestStatementComplete(t *testing.T) {
	assert.True(t, StatementComplete("SELECT 1;"))
	assert.True(t, StatementComplete("SELECT 1;  \n"))
	assert.True(t, StatementComplete("SELECT 1; -- done"))
	assert.True(t, StatementComplete("SELECT 1; /* done */"))
	assert.False(t, StatementComplete("SELECT 1"))
	assert.False(t, StatementComplete("SELECT 'a;"))
	assert.False(t, StatementComplete("SELECT 1; SELECT 2"))
	assert.False(t, StatementComplete("CREATE FUNCTION f() AS $$ BEGIN; "))
	assert.False(t, StatementComplete(""))
}
