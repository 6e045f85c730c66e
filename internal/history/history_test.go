package history

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/willibrandon/tusk-sub004/internal/sql/executor"
)

func entry(sql string, status executor.Status) executor.HistoryEntry {
	return executor.HistoryEntry{
		ConnectionID: "main",
		SQL:          sql,
		ElapsedMS:    12,
		Status:       status,
		Statements:   1,
		At:           time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecorder_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.jsonl")

	r, err := Open(path, 10)
	require.NoError(t, err)
	require.Empty(t, r.Recent(0))

	require.NoError(t, r.Record(context.Background(), entry("SELECT 1", executor.StatusSuccess)))
	require.NoError(t, r.Record(context.Background(), entry("SELEC 2", executor.StatusError)))

	reloaded, err := Open(path, 10)
	require.NoError(t, err)
	got := reloaded.Recent(0)
	require.Len(t, got, 2)
	require.Equal(t, "SELECT 1", got[0].SQL)
	require.Equal(t, executor.StatusError, got[1].Status)
	require.True(t, got[0].At.Equal(entry("", "").At))
}

func TestRecorder_KeepsNewest(t *testing.T) {
	r, err := Open("", 3)
	require.NoError(t, err)

	for _, s := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, r.Record(context.Background(), entry(s, executor.StatusSuccess)))
	}

	got := r.Recent(0)
	require.Len(t, got, 3)
	require.Equal(t, "c", got[0].SQL)
	require.Equal(t, "e", got[2].SQL)

	last := r.Recent(1)
	require.Len(t, last, 1)
	require.Equal(t, "e", last[0].SQL)
}

func TestRecorder_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n{\"sql\":\"SELECT 1\",\"status\":\"success\"}\n"), 0o644))

	r, err := Open(path, 0)
	require.NoError(t, err)
	got := r.Recent(0)
	require.Len(t, got, 1)
	require.Equal(t, "SELECT 1", got[0].SQL)
}

func TestLines_AppendLoadPrint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tusk_history")

	h := NewLines(path)
	require.NoError(t, h.Load(10))
	require.NoError(t, h.Append("SELECT *\n  FROM   t;"))
	require.NoError(t, h.Append("   "))
	require.NoError(t, h.Append("SELECT 2;"))

	h2 := NewLines(path)
	require.NoError(t, h2.Load(1))
	require.Equal(t, []string{"SELECT 2;"}, h2.All())

	var buf bytes.Buffer
	h.Print(&buf, 0)
	require.Equal(t, "    1  SELECT * FROM t;\n    2  SELECT 2;\n", buf.String())
}

func TestCompactOneLine(t *testing.T) {
	require.Equal(t, "a b c", CompactOneLine("  a\r\n\tb   c \n"))
	require.Equal(t, "", CompactOneLine(" \n "))
}
