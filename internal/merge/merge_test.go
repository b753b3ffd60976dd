package merge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/auditkit/invoice-ledger/internal/report"
	"github.com/auditkit/invoice-ledger/internal/shard"
	"github.com/auditkit/invoice-ledger/internal/store"
	"github.com/auditkit/invoice-ledger/internal/table"
)

func openTest(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeTestShard(t *testing.T, dir, family, target string, cols []string, rows []table.Row) string {
	t.Helper()
	w, err := shard.NewWriter(dir, family, target, "src.xlsx", "sheet", cols)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(rows); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return w.Path()
}

func TestMergeGroupsByDestination(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	dir := t.TempDir()
	tag := "ACME"

	transitCols := []string{"发票代码", "发票号码"}
	headerCols := []string{"发票代码", "备注"}
	writeTestShard(t, dir, shard.FamilyTransit, table.TransitTable(tag), transitCols, []table.Row{
		{table.String("C1"), table.String("001")},
		{table.String("C1"), table.String("002")},
	})
	writeTestShard(t, dir, shard.FamilyTransit, table.TransitTable(tag), transitCols, []table.Row{
		{table.String("C2"), table.String("003")},
	})
	writeTestShard(t, dir, shard.FamilyHeader, table.HeaderTable(tag), headerCols, []table.Row{
		{table.String("C1"), table.Null},
	})

	schemas := map[string]table.Schema{
		table.TransitTable(tag): table.NewSchema(transitCols),
		table.HeaderTable(tag):  table.NewSchema(headerCols),
	}

	res, err := Run(ctx, st, dir, tag, schemas, 100)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("errors: %v", res.Errors)
	}
	if res.TablesMerged != 2 {
		t.Errorf("tables merged = %d, want 2", res.TablesMerged)
	}

	n, err := st.Count(ctx, table.TransitTable(tag))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("transit rows = %d, want 3", n)
	}
	n, _ = st.Count(ctx, table.HeaderTable(tag))
	if n != 1 {
		t.Errorf("header rows = %d, want 1", n)
	}
}

func TestChunkFailureSkippedGroupCommits(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	dir := t.TempDir()
	tag := "ACME"
	target := table.TransitTable(tag)

	// Pre-create the destination with a NOT NULL column so rows leaving
	// it null fail, while complete rows insert fine.
	_, err := st.DB().ExecContext(ctx,
		`CREATE TABLE "`+target+`" ("发票代码" TEXT, "发票号码" TEXT NOT NULL)`)
	if err != nil {
		t.Fatal(err)
	}

	cols := []string{"发票代码", "发票号码"}
	writeTestShard(t, dir, shard.FamilyTransit, target, cols, []table.Row{
		{table.String("C1"), table.Null},
	})
	writeTestShard(t, dir, shard.FamilyTransit, target, cols, []table.Row{
		{table.String("C2"), table.String("002")},
	})

	schemas := map[string]table.Schema{target: table.NewSchema(cols)}
	res, err := Run(ctx, st, dir, tag, schemas, 100)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The bad chunk is recorded, the good one lands, the group commits.
	if len(res.Errors) != 1 || res.Errors[0].Stage != report.StageMerge {
		t.Fatalf("errors = %v, want one merge-stage record", res.Errors)
	}
	if res.TablesMerged != 1 {
		t.Errorf("tables merged = %d, want 1", res.TablesMerged)
	}
	n, _ := st.Count(ctx, target)
	if n != 1 {
		t.Errorf("rows = %d, want 1 surviving row", n)
	}
}

func TestResolveTargetFallbacks(t *testing.T) {
	tag := "ACME"
	schemas := map[string]table.Schema{
		table.HeaderTable(tag):  table.NewSchema([]string{"发票代码", "备注"}),
		table.TransitTable(tag): table.NewSchema([]string{"发票代码", "数量"}),
	}

	// Prefix wins.
	got := resolveTarget("/tmp/HEADER__abc.parquet", shard.Descriptor{}, tag, schemas)
	if got != table.HeaderTable(tag) {
		t.Errorf("prefix routing = %q", got)
	}

	// Descriptor wins when the prefix is unknown.
	got = resolveTarget("/tmp/WEIRD__abc.parquet", shard.Descriptor{Table: "ODS_ACME_HEADER"}, tag, schemas)
	if got != "ODS_ACME_HEADER" {
		t.Errorf("descriptor routing = %q", got)
	}

	// Column overlap when prefix and descriptor table are both absent.
	got = resolveTarget("/tmp/noprefix.parquet", shard.Descriptor{Columns: []string{"发票代码", "备注"}}, tag, schemas)
	if got != table.HeaderTable(tag) {
		t.Errorf("overlap routing = %q", got)
	}

	// Nothing matches: transit fallback.
	got = resolveTarget("/tmp/noprefix.parquet", shard.Descriptor{Columns: []string{"zzz"}}, tag, nil)
	if got != table.TransitTable(tag) {
		t.Errorf("fallback routing = %q", got)
	}
}

func TestSidecarlessShardSkipped(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	dir := t.TempDir()
	tag := "ACME"
	target := table.TransitTable(tag)
	cols := []string{"发票代码", "发票号码"}

	writeTestShard(t, dir, shard.FamilyTransit, target, cols, []table.Row{
		{table.String("C1"), table.String("001")},
	})
	orphan := writeTestShard(t, dir, shard.FamilyTransit, target, cols, []table.Row{
		{table.String("C2"), table.String("002")},
	})
	// Without the sidecar the parquet column order cannot be trusted.
	if err := os.Remove(strings.TrimSuffix(orphan, ".parquet") + ".json"); err != nil {
		t.Fatal(err)
	}

	schemas := map[string]table.Schema{target: table.NewSchema(cols)}
	res, err := Run(ctx, st, dir, tag, schemas, 100)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Errors) != 1 || res.Errors[0].Stage != report.StageMerge {
		t.Fatalf("errors = %v, want one merge-stage record", res.Errors)
	}
	if res.Errors[0].File != filepath.Base(orphan) {
		t.Errorf("error names %q, want %q", res.Errors[0].File, filepath.Base(orphan))
	}
	n, err := st.Count(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want only the shard with a sidecar", n)
	}
}

func TestCleanupRemovesShardDir(t *testing.T) {
	dir := t.TempDir()
	writeTestShard(t, dir, shard.FamilyTransit, "T", []string{"a"}, []table.Row{{table.String("1")}})

	if err := Cleanup(dir); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("shard dir still present")
	}
}
