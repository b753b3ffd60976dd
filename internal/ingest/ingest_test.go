package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/auditkit/invoice-ledger/internal/fileval"
	"github.com/auditkit/invoice-ledger/internal/shard"
	"github.com/auditkit/invoice-ledger/internal/sysmon"
	"github.com/auditkit/invoice-ledger/internal/table"
)

// batchOnlySysmon makes the streaming decision deterministic: never.
func batchOnlySysmon() sysmon.Options {
	return sysmon.Options{
		LargeFileMB:         1 << 20,
		StreamSwitchPercent: 101,
		AvailableFraction:   1 << 20,
	}
}

// streamAlwaysSysmon forces streaming for every non-empty file.
func streamAlwaysSysmon() sysmon.Options {
	o := batchOnlySysmon()
	o.LargeFileMB = 0
	return o
}

func writeWorkbook(t *testing.T, path string, sheets map[string][][]string) {
	t.Helper()
	f := excelize.NewFile()
	first := true
	for name, rows := range sheets {
		if first {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				t.Fatal(err)
			}
			first = false
		} else {
			if _, err := f.NewSheet(name); err != nil {
				t.Fatal(err)
			}
		}
		for i, row := range rows {
			cells := make([]any, len(row))
			for j, v := range row {
				cells[j] = v
			}
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				t.Fatal(err)
			}
			if err := f.SetSheetRow(name, cell, &cells); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
}

func scanFiles(t *testing.T, dir string) []fileval.Result {
	t.Helper()
	accepted, failed, err := fileval.Scan(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) > 0 {
		t.Fatalf("unexpected validation failures: %v", failed)
	}
	return accepted
}

func detailSheet(n int) [][]string {
	rows := [][]string{{"发票代码", "发票号码", "开票日期", "金额"}}
	for i := 0; i < n; i++ {
		rows = append(rows, []string{"C1", fmt.Sprintf("%03d", i+1), "2023-05-01", "100"})
	}
	return rows
}

func defaultOpts(shardDir string) Options {
	return Options{
		Tag:               "ACME",
		ShardDir:          shardDir,
		ImportTime:        "2026-08-30 00:00:00",
		Workers:           2,
		StreamChunkRows:   5,
		MaxFailureSamples: 100,
		Sysmon:            batchOnlySysmon(),
	}
}

func TestPreScanDropsBlankHeaderColumns(t *testing.T) {
	dir := t.TempDir()
	// Trailing formatted-but-blank cells read back as empty header
	// names and must not become staging columns.
	writeWorkbook(t, filepath.Join(dir, "a.xlsx"), map[string][][]string{
		"明细": {
			{"发票代码", "", "金额", "  "},
			{"C1", "x", "100", "y"},
		},
	})

	plan := PreScan(scanFiles(t, dir), "ACME", slog.Default())
	schema, ok := plan.Schemas[table.TransitTable("ACME")]
	if !ok {
		t.Fatal("no transit schema")
	}
	for _, name := range []string{"", "  "} {
		if schema.Has(name) {
			t.Errorf("blank header %q became a column", name)
		}
	}
	for _, want := range []string{"发票代码", "金额"} {
		if !schema.Has(want) {
			t.Errorf("schema missing %s", want)
		}
	}
}

func TestRunStagesSheetsIntoShards(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, filepath.Join(dir, "a.xlsx"), map[string][][]string{
		"明细":     detailSheet(3),
		"信息汇总":   {{"发票代码", "发票号码", "货物或应税劳务名称"}, {"C1", "001", "货物"}},
		"发票基础信息": {{"发票代码", "发票号码"}, {"C1", "001"}},
		"notes":  {{"whatever"}, {"x"}},
	})
	writeWorkbook(t, filepath.Join(dir, "b.xlsx"), map[string][][]string{
		"明细": detailSheet(2),
	})

	plan := PreScan(scanFiles(t, dir), "ACME", slog.Default())
	if len(plan.Documents) != 2 {
		t.Fatalf("documents = %d, want 2", len(plan.Documents))
	}
	if len(plan.ScanFailed) != 0 {
		t.Fatalf("scan failed: %v", plan.ScanFailed)
	}

	transit := table.TransitTable("ACME")
	schema, ok := plan.Schemas[transit]
	if !ok {
		t.Fatalf("no schema for %s", transit)
	}
	for _, want := range []string{"发票代码", table.ColInvoiceYear, table.ColAuditSrcFile, table.ColAuditImportTime} {
		if !schema.Has(want) {
			t.Errorf("transit schema missing %s", want)
		}
	}

	shardDir := t.TempDir()
	res, err := Run(context.Background(), plan, defaultOpts(shardDir))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FilesProcessed != 2 || res.FilesFailed != 0 {
		t.Errorf("processed=%d failed=%d", res.FilesProcessed, res.FilesFailed)
	}

	// Ignored sheet appears in the manifest without a destination.
	var ignored, staged int
	var totalRows int64
	for _, e := range res.Manifest {
		if e.Destination == "" && e.Err == "" {
			ignored++
		}
		if e.Destination != "" && e.Err == "" {
			staged++
			totalRows += e.Rows
		}
	}
	if ignored != 1 {
		t.Errorf("ignored sheets = %d, want 1", ignored)
	}
	if staged != 4 {
		t.Errorf("staged sheets = %d, want 4", staged)
	}
	if totalRows != 7 {
		t.Errorf("total rows = %d, want 7", totalRows)
	}

	paths, err := shard.List(shardDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 4 {
		t.Errorf("shards = %d, want 4", len(paths))
	}
}

func TestPartialFailureContainment(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, filepath.Join(dir, "a.xlsx"), map[string][][]string{
		"明细": detailSheet(3),
	})

	plan := PreScan(scanFiles(t, dir), "ACME", slog.Default())
	// Simulate stale pre-scan metadata: one planned sheet is gone from
	// the workbook by ingest time.
	doc := &plan.Documents[0]
	doc.Sheets = append(doc.Sheets, SheetPlan{
		Name:   "ghost",
		Header: []string{"发票代码"},
		Family: shard.FamilyHeader,
		Target: table.HeaderTable("ACME"),
	})

	res, err := Run(context.Background(), plan, defaultOpts(t.TempDir()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var good, bad int
	for _, e := range res.Manifest {
		switch {
		case e.Err != "":
			bad++
		case e.Destination != "":
			good++
		}
	}
	if good != 1 || bad != 1 {
		t.Errorf("good=%d bad=%d, want 1 and 1", good, bad)
	}
	if res.FilesFailed != 0 {
		t.Errorf("one bad sheet must not fail the file")
	}
	if len(res.Errors) != 1 {
		t.Errorf("errors = %v, want exactly one", res.Errors)
	}
}

func TestFileLevelFailureDoesNotStopOthers(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, filepath.Join(dir, "good.xlsx"), map[string][][]string{
		"明细": detailSheet(2),
	})

	plan := PreScan(scanFiles(t, dir), "ACME", slog.Default())
	// A document whose file vanished between pre-scan and ingest.
	plan.Documents = append(plan.Documents, Document{
		Path: filepath.Join(dir, "vanished.xlsx"),
		Sheets: []SheetPlan{{
			Name:   "明细",
			Header: []string{"发票代码"},
			Family: shard.FamilyTransit,
			Target: table.TransitTable("ACME"),
		}},
	})

	res, err := Run(context.Background(), plan, defaultOpts(t.TempDir()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FilesProcessed != 1 || res.FilesFailed != 1 {
		t.Errorf("processed=%d failed=%d, want 1 and 1", res.FilesProcessed, res.FilesFailed)
	}
}

// collectShardRows reads every shard back as sorted row strings.
func collectShardRows(t *testing.T, shardDir string) []string {
	t.Helper()
	paths, err := shard.List(shardDir)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, p := range paths {
		desc, err := shard.ReadDescriptor(p)
		if err != nil {
			t.Fatal(err)
		}
		err = shard.ReadBatches(p, desc, 100, func(batch []table.Row) error {
			for _, row := range batch {
				s := ""
				for i, c := range desc.Columns {
					if row[i].Valid {
						s += c + "=" + row[i].Value + ";"
					} else {
						s += c + "=<null>;"
					}
				}
				out = append(out, s)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	sort.Strings(out)
	return out
}

func TestStreamingBatchEquivalence(t *testing.T) {
	dir := t.TempDir()
	rows := detailSheet(12)
	rows = append(rows, []string{"C1", "013", "not-a-date", "oops"})
	writeWorkbook(t, filepath.Join(dir, "a.xlsx"), map[string][][]string{"明细": rows})

	run := func(sm sysmon.Options) []string {
		shardDir := t.TempDir()
		plan := PreScan(scanFiles(t, dir), "ACME", slog.Default())
		opts := defaultOpts(shardDir)
		opts.Sysmon = sm
		opts.StreamChunkRows = 4
		res, err := Run(context.Background(), plan, opts)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.FilesFailed != 0 {
			t.Fatalf("unexpected failures: %v", res.Errors)
		}
		return collectShardRows(t, shardDir)
	}

	batch := run(batchOnlySysmon())
	streamed := run(streamAlwaysSysmon())

	if len(batch) != len(streamed) {
		t.Fatalf("row counts differ: batch=%d streamed=%d", len(batch), len(streamed))
	}
	for i := range batch {
		if batch[i] != streamed[i] {
			t.Errorf("row %d differs:\nbatch:  %s\nstream: %s", i, batch[i], streamed[i])
		}
	}
}
