package ingest

import (
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/auditkit/invoice-ledger/internal/logging"
	"github.com/auditkit/invoice-ledger/internal/metrics"
	"github.com/auditkit/invoice-ledger/internal/normalize"
	"github.com/auditkit/invoice-ledger/internal/report"
	"github.com/auditkit/invoice-ledger/internal/shard"
	"github.com/auditkit/invoice-ledger/internal/sysmon"
	"github.com/auditkit/invoice-ledger/internal/table"
)

// processFile is one unit of work: open the workbook, ingest every
// routed sheet, isolate per-sheet failures. The whole file is marked
// failed only when it cannot be opened or every routed sheet errors.
func processFile(doc Document, schemas map[string]table.Schema, opts Options, handoff chan stagedChunk, log *slog.Logger) fileResult {
	fr := fileResult{rec: normalize.NewRecorder(opts.MaxFailureSamples)}
	file := baseName(doc.Path)
	log = logging.FileLogger(log, file)

	stream := sysmon.ShouldStream(doc.SizeBytes, opts.Sysmon)

	f, err := excelize.OpenFile(doc.Path)
	if err != nil {
		log.Warn("workbook open failed", "error", err)
		fr.failed = true
		fr.errors = append(fr.errors, report.NewError(file, "", report.StageRead, err))
		fr.manifest = append(fr.manifest, report.ManifestEntry{File: file, Err: "read-failed: " + err.Error()})
		return fr
	}
	defer f.Close()

	attempted, errored := 0, 0
	for _, sp := range doc.Sheets {
		entry := report.ManifestEntry{
			File:           file,
			Sheet:          sp.Name,
			Classification: sp.Class.String(),
			Destination:    sp.Target,
		}
		if sp.Target == "" {
			fr.manifest = append(fr.manifest, entry)
			continue
		}
		attempted++

		sheetStart := time.Now()
		rows, stage, err := ingestSheet(f, sp, schemas[sp.Target], file, stream, opts, handoff, fr.rec)
		if m := metrics.Get(); m != nil {
			m.ObserveSheetStageDuration(opts.Tag, time.Since(sheetStart).Seconds())
			if err == nil {
				m.IncSheetsStaged(opts.Tag, sp.Class.String())
				m.AddRowsStaged(opts.Tag, sp.Class.String(), float64(rows))
			}
		}
		if err != nil {
			errored++
			entry.Err = err.Error()
			fr.errors = append(fr.errors, report.NewError(file, sp.Name, stage, err))
			log.Warn("sheet failed", "sheet", sp.Name, "stage", stage, "error", err)
		} else {
			entry.Rows = rows
			log.Debug("sheet staged", "sheet", sp.Name, "destination", sp.Target, "rows", rows)
		}
		fr.manifest = append(fr.manifest, entry)
	}

	if attempted > 0 && errored == attempted {
		fr.failed = true
	}
	return fr
}

// ingestSheet stages one sheet. A batch read failure is retried once
// in streaming mode; that is the pipeline's only retry policy.
func ingestSheet(f *excelize.File, sp SheetPlan, schema table.Schema, file string, stream bool, opts Options, handoff chan stagedChunk, rec *normalize.Recorder) (int64, report.Stage, error) {
	if stream {
		return streamSheet(f, sp, schema, file, opts, rec)
	}

	raw, err := f.GetRows(sp.Name)
	if err != nil {
		return streamSheet(f, sp, schema, file, opts, rec)
	}
	if len(raw) <= 1 {
		return 0, "", nil
	}

	rows := convertRows(raw[1:], sp.Header, schema)
	normalize.Table(rows, schema, file, sp.Name, opts.ImportTime, opts.Normalize, rec)

	chunk := stagedChunk{
		family: sp.Family,
		target: sp.Target,
		file:   file,
		sheet:  sp.Name,
		schema: schema,
		rows:   rows,
	}
	if err := offerOrWrite(chunk, opts, handoff); err != nil {
		return 0, report.StageWrite, err
	}
	return int64(len(rows)), "", nil
}

// streamSheet reads the sheet row by row and writes the shard in
// bounded chunks.
func streamSheet(f *excelize.File, sp SheetPlan, schema table.Schema, file string, opts Options, rec *normalize.Recorder) (int64, report.Stage, error) {
	it, err := f.Rows(sp.Name)
	if err != nil {
		return 0, report.StageRead, err
	}
	defer it.Close()

	w, err := shard.NewWriter(opts.ShardDir, sp.Family, sp.Target, file, sp.Name, schema.Columns())
	if err != nil {
		return 0, report.StageWrite, err
	}

	var total int64
	raw := make([][]string, 0, opts.StreamChunkRows)
	flush := func() error {
		if len(raw) == 0 {
			return nil
		}
		rows := convertRows(raw, sp.Header, schema)
		normalize.Table(rows, schema, file, sp.Name, opts.ImportTime, opts.Normalize, rec)
		if err := w.Write(rows); err != nil {
			return err
		}
		total += int64(len(rows))
		raw = raw[:0]
		return nil
	}

	first := true
	for it.Next() {
		cols, err := it.Columns()
		if err != nil {
			w.Abort()
			return 0, report.StageRead, err
		}
		if first {
			first = false
			continue
		}
		raw = append(raw, cols)
		if len(raw) >= opts.StreamChunkRows {
			if err := flush(); err != nil {
				w.Abort()
				return 0, report.StageWrite, err
			}
		}
	}
	if err := it.Error(); err != nil {
		w.Abort()
		return 0, report.StageRead, err
	}
	if err := flush(); err != nil {
		w.Abort()
		return 0, report.StageWrite, err
	}
	if err := w.Close(); err != nil {
		return 0, report.StageWrite, err
	}
	return total, "", nil
}

// convertRows maps raw cell slices onto schema-ordered rows by header
// position. Empty cells become null; fully empty rows are dropped.
func convertRows(raw [][]string, header []string, schema table.Schema) []table.Row {
	pos := make([]int, len(header))
	for i, h := range header {
		pos[i] = schema.Index(h)
	}

	rows := make([]table.Row, 0, len(raw))
	for _, rr := range raw {
		row := table.NewRow(schema)
		empty := true
		for i, v := range rr {
			if i >= len(pos) {
				break
			}
			if p := pos[i]; p >= 0 && v != "" {
				row[p] = table.String(v)
				empty = false
			}
		}
		if empty {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}
