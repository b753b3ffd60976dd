package ingest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/auditkit/invoice-ledger/internal/logging"
	"github.com/auditkit/invoice-ledger/internal/normalize"
	"github.com/auditkit/invoice-ledger/internal/report"
	"github.com/auditkit/invoice-ledger/internal/store"
	"github.com/auditkit/invoice-ledger/internal/sysmon"
)

// RunSequential imports files one at a time, writing straight into the
// staging tables inside one transaction per file. Any unhandled error
// rolls the whole file back; this is stricter atomicity than the
// parallel shard path, traded against throughput.
func RunSequential(ctx context.Context, plan Plan, st *store.Store, opts Options) (Result, error) {
	log := logging.Component("ingest")
	result := Result{Recorder: normalize.NewRecorder(opts.MaxFailureSamples)}

	if opts.StreamChunkRows <= 0 {
		opts.StreamChunkRows = sysmon.DynamicChunkSize(10000)
	}
	if opts.InsertChunkRows <= 0 {
		opts.InsertChunkRows = 1000
	}

	// Staging tables are created up front so a rolled-back file does
	// not take the DDL down with it.
	for target, schema := range plan.Schemas {
		if err := store.CreateTable(ctx, st.DB(), target, schema.Columns()); err != nil {
			return result, err
		}
	}

	for _, doc := range plan.Documents {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("sequential ingestion cancelled: %w", err)
		}
		file := baseName(doc.Path)

		local := fileResult{rec: normalize.NewRecorder(opts.MaxFailureSamples)}
		err := st.WithTx(ctx, func(tx *sql.Tx) error {
			return importFileTx(ctx, tx, doc, plan, file, opts, &local)
		})
		if err != nil {
			log.Warn("file rolled back", "file", file, "error", err)
			result.FilesFailed++
			result.Errors = append(result.Errors, report.NewError(file, "", report.StageTransaction, err))
			result.Manifest = append(result.Manifest, report.ManifestEntry{File: file, Err: "rolled back: " + err.Error()})
			continue
		}
		result.FilesProcessed++
		if local.failed {
			result.FilesProcessed--
			result.FilesFailed++
		}
		result.Manifest = append(result.Manifest, local.manifest...)
		result.Errors = append(result.Errors, local.errors...)
		result.Recorder.Merge(local.rec)
	}
	return result, nil
}

// importFileTx runs the per-sheet logic of processFile but inserts
// directly through tx. Sheet read/cast failures stay isolated; insert
// failures poison the transaction and bubble up.
func importFileTx(ctx context.Context, tx *sql.Tx, doc Document, plan Plan, file string, opts Options, fr *fileResult) error {
	f, err := excelize.OpenFile(doc.Path)
	if err != nil {
		fr.failed = true
		fr.errors = append(fr.errors, report.NewError(file, "", report.StageRead, err))
		fr.manifest = append(fr.manifest, report.ManifestEntry{File: file, Err: "read-failed: " + err.Error()})
		return nil
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

		schema := plan.Schemas[sp.Target]
		raw, err := f.GetRows(sp.Name)
		if err != nil {
			errored++
			entry.Err = err.Error()
			fr.errors = append(fr.errors, report.NewError(file, sp.Name, report.StageRead, err))
			fr.manifest = append(fr.manifest, entry)
			continue
		}
		if len(raw) > 1 {
			rows := convertRows(raw[1:], sp.Header, schema)
			normalize.Table(rows, schema, file, sp.Name, opts.ImportTime, opts.Normalize, fr.rec)
			if err := store.InsertRows(ctx, tx, sp.Target, schema.Columns(), rows, opts.InsertChunkRows); err != nil {
				return err
			}
			entry.Rows = int64(len(rows))
		}
		fr.manifest = append(fr.manifest, entry)
	}

	if attempted > 0 && errored == attempted {
		fr.failed = true
	}
	return nil
}
