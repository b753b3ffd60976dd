// Package ingest fans workbook files out to a worker pool. Each worker
// classifies, normalizes and shard-writes its file's sheets on its own;
// the database is never touched in parallel mode. Failures are isolated
// per sheet, then per file, and never stop the run.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/auditkit/invoice-ledger/internal/logging"
	"github.com/auditkit/invoice-ledger/internal/normalize"
	"github.com/auditkit/invoice-ledger/internal/report"
	"github.com/auditkit/invoice-ledger/internal/shard"
	"github.com/auditkit/invoice-ledger/internal/sysmon"
	"github.com/auditkit/invoice-ledger/internal/table"
)

// Options carries the per-run ingestion settings, copied into every
// worker.
type Options struct {
	Tag               string
	ShardDir          string
	ImportTime        string
	Workers           int
	StreamChunkRows   int
	InsertChunkRows   int
	MaxFailureSamples int
	Normalize         normalize.Options
	Sysmon            sysmon.Options
	// HandoffTimeout bounds the offer of a built table to the shared
	// shard writer; past it the worker writes its own shard. Zero
	// disables the hand-off entirely.
	HandoffTimeout time.Duration
}

// Result is the merged outcome of an ingestion run.
type Result struct {
	Manifest       []report.ManifestEntry
	Errors         []report.ErrorRecord
	Recorder       *normalize.Recorder
	FilesProcessed int
	FilesFailed    int
}

// fileResult is one worker's private accumulation for one file,
// merged unordered by the collector.
type fileResult struct {
	manifest []report.ManifestEntry
	errors   []report.ErrorRecord
	rec      *normalize.Recorder
	failed   bool
}

// stagedChunk is a fully normalized sheet offered over the hand-off
// channel to the shared shard writer.
type stagedChunk struct {
	family, target string
	file, sheet    string
	schema         table.Schema
	rows           []table.Row
}

// Run ingests every planned document through a worker pool and merges
// the per-worker accumulations as they complete. Row-level and
// sheet-level failures come back inside the Result; only a cancelled
// context returns an error.
func Run(ctx context.Context, plan Plan, opts Options) (Result, error) {
	log := logging.Component("ingest")
	result := Result{Recorder: normalize.NewRecorder(opts.MaxFailureSamples)}

	if opts.StreamChunkRows <= 0 {
		opts.StreamChunkRows = sysmon.DynamicChunkSize(10000)
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	tasks := make(chan Document, workers*2)
	results := make(chan fileResult, workers*2)

	// Shared shard writer behind the bounded hand-off channel. Workers
	// that cannot offer a chunk within the timeout fall back to writing
	// their own shard.
	var handoff chan stagedChunk
	var consumerErrs []report.ErrorRecord
	var consumerWG sync.WaitGroup
	if opts.HandoffTimeout > 0 {
		handoff = make(chan stagedChunk, 1)
		consumerWG.Add(1)
		go func() {
			defer consumerWG.Done()
			for chunk := range handoff {
				if err := writeShard(opts.ShardDir, chunk); err != nil {
					consumerErrs = append(consumerErrs, report.NewError(chunk.file, chunk.sheet, report.StageWrite, err))
				}
			}
		}()
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			wlog := logging.WorkerLogger(workerID)
			for doc := range tasks {
				select {
				case <-ctx.Done():
					return
				default:
				}
				results <- processFile(doc, plan.Schemas, opts, handoff, wlog)
			}
		}(i)
	}

	go func() {
		defer close(tasks)
		for _, doc := range plan.Documents {
			select {
			case <-ctx.Done():
				return
			case tasks <- doc:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	collected := 0
	for fr := range results {
		collected++
		result.Manifest = append(result.Manifest, fr.manifest...)
		result.Errors = append(result.Errors, fr.errors...)
		result.Recorder.Merge(fr.rec)
		if fr.failed {
			result.FilesFailed++
		} else {
			result.FilesProcessed++
		}
	}

	if handoff != nil {
		close(handoff)
		consumerWG.Wait()
		result.Errors = append(result.Errors, consumerErrs...)
	}

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("ingestion cancelled after %d files: %w", collected, err)
	}
	log.Info("ingestion complete",
		"files_processed", result.FilesProcessed,
		"files_failed", result.FilesFailed,
		"sheets", len(result.Manifest),
	)
	return result, nil
}

// offerOrWrite tries the bounded hand-off first and degrades to
// writing the worker's own shard.
func offerOrWrite(chunk stagedChunk, opts Options, handoff chan stagedChunk) error {
	if handoff != nil {
		timer := time.NewTimer(opts.HandoffTimeout)
		defer timer.Stop()
		select {
		case handoff <- chunk:
			return nil
		case <-timer.C:
		}
	}
	return writeShard(opts.ShardDir, chunk)
}

func writeShard(dir string, chunk stagedChunk) error {
	w, err := shard.NewWriter(dir, chunk.family, chunk.target, chunk.file, chunk.sheet, chunk.schema.Columns())
	if err != nil {
		return err
	}
	if err := w.Write(chunk.rows); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}

func baseName(path string) string {
	return filepath.Base(path)
}
