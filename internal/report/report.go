// Package report writes the run's exports: the sheet manifest, the run
// summary, cast statistics, failure samples, the error log and the
// duplicate exports. Everything goes through a blob bucket so the
// report target stays portable between a local directory and an object
// store.
package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"

	"github.com/auditkit/invoice-ledger/internal/logging"
)

// ManifestEntry is one sheet's ingestion outcome.
type ManifestEntry struct {
	File           string
	Sheet          string
	Classification string
	Destination    string
	Rows           int64
	Err            string
}

// Summary is the run-level outcome record. A run with zero rows and a
// run with errors are distinct, inspectable results.
type Summary struct {
	RunID          string
	CompanyTag     string
	StartedAt      time.Time
	FinishedAt     time.Time
	TotalFiles     int
	FilesProcessed int
	ScanFailed     int
	ReadFailed     int
	RowsMerged     int64
	ErrorCount     int
}

// LedgerEntry is one rebuilt partition in the ledger manifest.
type LedgerEntry struct {
	Year        string
	Type        string
	RowsFetched int64
	RowsKept    int64
	RowsDropped int64
}

// Writer owns the report bucket for one run. Keys are prefixed with
// the run ID.
type Writer struct {
	bucket *blob.Bucket
	prefix string
}

// NewWriter opens (or creates) a fileblob bucket rooted at dir.
func NewWriter(ctx context.Context, dir, runID string) (*Writer, error) {
	bucket, err := fileblob.OpenBucket(dir, &fileblob.Options{CreateDir: true})
	if err != nil {
		return nil, fmt.Errorf("opening report bucket %s: %w", dir, err)
	}
	return &Writer{bucket: bucket, prefix: runID + "/"}, nil
}

// Close releases the bucket.
func (w *Writer) Close() error {
	return w.bucket.Close()
}

// writeCSV streams records into one bucket object.
func (w *Writer) writeCSV(ctx context.Context, key string, header []string, records [][]string) error {
	bw, err := w.bucket.NewWriter(ctx, w.prefix+key, nil)
	if err != nil {
		return fmt.Errorf("creating report object %s: %w", key, err)
	}
	cw := csv.NewWriter(bw)
	if err := cw.Write(header); err != nil {
		bw.Close()
		return fmt.Errorf("writing report %s: %w", key, err)
	}
	for _, rec := range records {
		if err := cw.Write(rec); err != nil {
			bw.Close()
			return fmt.Errorf("writing report %s: %w", key, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		bw.Close()
		return fmt.Errorf("flushing report %s: %w", key, err)
	}
	if err := bw.Close(); err != nil {
		return fmt.Errorf("closing report %s: %w", key, err)
	}
	return nil
}

// WriteManifest exports the sheet-level manifest.
func (w *Writer) WriteManifest(ctx context.Context, entries []ManifestEntry) error {
	records := make([][]string, len(entries))
	for i, e := range entries {
		records[i] = []string{e.File, e.Sheet, e.Classification, e.Destination, strconv.FormatInt(e.Rows, 10), e.Err}
	}
	return w.writeCSV(ctx, "manifest.csv",
		[]string{"file", "sheet", "classification", "destination", "rows", "error"}, records)
}

// WriteSummary exports the run summary.
func (w *Writer) WriteSummary(ctx context.Context, s Summary) error {
	record := []string{
		s.RunID,
		s.CompanyTag,
		s.StartedAt.Format(time.RFC3339),
		s.FinishedAt.Format(time.RFC3339),
		strconv.Itoa(s.TotalFiles),
		strconv.Itoa(s.FilesProcessed),
		strconv.Itoa(s.ScanFailed),
		strconv.Itoa(s.ReadFailed),
		strconv.FormatInt(s.RowsMerged, 10),
		strconv.Itoa(s.ErrorCount),
	}
	return w.writeCSV(ctx, "summary.csv",
		[]string{"run_id", "company_tag", "started_at", "finished_at", "total_files", "files_processed", "scan_failed", "read_failed", "rows_merged", "errors"},
		[][]string{record})
}

// WriteLedgerManifest exports one line per rebuilt partition.
func (w *Writer) WriteLedgerManifest(ctx context.Context, entries []LedgerEntry) error {
	records := make([][]string, len(entries))
	for i, e := range entries {
		records[i] = []string{
			e.Year, e.Type,
			strconv.FormatInt(e.RowsFetched, 10),
			strconv.FormatInt(e.RowsKept, 10),
			strconv.FormatInt(e.RowsDropped, 10),
		}
	}
	return w.writeCSV(ctx, "ledger_manifest.csv",
		[]string{"year", "type", "rows_fetched", "rows_kept", "rows_dropped"}, records)
}

// WriteErrorLog exports the error records as CSV and as JSON.
func (w *Writer) WriteErrorLog(ctx context.Context, errs []ErrorRecord) error {
	records := make([][]string, len(errs))
	for i, e := range errs {
		records[i] = []string{e.File, e.Sheet, string(e.Stage), e.Message, e.Remedy}
	}
	if err := w.writeCSV(ctx, "errors.csv",
		[]string{"file", "sheet", "stage", "message", "remedy"}, records); err != nil {
		return err
	}

	data, err := json.MarshalIndent(errs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling error log: %w", err)
	}
	if err := w.bucket.WriteAll(ctx, w.prefix+"errors.json", data, nil); err != nil {
		return fmt.Errorf("writing errors.json: %w", err)
	}
	return nil
}

// WriteAll writes every standard report, logging and continuing on
// individual failures. Reports are a non-critical subsystem; a broken
// report target never fails the run.
func (w *Writer) WriteAll(ctx context.Context, manifest []ManifestEntry, summary Summary, ledger []LedgerEntry, errs []ErrorRecord) {
	log := logging.Component("report")
	if err := w.WriteManifest(ctx, manifest); err != nil {
		log.Warn("manifest export failed", "error", err)
	}
	if err := w.WriteSummary(ctx, summary); err != nil {
		log.Warn("summary export failed", "error", err)
	}
	if len(ledger) > 0 {
		if err := w.WriteLedgerManifest(ctx, ledger); err != nil {
			log.Warn("ledger manifest export failed", "error", err)
		}
	}
	if err := w.WriteErrorLog(ctx, errs); err != nil {
		log.Warn("error log export failed", "error", err)
	}
}
