package report

import (
	"context"
	"strconv"

	"github.com/auditkit/invoice-ledger/internal/normalize"
)

// WriteCastStats exports the per-column conversion statistics.
func (w *Writer) WriteCastStats(ctx context.Context, stats []normalize.CastStat) error {
	records := make([][]string, len(stats))
	for i, s := range stats {
		records[i] = []string{
			s.File, s.Sheet, s.Column, s.Method,
			strconv.Itoa(s.Total), strconv.Itoa(s.Converted), strconv.Itoa(s.Failed),
		}
	}
	return w.writeCSV(ctx, "cast_stats.csv",
		[]string{"file", "sheet", "column", "method", "total", "converted", "failed"}, records)
}

// WriteFailureSamples exports the bounded per-column failure samples
// with their invoice context.
func (w *Writer) WriteFailureSamples(ctx context.Context, samples []normalize.FailureSample) error {
	records := make([][]string, len(samples))
	for i, s := range samples {
		records[i] = []string{
			s.File, s.Sheet, s.Column, strconv.Itoa(s.RowIndex),
			s.OrigValue, s.InvoiceCode, s.InvoiceNumber,
		}
	}
	return w.writeCSV(ctx, "failure_samples.csv",
		[]string{"file", "sheet", "column", "row", "value", "invoice_code", "invoice_number"}, records)
}
