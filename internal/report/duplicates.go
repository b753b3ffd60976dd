package report

import (
	"context"
	"encoding/csv"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/xuri/excelize/v2"

	"github.com/auditkit/invoice-ledger/internal/table"
)

// WriteDuplicates exports the duplicate rows detected for one ledger
// type. Small exports are written as a workbook for hand inspection;
// past maxXLSXRows the export switches to compressed CSV.
func (w *Writer) WriteDuplicates(ctx context.Context, typ string, columns []string, rows []table.Row, maxXLSXRows int) error {
	if len(rows) == 0 {
		return nil
	}
	if maxXLSXRows > 0 && len(rows) > maxXLSXRows {
		return w.writeDuplicatesZst(ctx, typ, columns, rows)
	}
	return w.writeDuplicatesXLSX(ctx, typ, columns, rows)
}

func (w *Writer) writeDuplicatesXLSX(ctx context.Context, typ string, columns []string, rows []table.Row) error {
	key := fmt.Sprintf("duplicates_%s.xlsx", typ)

	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Sheet1"

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("writing duplicate export header: %w", err)
	}
	for i, row := range rows {
		cells := make([]any, len(columns))
		for j := range columns {
			if j < len(row) && row[j].Valid {
				cells[j] = row[j].Value
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("addressing duplicate export row %d: %w", i, err)
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return fmt.Errorf("writing duplicate export row %d: %w", i, err)
		}
	}

	bw, err := w.bucket.NewWriter(ctx, w.prefix+key, nil)
	if err != nil {
		return fmt.Errorf("creating duplicate export %s: %w", key, err)
	}
	if err := f.Write(bw); err != nil {
		bw.Close()
		return fmt.Errorf("writing duplicate export %s: %w", key, err)
	}
	if err := bw.Close(); err != nil {
		return fmt.Errorf("closing duplicate export %s: %w", key, err)
	}
	return nil
}

func (w *Writer) writeDuplicatesZst(ctx context.Context, typ string, columns []string, rows []table.Row) error {
	key := fmt.Sprintf("duplicates_%s.csv.zst", typ)

	bw, err := w.bucket.NewWriter(ctx, w.prefix+key, nil)
	if err != nil {
		return fmt.Errorf("creating duplicate export %s: %w", key, err)
	}
	zw, err := zstd.NewWriter(bw)
	if err != nil {
		bw.Close()
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	cw := csv.NewWriter(zw)

	fail := func(err error) error {
		zw.Close()
		bw.Close()
		return fmt.Errorf("writing duplicate export %s: %w", key, err)
	}

	if err := cw.Write(columns); err != nil {
		return fail(err)
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for j := range columns {
			record[j] = ""
			if j < len(row) && row[j].Valid {
				record[j] = row[j].Value
			}
		}
		if err := cw.Write(record); err != nil {
			return fail(err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fail(err)
	}
	if err := zw.Close(); err != nil {
		bw.Close()
		return fmt.Errorf("finalizing duplicate export %s: %w", key, err)
	}
	if err := bw.Close(); err != nil {
		return fmt.Errorf("closing duplicate export %s: %w", key, err)
	}
	return nil
}
