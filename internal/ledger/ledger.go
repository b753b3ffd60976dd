// Package ledger turns the staged raw rows into year-partitioned,
// deduplicated ledger tables. Each (year, type) partition is a full
// idempotent rebuild; duplicates are never discarded, they are tagged
// with a capture timestamp and handed back for export.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/auditkit/invoice-ledger/internal/logging"
	"github.com/auditkit/invoice-ledger/internal/report"
	"github.com/auditkit/invoice-ledger/internal/store"
	"github.com/auditkit/invoice-ledger/internal/table"
)

// PartitionReport describes one rebuilt partition.
type PartitionReport struct {
	Year        string
	Type        table.LedgerType
	RowsFetched int64
	RowsKept    int64
	RowsDropped int64
}

// Result is the outcome of a full ledger build.
type Result struct {
	Partitions []PartitionReport
	// Duplicates per type, in DuplicateColumns order. Every staged
	// column survives into the export so each duplicate can be traced
	// back to its source file and import pass.
	Duplicates map[table.LedgerType][]table.Row
	// DuplicateColumns is the column order of the duplicate rows per
	// type: the full staging schema plus the capture timestamp.
	DuplicateColumns map[table.LedgerType][]string
	Errors           []report.ErrorRecord
}

// duplicateColumns derives the duplicate export order from the staging
// schema: all staged columns, the import time column added when the
// staging table somehow lacks it, then the capture timestamp.
func duplicateColumns(stagingSchema table.Schema) []string {
	cols := append([]string(nil), stagingSchema.Columns()...)
	if !stagingSchema.Has(table.ColAuditImportTime) {
		cols = append(cols, table.ColAuditImportTime)
	}
	return append(cols, table.ColDedupCaptureTime)
}

// Build rebuilds every (year, type) partition present in the staged
// data. captureTime is stamped onto every detected duplicate.
func Build(ctx context.Context, st *store.Store, tag, captureTime string) (Result, error) {
	log := logging.Component("ledger")
	result := Result{
		Duplicates:       make(map[table.LedgerType][]table.Row),
		DuplicateColumns: make(map[table.LedgerType][]string),
	}

	for _, typ := range []table.LedgerType{table.LedgerDetail, table.LedgerHeader} {
		if err := buildType(ctx, st, tag, typ, captureTime, &result, log); err != nil {
			return result, err
		}
	}
	return result, nil
}

func buildType(ctx context.Context, st *store.Store, tag string, typ table.LedgerType, captureTime string, result *Result, log *slog.Logger) error {
	staging := table.StagingTable(tag, typ)

	exists, err := st.TableExists(ctx, staging)
	if err != nil {
		return err
	}
	if !exists {
		log.Info("no staged data for type", "type", string(typ))
		return nil
	}

	stagingCols, err := st.Columns(ctx, staging)
	if err != nil {
		return err
	}
	stagingSchema := table.NewSchema(stagingCols)
	if !stagingSchema.Has(table.ColInvoiceYear) {
		log.Warn("staging table has no year column, skipping", "table", staging)
		return nil
	}

	literals, err := st.DistinctValues(ctx, staging, table.ColInvoiceYear)
	if err != nil {
		return err
	}
	result.DuplicateColumns[typ] = duplicateColumns(stagingSchema)

	// Years can appear in more than one literal form ("2023" and
	// "2023.0"). All literals of one canonical year rebuild a single
	// partition together.
	byYear := make(map[string][]string)
	for _, lit := range literals {
		year, ok := canonicalYear(lit)
		if !ok {
			log.Warn("unusable year literal", "table", staging, "literal", lit)
			continue
		}
		byYear[year] = append(byYear[year], lit)
	}

	years := make([]string, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Strings(years)

	for _, year := range years {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ledger build cancelled: %w", err)
		}
		rep, dups, err := buildPartition(ctx, st, tag, typ, year, byYear[year], stagingSchema, staging, captureTime)
		if err != nil {
			result.Errors = append(result.Errors, report.ErrorRecord{
				File:    staging,
				Stage:   report.StageTransaction,
				Message: fmt.Sprintf("year %s: %v", year, err),
				Remedy:  report.Remedy(report.StageTransaction),
			})
			continue
		}
		result.Partitions = append(result.Partitions, rep)
		result.Duplicates[typ] = append(result.Duplicates[typ], dups...)
		log.Info("partition rebuilt",
			"type", string(typ),
			"year", year,
			"rows", rep.RowsFetched,
			"kept", rep.RowsKept,
			"duplicates", rep.RowsDropped,
		)
	}
	return nil
}

// buildPartition fetches one canonical year's rows in insertion order,
// splits them into first-occurrence survivors and duplicates, and
// fully replaces the partition table.
func buildPartition(ctx context.Context, st *store.Store, tag string, typ table.LedgerType, year string, literals []string, stagingSchema table.Schema, staging, captureTime string) (PartitionReport, []table.Row, error) {
	rep := PartitionReport{Year: year, Type: typ}

	rows, err := st.SelectWhereIn(ctx, staging, stagingSchema.Columns(), table.ColInvoiceYear, literals)
	if err != nil {
		return rep, nil, err
	}
	rep.RowsFetched = int64(len(rows))
	if len(rows) == 0 {
		return rep, nil, nil
	}

	keyIdx := make([]int, 0, len(table.DedupColumns(typ)))
	for _, c := range table.DedupColumns(typ) {
		keyIdx = append(keyIdx, stagingSchema.Index(c))
	}

	outSchema := table.NewSchema(table.OutputColumns(typ))
	dupSchema := table.NewSchema(duplicateColumns(stagingSchema))

	seen := make(map[string]struct{}, len(rows))
	var survivors, duplicates []table.Row
	for _, row := range rows {
		key := dedupKey(row, keyIdx)
		if _, dup := seen[key]; dup {
			d := row.Project(stagingSchema, dupSchema)
			d.Set(dupSchema, table.ColDedupCaptureTime, table.String(captureTime))
			duplicates = append(duplicates, d)
			continue
		}
		seen[key] = struct{}{}
		survivors = append(survivors, row.Project(stagingSchema, outSchema))
	}
	rep.RowsKept = int64(len(survivors))
	rep.RowsDropped = int64(len(duplicates))

	partition := table.PartitionTable(tag, year, typ)
	err = st.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.DropTable(ctx, tx, partition); err != nil {
			return err
		}
		if err := store.CreateTable(ctx, tx, partition, outSchema.Columns()); err != nil {
			return err
		}
		if err := store.InsertRows(ctx, tx, partition, outSchema.Columns(), survivors, 1000); err != nil {
			return err
		}
		for _, def := range table.PartitionIndexes(partition) {
			if err := store.CreateIndex(ctx, tx, partition, def); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return rep, nil, err
	}
	return rep, duplicates, nil
}

// dedupKey joins the key cells with an unprintable separator; null and
// empty stay distinguishable.
func dedupKey(row table.Row, keyIdx []int) string {
	var b strings.Builder
	for _, idx := range keyIdx {
		if idx >= 0 && idx < len(row) && row[idx].Valid {
			b.WriteByte(1)
			b.WriteString(row[idx].Value)
		} else {
			b.WriteByte(0)
		}
		b.WriteByte(0x1f)
	}
	return b.String()
}

// canonicalYear reduces a raw year literal to its 4-digit form.
// "2023.0" and "2023" both map to "2023".
func canonicalYear(lit string) (string, bool) {
	s := strings.TrimSpace(lit)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	if len(s) != 4 {
		return "", false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return s, true
}
