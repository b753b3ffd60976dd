// Package merge consumes the shard files produced by the ingestion
// workers and appends them into the staging tables, one transaction
// per destination table. It runs single-threaded: the database is a
// single-writer resource.
package merge

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/auditkit/invoice-ledger/internal/logging"
	"github.com/auditkit/invoice-ledger/internal/report"
	"github.com/auditkit/invoice-ledger/internal/shard"
	"github.com/auditkit/invoice-ledger/internal/store"
	"github.com/auditkit/invoice-ledger/internal/table"
)

// Result summarizes one merge pass.
type Result struct {
	TablesMerged int
	RowsMerged   map[string]int64
	Errors       []report.ErrorRecord
}

type shardEntry struct {
	path string
	desc shard.Descriptor
}

// Run merges every shard under shardDir into its staging table. Chunk
// failures are skipped and the group still commits; a transaction-open
// failure abandons that table for the run. Only an unreadable shard
// directory is a hard error.
func Run(ctx context.Context, st *store.Store, shardDir, tag string, schemas map[string]table.Schema, chunkRows int) (Result, error) {
	log := logging.Component("merge")
	result := Result{RowsMerged: make(map[string]int64)}

	paths, err := shard.List(shardDir)
	if err != nil {
		return result, err
	}
	if len(paths) == 0 {
		log.Info("no shards to merge")
		return result, nil
	}

	groups := make(map[string][]shardEntry)
	for _, path := range paths {
		desc, derr := shard.ReadDescriptor(path)
		if derr != nil {
			// Without a descriptor the column order inside the parquet
			// file cannot be trusted; skip the shard, keep the run.
			result.Errors = append(result.Errors, report.NewError(filepath.Base(path), "", report.StageMerge, derr))
			continue
		}
		target := resolveTarget(path, desc, tag, schemas)
		groups[target] = append(groups[target], shardEntry{path: path, desc: desc})
	}

	for target, entries := range groups {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("merge cancelled: %w", err)
		}

		schema, ok := schemas[target]
		if !ok {
			// Shards routed by overlap fallback can land on a table the
			// plan never saw; shape it from the shard columns.
			var cols []string
			for _, e := range entries {
				cols = append(cols, e.desc.Columns...)
			}
			schema = table.NewSchema(cols)
		}

		merged, err := mergeGroup(ctx, st, target, schema, entries, chunkRows, &result)
		if err != nil {
			log.Warn("table merge abandoned", "table", target, "error", err)
			result.Errors = append(result.Errors, report.ErrorRecord{
				File:    target,
				Stage:   report.StageTransaction,
				Message: err.Error(),
				Remedy:  report.Remedy(report.StageTransaction),
			})
			continue
		}
		result.TablesMerged++
		result.RowsMerged[target] = merged
		log.Info("table merged", "table", target, "shards", len(entries), "rows", merged)
	}
	return result, nil
}

// resolveTarget picks the destination table: filename prefix first,
// then the sidecar descriptor, then column overlap against the known
// schemas, and finally the transit table.
func resolveTarget(path string, desc shard.Descriptor, tag string, schemas map[string]table.Schema) string {
	base := filepath.Base(path)
	if i := strings.Index(base, "__"); i > 0 {
		switch family := base[:i]; family {
		case shard.FamilyTransit:
			return table.TransitTable(tag)
		case shard.FamilyDetail:
			return table.DetailTable(tag)
		case shard.FamilyHeader:
			return table.HeaderTable(tag)
		default:
			if t := table.SpecialTable(tag, family); schemas[t].Len() > 0 {
				return t
			}
		}
	}
	if desc.Table != "" {
		return desc.Table
	}
	if t := bestOverlap(desc.Columns, schemas); t != "" {
		return t
	}
	return table.TransitTable(tag)
}

func bestOverlap(columns []string, schemas map[string]table.Schema) string {
	best, bestScore := "", 0
	for name, schema := range schemas {
		score := 0
		for _, c := range columns {
			if schema.Has(c) {
				score++
			}
		}
		if score > bestScore || (score == bestScore && score > 0 && name < best) {
			best, bestScore = name, score
		}
	}
	return best
}

// mergeGroup appends every shard of one destination inside a single
// transaction. Chunk insert failures are recorded and skipped; the
// transaction still commits with whatever landed.
func mergeGroup(ctx context.Context, st *store.Store, target string, schema table.Schema, entries []shardEntry, chunkRows int, result *Result) (int64, error) {
	var merged int64
	err := st.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.CreateTable(ctx, tx, target, schema.Columns()); err != nil {
			return err
		}
		for _, e := range entries {
			from := table.NewSchema(e.desc.Columns)
			readErr := shard.ReadBatches(e.path, e.desc, chunkRows, func(batch []table.Row) error {
				projected := make([]table.Row, len(batch))
				for i, r := range batch {
					projected[i] = r.Project(from, schema)
				}
				if err := store.InsertRows(ctx, tx, target, schema.Columns(), projected, chunkRows); err != nil {
					result.Errors = append(result.Errors, report.NewError(e.desc.SourceFile, e.desc.Sheet, report.StageMerge, err))
					return nil
				}
				merged += int64(len(projected))
				return nil
			})
			if readErr != nil {
				result.Errors = append(result.Errors, report.NewError(e.desc.SourceFile, e.desc.Sheet, report.StageMerge, readErr))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return merged, nil
}

// Cleanup removes the shard directory after a successful or abandoned
// merge. Shards are single-owner and only live for one run.
func Cleanup(shardDir string) error {
	if err := os.RemoveAll(shardDir); err != nil {
		return fmt.Errorf("removing shard dir %s: %w", shardDir, err)
	}
	return nil
}
