package shard

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/auditkit/invoice-ledger/internal/table"
)

// Writer streams rows of one (file, sheet) into a single shard.
type Writer struct {
	path   string
	desc   Descriptor
	schema *parquet.Schema
	file   *os.File
	pw     *parquet.GenericWriter[map[string]any]
	closed bool
}

// NewWriter opens a shard file named <family>__<uuid>.parquet under
// dir. Columns keep the caller's order in the descriptor even though
// the parquet group stores them sorted.
func NewWriter(dir, family, targetTable, sourceFile, sheet string, columns []string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating shard dir %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s__%s.parquet", family, uuid.New().String())
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating shard %s: %w", path, err)
	}

	group := make(parquet.Group, len(columns))
	for _, c := range columns {
		group[c] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("shard", group)

	return &Writer{
		path:   path,
		schema: schema,
		file:   f,
		pw:     parquet.NewGenericWriter[map[string]any](f, schema, parquet.Compression(&parquet.Snappy)),
		desc: Descriptor{
			Family:     family,
			Table:      targetTable,
			Columns:    append([]string(nil), columns...),
			SourceFile: sourceFile,
			Sheet:      sheet,
			CreatedAt:  time.Now().UTC(),
		},
	}, nil
}

// Path returns the shard file path.
func (w *Writer) Path() string { return w.path }

// RowCount returns the rows written so far.
func (w *Writer) RowCount() int64 { return w.desc.RowCount }

// Write appends rows. Each row must follow the descriptor column order;
// null cells are omitted from the record.
func (w *Writer) Write(rows []table.Row) error {
	if len(rows) == 0 {
		return nil
	}
	records := make([]map[string]any, len(rows))
	for i, row := range rows {
		rec := make(map[string]any, len(w.desc.Columns))
		for j, col := range w.desc.Columns {
			if j < len(row) && row[j].Valid {
				rec[col] = row[j].Value
			}
		}
		records[i] = rec
	}
	n, err := w.pw.Write(records)
	w.desc.RowCount += int64(n)
	if err != nil {
		return fmt.Errorf("writing %d rows to shard %s: %w", len(rows), w.path, err)
	}
	return nil
}

// Close finalizes the parquet footer and writes the sidecar. The shard
// is not valid for merging until Close returns nil.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.pw.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("finalizing shard %s: %w", w.path, err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing shard %s: %w", w.path, err)
	}
	return writeDescriptor(w.path, w.desc)
}

// Abort discards a partially written shard and its sidecar.
func (w *Writer) Abort() {
	if !w.closed {
		w.pw.Close()
		w.file.Close()
		w.closed = true
	}
	os.Remove(w.path)
	os.Remove(sidecarPath(w.path))
}
