package shard

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/auditkit/invoice-ledger/internal/table"
)

// ReadBatches streams a shard's rows in bounded batches, re-ordered
// into the descriptor's column order. fn is called once per batch and
// may not retain the slice.
func ReadBatches(path string, desc Descriptor, batchSize int, fn func([]table.Row) error) error {
	if batchSize < 1 {
		batchSize = 1000
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening shard %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stating shard %s: %w", path, err)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return fmt.Errorf("reading shard %s: %w", path, err)
	}

	// Leaf columns come out in the file's (sorted) field order; map
	// them back onto the descriptor order.
	fields := pf.Schema().Fields()
	target := make([]int, len(fields))
	pos := make(map[string]int, len(desc.Columns))
	for i, c := range desc.Columns {
		pos[c] = i
	}
	for i, fl := range fields {
		if p, ok := pos[fl.Name()]; ok {
			target[i] = p
		} else {
			target[i] = -1
		}
	}

	buf := make([]parquet.Row, batchSize)
	batch := make([]table.Row, 0, batchSize)

	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, readErr := rows.ReadRows(buf)
			for _, praw := range buf[:n] {
				row := make(table.Row, len(desc.Columns))
				for _, v := range praw {
					t := target[v.Column()]
					if t < 0 || v.IsNull() {
						continue
					}
					row[t] = table.String(v.String())
				}
				batch = append(batch, row)
				if len(batch) == batchSize {
					if err := fn(batch); err != nil {
						rows.Close()
						return err
					}
					batch = batch[:0]
				}
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				rows.Close()
				return fmt.Errorf("reading shard %s: %w", path, readErr)
			}
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("closing shard row group %s: %w", path, err)
		}
	}

	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}
