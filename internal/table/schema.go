package table

// Schema is an ordered column list. It makes "missing column" a defined
// state: a row always has exactly one cell per schema column, and a
// column absent from the source simply yields null cells.
type Schema struct {
	cols  []string
	index map[string]int
}

// NewSchema builds a schema from a column list, dropping duplicates
// while preserving first-seen order.
func NewSchema(columns []string) Schema {
	s := Schema{index: make(map[string]int, len(columns))}
	for _, c := range columns {
		if _, ok := s.index[c]; ok {
			continue
		}
		s.index[c] = len(s.cols)
		s.cols = append(s.cols, c)
	}
	return s
}

// Columns returns the ordered column names. Callers must not mutate it.
func (s Schema) Columns() []string { return s.cols }

// Len returns the number of columns.
func (s Schema) Len() int { return len(s.cols) }

// Index returns the position of a column, or -1 if absent.
func (s Schema) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Has reports whether the schema contains a column.
func (s Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Union returns a new schema with extra columns appended in order.
func (s Schema) Union(columns ...string) Schema {
	merged := make([]string, 0, len(s.cols)+len(columns))
	merged = append(merged, s.cols...)
	merged = append(merged, columns...)
	return NewSchema(merged)
}

// Cell is one value in a row. Valid=false means SQL NULL.
type Cell struct {
	Value string
	Valid bool
}

// String returns a non-null cell.
func String(v string) Cell { return Cell{Value: v, Valid: true} }

// Null is the null cell.
var Null = Cell{}

// Row holds one cell per schema column, in schema order.
type Row []Cell

// NewRow returns an all-null row sized for a schema.
func NewRow(s Schema) Row { return make(Row, s.Len()) }

// Get returns the cell for a named column, or Null if the schema lacks it.
func (r Row) Get(s Schema, name string) Cell {
	if i := s.Index(name); i >= 0 && i < len(r) {
		return r[i]
	}
	return Null
}

// Set stores a cell under a named column if the schema has it.
func (r Row) Set(s Schema, name string, c Cell) {
	if i := s.Index(name); i >= 0 && i < len(r) {
		r[i] = c
	}
}

// Project re-maps a row from one schema onto another; columns missing
// from the source schema come out null.
func (r Row) Project(from, to Schema) Row {
	out := NewRow(to)
	for i, name := range to.cols {
		if j := from.Index(name); j >= 0 && j < len(r) {
			out[i] = r[j]
		}
	}
	return out
}
