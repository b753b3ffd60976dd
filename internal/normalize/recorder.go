package normalize

// CastStat summarizes one normalization method applied to one column.
type CastStat struct {
	File      string
	Sheet     string
	Column    string
	Method    string
	Total     int
	Converted int
	Failed    int
}

// FailureSample is one unparsed cell kept for the failure report.
type FailureSample struct {
	File          string
	Sheet         string
	Column        string
	RowIndex      int
	OrigValue     string
	InvoiceCode   string
	InvoiceNumber string
}

// Recorder accumulates stats and bounded failure samples for one worker.
// It is not safe for concurrent use; each worker owns a private one and
// the coordinator merges them after collection.
type Recorder struct {
	maxPerColumn int
	stats        []CastStat
	samples      []FailureSample
	perColumn    map[string]int
}

// NewRecorder caps failure samples at maxPerColumn per column (<=0
// disables the cap).
func NewRecorder(maxPerColumn int) *Recorder {
	return &Recorder{maxPerColumn: maxPerColumn, perColumn: make(map[string]int)}
}

// Stat appends a cast statistic.
func (r *Recorder) Stat(s CastStat) { r.stats = append(r.stats, s) }

// Sample records a failure sample unless the column already hit its cap.
func (r *Recorder) Sample(s FailureSample) {
	if r.maxPerColumn > 0 && r.perColumn[s.Column] >= r.maxPerColumn {
		return
	}
	r.perColumn[s.Column]++
	r.samples = append(r.samples, s)
}

// Stats returns the accumulated cast statistics.
func (r *Recorder) Stats() []CastStat { return r.stats }

// Samples returns the accumulated failure samples.
func (r *Recorder) Samples() []FailureSample { return r.samples }

// Merge folds another recorder's records into this one, re-applying the
// per-column sample cap.
func (r *Recorder) Merge(other *Recorder) {
	if other == nil {
		return
	}
	r.stats = append(r.stats, other.stats...)
	for _, s := range other.samples {
		r.Sample(s)
	}
}
