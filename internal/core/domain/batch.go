package domain

// BatchState is the lifecycle state of a bulk operation.
type BatchState string

// Batch states. A batch is completed once every id has been attempted,
// however many failed.
const (
	BatchRunning   BatchState = "running"
	BatchCompleted BatchState = "completed"
)

// ItemStatus is the outcome of one item in a batch.
type ItemStatus string

// Item statuses.
const (
	ItemSuccess ItemStatus = "success"
	ItemFailed  ItemStatus = "failed"
)

// ItemResult records the outcome for one id.
type ItemResult struct {
	ID     string     `json:"id"`
	Status ItemStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
	Kind   ErrorKind  `json:"kind,omitempty"`
}

// DeleteBatchProgress tracks one bulk delete. Current always equals
// len(Results).
type DeleteBatchProgress struct {
	BatchID      string       `json:"batch_id"`
	EntityType   string       `json:"entity_type"`
	Total        int          `json:"total"`
	Current      int          `json:"current"`
	SuccessCount int          `json:"success_count"`
	FailedCount  int          `json:"failed_count"`
	Results      []ItemResult `json:"results"`
	State        BatchState   `json:"state"`

	// RefreshError is set if the re-fetch after completion failed.
	RefreshError string `json:"refresh_error,omitempty"`
}

// Record appends an item result and advances the counters together.
func (p *DeleteBatchProgress) Record(r ItemResult) {
	p.Results = append(p.Results, r)
	p.Current = len(p.Results)
	if r.Status == ItemSuccess {
		p.SuccessCount++
	} else {
		p.FailedCount++
	}
}

// Done returns true once the batch has completed.
func (p DeleteBatchProgress) Done() bool {
	return p.State == BatchCompleted
}

// Percent returns completion in the range [0, 1].
func (p DeleteBatchProgress) Percent() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Current) / float64(p.Total)
}

// Clone returns a copy that shares no slices with p.
func (p DeleteBatchProgress) Clone() DeleteBatchProgress {
	out := p
	out.Results = make([]ItemResult, len(p.Results))
	copy(out.Results, p.Results)
	return out
}
