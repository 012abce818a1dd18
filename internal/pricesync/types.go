// Package pricesync defines core types shared across the sync engine.
package pricesync

import (
	"time"
)

// JobStatus represents the lifecycle state of a sync job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusPartial   JobStatus = "partial"
	JobStatusFailed    JobStatus = "failed"
	JobStatusSkipped   JobStatus = "skipped"
)

// Outcome classifies the result of fetching one archive file.
type Outcome string

// Outcome values reported by the batch downloader.
const (
	OutcomeSuccess           Outcome = "success"
	OutcomeNotFound          Outcome = "not_found"
	OutcomeConnectionFailure Outcome = "connection_failure"
	OutcomeParseError        Outcome = "parse_error"
)

// WebhookEvent is the payload pushed by the upstream pricing provider.
type WebhookEvent struct {
	Event     string `json:"event"`
	LineID    int64  `json:"lineId"`
	MarketID  *int64 `json:"marketId,omitempty"`
	Currency  string `json:"currency,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// QueueItem wraps a sync job ready to run.
type QueueItem struct {
	JobID       string
	LineID      int64
	Event       string
	Currency    string
	TriggeredAt time.Time
	Attempt     int
}

// Job is the metadata persisted for each accepted sync request.
type Job struct {
	ID        string      `json:"id"`
	LineID    int64       `json:"line_id"`
	Event     string      `json:"event"`
	Status    JobStatus   `json:"status"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Counters  JobCounters `json:"counters"`
}

// JobCounters tracks per-outcome stats for one job.
type JobCounters struct {
	FilesTotal         int `json:"files_total"`
	Succeeded          int `json:"succeeded"`
	NotFound           int `json:"not_found"`
	ConnectionFailures int `json:"connection_failures"`
	ParseErrors        int `json:"parse_errors"`
	ItemsWritten       int `json:"items_written"`
	WriteFailures      int `json:"write_failures"`
}

// Add merges an outcome into the counters.
func (c *JobCounters) Add(o Outcome) {
	switch o {
	case OutcomeSuccess:
		c.Succeeded++
	case OutcomeNotFound:
		c.NotFound++
	case OutcomeConnectionFailure:
		c.ConnectionFailures++
	case OutcomeParseError:
		c.ParseErrors++
	}
}

// FileRef identifies one sailing document in the remote archive tree.
type FileRef struct {
	Path      string
	LineID    int64
	ShipID    int64
	SailingID string
	Size      int64
}

// Download pairs a file reference with its retrieved bytes.
type Download struct {
	Ref  FileRef
	Body []byte
}

// BatchResult aggregates one batch downloader run. Paused is set when the
// pause flag stopped dispatch before the queue drained; undispatched files
// are not counted as failures.
type BatchResult struct {
	Total     int
	Counts    map[Outcome]int
	Succeeded map[string]Download
	Paused    bool
}

// NewBatchResult initializes an empty result for the given file count.
func NewBatchResult(total int) BatchResult {
	return BatchResult{
		Total:     total,
		Counts:    make(map[Outcome]int),
		Succeeded: make(map[string]Download),
	}
}

// DateWindow optionally narrows enumeration to a period range. Zero values
// mean "from the current month" and "no upper bound" respectively.
type DateWindow struct {
	From time.Time
	To   time.Time
}

// CruiseLine is a provider grouping under which sailings are organized.
type CruiseLine struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Ship is the product-level entity a sailing belongs to.
type Ship struct {
	ID     int64  `json:"id"`
	LineID int64  `json:"line_id"`
	Name   string `json:"name"`
}

// Sailing is the leaf unit synchronized from the archive.
type Sailing struct {
	ID                    string     `json:"id"`
	LineID                int64      `json:"line_id"`
	ShipID                int64      `json:"ship_id"`
	Name                  string     `json:"name"`
	DepartureDate         time.Time  `json:"departure_date"`
	Nights                int        `json:"nights"`
	Active                bool       `json:"active"`
	NeedsUpdate           bool       `json:"needs_update"`
	ProcessingStartedAt   *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`
}

// PriceSnapshot holds the canonical per-category cheapest prices for one
// sailing. Nil means the category is not offered.
type PriceSnapshot struct {
	SailingID  string   `json:"sailing_id"`
	Interior   *float64 `json:"interior,omitempty"`
	Oceanview  *float64 `json:"oceanview,omitempty"`
	Balcony    *float64 `json:"balcony,omitempty"`
	Suite      *float64 `json:"suite,omitempty"`
	Cheapest   *float64 `json:"cheapest,omitempty"`
	Currency   string   `json:"currency"`
	PriceCodes map[string]string `json:"price_codes,omitempty"`
}

// NormalizedItem is the writer input produced from one valid document.
type NormalizedItem struct {
	Line    CruiseLine
	Ship    Ship
	Sailing Sailing
	Prices  PriceSnapshot
}

// LineLock is the durable per-line mutex row.
type LineLock struct {
	LineID     int64
	HolderID   string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Operational flag names consulted between dispatch decisions.
const (
	FlagWebhooksPaused = "webhooks_paused"
	FlagSyncInProgress = "sync_in_progress"
)
