package models

import "time"

// Status is the lifecycle state of a document in the ledger.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDone       Status = "done"
	StatusDeleted    Status = "deleted"
)

// transitions lists the states each status may move to. failed and deleted are terminal.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusProcessing, StatusCompleted, StatusDone},
	StatusDone:       {StatusDeleted},
}

// CanTransition reports whether a document in status s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusDone, StatusDeleted:
		return true
	}
	return false
}

// DocumentRecord is the ledger row for one source PDF.
// A filename is unique per calendar day (SeenDay); rows are never physically deleted.
type DocumentRecord struct {
	ID           int64
	Identifier   string // source filename, e.g. invoice.pdf
	LocalPath    string
	FileSize     int64
	PageCount    int
	Status       Status
	SeenDay      string // YYYY-MM-DD
	FirstSeenAt  time.Time
	UpdatedAt    time.Time
	ErrorDetails string
}

// PageImageRecord is the ledger row for one rasterized page.
type PageImageRecord struct {
	ID                 int64
	Filename           string
	DocumentID         int64
	DocumentIdentifier string
	Status             Status
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// RetentionCandidate is a done document old enough to be purged.
// ArchiveDay is the day folder it was archived under, which is its seen day. Age is
// measured from its earliest page image, or the seen day when it has none.
type RetentionCandidate struct {
	DocumentID int64
	Identifier string
	ArchiveDay string // YYYY-MM-DD
}
