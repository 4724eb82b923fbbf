package sync

import (
	"time"

	"github.com/uptrace/bun"
)

// Sync directions.
const (
	DirectionForward  = "forward"  // relational -> concept
	DirectionBackward = "backward" // concept -> relational
)

// Conflict policies, selectable per mapping rule.
const (
	PolicyLastWriterWins   = "last_writer_wins"
	PolicyPreferRelational = "prefer_relational"
	PolicyPreferConcept    = "prefer_concept"
	PolicyManual           = "manual"
)

// ValidPolicy reports whether p names a supported conflict policy.
func ValidPolicy(p string) bool {
	switch p {
	case PolicyLastWriterWins, PolicyPreferRelational, PolicyPreferConcept, PolicyManual:
		return true
	}
	return false
}

// Checkpoint marks the synchronizer's progress per direction. Its advance is
// monotonic and only happens after a batch commits; restart resumes from it
// and never replays applied work.
type Checkpoint struct {
	bun.BaseModel `bun:"table:kb.sync_checkpoints,alias:sc"`

	Direction     string    `bun:"direction,pk" json:"direction"`
	LastUpdatedAt time.Time `bun:"last_updated_at,notnull" json:"last_updated_at"`
	LastID        string    `bun:"last_id,notnull,default:''" json:"last_id"`
	RowHash       string    `bun:"row_hash,notnull,default:''" json:"row_hash"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}

// QuarantineItem is a staged conflict awaiting manual resolution. Quarantined
// conflicts never fail the run that detected them.
type QuarantineItem struct {
	bun.BaseModel `bun:"table:kb.sync_quarantine,alias:sq"`

	ID         string         `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	SourceKey  string         `bun:"source_key,notnull" json:"source_key"`
	Direction  string         `bun:"direction,notnull" json:"direction"`
	Relational map[string]any `bun:"relational,type:jsonb,notnull" json:"relational"`
	Concept    map[string]any `bun:"concept,type:jsonb,notnull" json:"concept"`
	DetectedAt time.Time      `bun:"detected_at,notnull,default:now()" json:"detected_at"`
	ResolvedAt *time.Time     `bun:"resolved_at" json:"resolved_at,omitempty"`
}

// Status reports the synchronizer's progress.
type Status struct {
	ForwardCheckpoint  *Checkpoint `json:"last_forward_checkpoint,omitempty"`
	BackwardCheckpoint *Checkpoint `json:"last_backward_checkpoint,omitempty"`
	PendingBackward    int         `json:"pending"`
	QuarantineCount    int         `json:"quarantine_count"`
	BatchSize          int         `json:"batch_size"`
	Running            bool        `json:"running"`
}

// RunReport summarizes one sync run.
type RunReport struct {
	Direction string `json:"direction"`
	Scanned   int    `json:"scanned"`
	Applied   int    `json:"applied"`
	Skipped   int    `json:"skipped"`
	Conflicts int    `json:"conflicts"`
	Failed    int    `json:"failed"`
}
