package registry

import (
	"time"

	"github.com/dhannusch/pincer/internal/manifest"
)

// ProposalSummary is the index's lightweight view of a pending proposal.
type ProposalSummary struct {
	ProposalID  string    `json:"proposalId"`
	AdapterID   string    `json:"adapterId"`
	Revision    int       `json:"revision"`
	SubmittedAt time.Time `json:"submittedAt"`
	SubmittedBy string    `json:"submittedBy"`
}

// ActiveEntry is one adapter's live-revision pointer.
type ActiveEntry struct {
	Revision  int       `json:"revision"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Index is the registry's singleton object: pending proposals plus the
// active-revision map. Mutated only through the operations in this
// package and written as a single serialized blob.
type Index struct {
	Proposals []ProposalSummary      `json:"proposals"`
	Active    map[string]ActiveEntry `json:"active"`
}

func newIndex() Index {
	return Index{Active: make(map[string]ActiveEntry)}
}

// ProposalRecord is the full stored proposal, including its manifest.
type ProposalRecord struct {
	ProposalID  string            `json:"proposalId"`
	AdapterID   string            `json:"adapterId"`
	Revision    int               `json:"revision"`
	SubmittedAt time.Time         `json:"submittedAt"`
	SubmittedBy string            `json:"submittedBy"`
	ClientNote  string            `json:"clientNote,omitempty"`
	Manifest    *manifest.Manifest `json:"manifest"`
}

// EventType enumerates the audit log's event kinds.
type EventType string

const (
	EventProposalSubmitted EventType = "proposal_submitted"
	EventProposalApproved  EventType = "proposal_approved"
	EventProposalRejected  EventType = "proposal_rejected"
)

// AuditEvent is one immutable entry in the audit log.
type AuditEvent struct {
	EventID     string    `json:"eventId"`
	EventType   EventType `json:"eventType"`
	OccurredAt  time.Time `json:"occurredAt"`
	ProposalID  string    `json:"proposalId"`
	AdapterID   string    `json:"adapterId"`
	Revision    int       `json:"revision"`
	Actor       string    `json:"actor"`
	Reason      string    `json:"reason,omitempty"`
	Manifest    *manifest.Manifest `json:"manifest,omitempty"`
}

// ApplyOutcome describes which state-machine transition Apply took.
type ApplyOutcome string

const (
	OutcomeNewInstall      ApplyOutcome = "new_install"
	OutcomeInPlaceUpdate   ApplyOutcome = "in_place_update"
	OutcomeReEnable        ApplyOutcome = "re_enable"
)

// ApplyResult is what a successful Apply returns.
type ApplyResult struct {
	AdapterID string       `json:"adapterId"`
	Revision  int          `json:"revision"`
	Outcome   ApplyOutcome `json:"outcome"`
	Enabled   bool         `json:"enabled"`
	UpdatedAt time.Time    `json:"updatedAt"`
}
