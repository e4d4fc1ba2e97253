package model

import "time"

// SessionStatus tracks where a reconciliation session is in its lifecycle.
type SessionStatus string

const (
	SessionOpen    SessionStatus = "open"
	SessionMerged  SessionStatus = "merged"
	SessionIgnored SessionStatus = "ignored"
)

// Session is the persisted state of one reconciliation of a duplicate pair.
// Canonical holds every row; Filtered is the currently displayed projection
// and is kept in lockstep with Canonical.
type Session struct {
	ID            string                  `json:"id"`
	Pair          Pair                    `json:"pair"`
	Status        SessionStatus           `json:"status"`
	Canonical     []ComparisonRow         `json:"canonical"`
	Filtered      []ComparisonRow         `json:"filtered"`
	Query         MergeQuery              `json:"merge_query"`
	OnlyUnmatched bool                    `json:"only_unmatched"`
	Metadata      []DuplicatePairMetadata `json:"metadata,omitempty"`
	Descriptor1   *Descriptor             `json:"descriptor1,omitempty"`
	Descriptor2   *Descriptor             `json:"descriptor2,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// AuditAction names what was submitted to the backend for a pair.
type AuditAction string

const (
	AuditMerge  AuditAction = "merge"
	AuditIgnore AuditAction = "ignore"
)

// AuditEntry records one submission made from a session.
type AuditEntry struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Pair      Pair        `json:"pair"`
	Action    AuditAction `json:"action"`
	Query     MergeQuery  `json:"merge_query,omitempty"`
	Response  []byte      `json:"response,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
