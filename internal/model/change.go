package model

import "time"

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

const (
	TableMessages = "messages"
	TableLeads    = "leads"
)

// Change is a row-level change notification. Consumers treat it as a hint to
// refetch, never as the row state itself.
type Change struct {
	Cursor  string     `json:"cursor,omitempty"`
	Table   string     `json:"table"`
	Type    ChangeType `json:"type"`
	RowID   string     `json:"id"`
	LeadID  string     `json:"lead_id,omitempty"`
	AgentID string     `json:"agent_id"`
	At      time.Time  `json:"at"`
}

type MirrorAction string

const (
	MirrorApproved MirrorAction = "approved"
	MirrorRejected MirrorAction = "rejected"
)

// MirrorJob propagates an agent decision to the ingestion mirror row of the
// inbound mail it answered.
type MirrorJob struct {
	ExternalMessageID string       `json:"external_message_id"`
	Action            MirrorAction `json:"action"`
	At                time.Time    `json:"at"`
}

// Key identifies the job for deduplication.
func (j MirrorJob) Key() string {
	return j.ExternalMessageID + ":" + string(j.Action)
}
