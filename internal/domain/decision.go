package domain

import "time"

// DecisionRecord is a single persisted claim-tool decision.
type DecisionRecord struct {
	PK        string
	SK        string
	CheckID   string
	ClaimKey  string
	Message   string
	CheckedAt time.Time
	TTL       int64
}
