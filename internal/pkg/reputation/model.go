package reputation

import "github.com/vreid/kakunin/internal/pkg/verification"

// Outcome is emitted once per match when its score is settled.
type Outcome struct {
	MatchID string `json:"match_id"`

	Submitted verification.Score `json:"submitted"`
	Final     verification.Score `json:"final"`

	Verifications []verification.Verification `json:"verifications"`
}

type Standing struct {
	Attester     string            `json:"attester"`
	Reputation   int64             `json:"reputation"`
	Attestations int64             `json:"attestations"`
	Tier         verification.Tier `json:"trust_tier"`
}
