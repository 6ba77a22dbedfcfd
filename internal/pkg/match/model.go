package match

import (
	"encoding/json"

	"github.com/vreid/kakunin/internal/pkg/verification"
)

type SubmitRequest struct {
	HomeTeam string `json:"home_team" validate:"required,max=64"`
	AwayTeam string `json:"away_team" validate:"required,max=64"`

	HomeScore *int `json:"home_score" validate:"required,min=0,max=99"`
	AwayScore *int `json:"away_score" validate:"required,min=0,max=99"`

	Submitter     string `json:"submitter"      validate:"required,max=128"`
	SubmitterTeam string `json:"submitter_team" validate:"required,oneof=home away"`
}

type ClaimRequest struct {
	Home *int `json:"home" validate:"required,min=0,max=99"`
	Away *int `json:"away" validate:"required,min=0,max=99"`
}

type VerifyRequest struct {
	Attester     string `json:"attester"      validate:"required,max=128"`
	AttesterName string `json:"attester_name" validate:"max=128"`

	Team string `json:"team"       validate:"required,oneof=home away"`
	Role string `json:"role"       validate:"required,oneof=captain player referee"`
	Tier string `json:"trust_tier" validate:"omitempty,oneof=bronze silver gold platinum"`

	Verified *bool         `json:"verified" validate:"required"`
	Claim    *ClaimRequest `json:"claim"    validate:"omitempty"`
	Reason   string        `json:"reason"   validate:"max=500"`
}

type FinalizeRequest struct {
	Score *ClaimRequest `json:"score" validate:"omitempty"`
}

type EventRequest struct {
	Kind     verification.EventKind `json:"kind"     validate:"required"`
	Minute   *int                   `json:"minute"   validate:"omitempty,min=0,max=150"`
	Payload  json.RawMessage        `json:"payload"  validate:"required"`
	Metadata json.RawMessage        `json:"metadata"`
}

type EligibilityQuery struct {
	Attester string `query:"attester" validate:"required"`
	Role     string `query:"role"     validate:"omitempty,oneof=captain player referee"`
}

type ListQuery struct {
	Status string `query:"status" validate:"omitempty,oneof=pending verified disputed finalized"`
	Team   string `query:"team"   validate:"max=64"`
	Limit  int    `query:"limit"  validate:"omitempty,min=1,max=100"`
	Offset int    `query:"offset" validate:"omitempty,min=0"`
}

// MatchView is the API rendering of a match.
type MatchView struct {
	*verification.MatchResult

	Progress int `json:"progress"`
}

func NewMatchView(match *verification.MatchResult) MatchView {
	return MatchView{
		MatchResult: match,
		Progress:    match.Progress(),
	}
}

type MatchPage struct {
	Matches []MatchView `json:"matches"`
	Total   int         `json:"total"`
	HasMore bool        `json:"has_more"`
}

func (c *ClaimRequest) score() *verification.Score {
	if c == nil {
		return nil
	}

	return &verification.Score{Home: *c.Home, Away: *c.Away}
}
