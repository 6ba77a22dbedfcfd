package verification

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusVerified  Status = "verified"
	StatusDisputed  Status = "disputed"
	StatusFinalized Status = "finalized"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusDisputed, StatusFinalized:
		return true
	default:
		return false
	}
}

// Closed reports whether the match no longer accepts attestations.
func (s Status) Closed() bool {
	return s == StatusVerified || s == StatusFinalized
}

type Role string

const (
	RoleCaptain Role = "captain"
	RolePlayer  Role = "player"
	RoleReferee Role = "referee"
)

func (r Role) Valid() bool {
	return r == RoleCaptain || r == RolePlayer || r == RoleReferee
}

type Side string

const (
	SideHome Side = "home"
	SideAway Side = "away"
)

func (s Side) Valid() bool {
	return s == SideHome || s == SideAway
}

type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

func (s Score) String() string {
	return fmt.Sprintf("%d-%d", s.Home, s.Away)
}

type Verification struct {
	Attester     string `json:"attester"`
	AttesterName string `json:"attester_name,omitempty"`

	Team Side `json:"team"`
	Role Role `json:"role"`
	Tier Tier `json:"trust_tier"`

	Verified bool `json:"verified"`

	// Claim is the score this attestation stands behind. Confirmations carry the
	// score they confirmed, disputes an optional counter-claim.
	Claim  *Score `json:"claim,omitempty"`
	Reason string `json:"reason,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

type MatchConsensus struct {
	HomeSubmitted bool `json:"home_submitted"`
	AwaySubmitted bool `json:"away_submitted"`

	HomeScore int `json:"home_score"`
	AwayScore int `json:"away_score"`

	Discrepancy bool `json:"discrepancy"`
	Resolved    bool `json:"resolved"`
}

type ClaimGroup struct {
	Score  Score `json:"score"`
	Weight int   `json:"weight"`
	Count  int   `json:"count"`
}

type Resolution struct {
	Score      Score        `json:"score"`
	Confidence float64      `json:"confidence"`
	Groups     []ClaimGroup `json:"groups"`
}

type MatchResult struct {
	ID string `json:"id"`

	HomeTeam string `json:"home_team"`
	AwayTeam string `json:"away_team"`

	HomeScore int `json:"home_score"`
	AwayScore int `json:"away_score"`

	Submitter     string    `json:"submitter"`
	SubmitterTeam Side      `json:"submitter_team"`
	SubmittedAt   time.Time `json:"submitted_at"`

	Verifications []Verification `json:"verifications"`

	Status                Status         `json:"status"`
	RequiredVerifications int            `json:"required_verifications"`
	TrustScore            int            `json:"trust_score"`
	Consensus             MatchConsensus `json:"consensus"`

	Resolution       *Resolution `json:"resolution,omitempty"`
	FlaggedForReview bool        `json:"flagged_for_review"`
	FinalizedAt      *time.Time  `json:"finalized_at,omitempty"`
}

func (m *MatchResult) Score() Score {
	return Score{Home: m.HomeScore, Away: m.AwayScore}
}

func (m *MatchResult) HasAttested(attester string) bool {
	for _, v := range m.Verifications {
		if v.Attester == attester {
			return true
		}
	}

	return false
}

func (m *MatchResult) Counts() (int, int) {
	confirmed, disputed := 0, 0

	for _, v := range m.Verifications {
		if v.Verified {
			confirmed++
		} else {
			disputed++
		}
	}

	return confirmed, disputed
}

// Progress is the share of required confirmations already collected, capped at 100.
func (m *MatchResult) Progress() int {
	if m.RequiredVerifications <= 0 {
		return 100
	}

	confirmed, _ := m.Counts()

	return min(100, confirmed*100/m.RequiredVerifications)
}
