package verification

import (
	"strings"
	"time"

	"github.com/gosimple/slug"
)

const (
	DefaultRequiredVerifications = 3
	DefaultDisputeThreshold      = 2
)

const (
	ReasonAlreadyVerified = "already verified"
	ReasonMatchClosed     = "match is closed to verification"
	ReasonNotCaptain      = "only team captains can verify matches"
)

type Policy struct {
	RequiredVerifications int  `json:"required_verifications"`
	DisputeThreshold      int  `json:"dispute_threshold"`
	CaptainsOnly          bool `json:"captains_only"`
}

func DefaultPolicy() Policy {
	return Policy{
		RequiredVerifications: DefaultRequiredVerifications,
		DisputeThreshold:      DefaultDisputeThreshold,
		CaptainsOnly:          true,
	}
}

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// CanVerify is the acceptance gate. The first failing precondition decides the
// reported reason.
func CanVerify(match *MatchResult, attester string, isCaptain bool) Decision {
	if match.HasAttested(attester) {
		return Decision{Allowed: false, Reason: ReasonAlreadyVerified}
	}

	if match.Status.Closed() {
		return Decision{Allowed: false, Reason: ReasonMatchClosed}
	}

	if !isCaptain {
		return Decision{Allowed: false, Reason: ReasonNotCaptain}
	}

	return Decision{Allowed: true}
}

func DetermineStatus(match *MatchResult, consensus MatchConsensus) Status {
	return DefaultPolicy().DetermineStatus(match, consensus)
}

func (p Policy) CanVerify(match *MatchResult, attester string, role Role) Decision {
	return CanVerify(match, attester, role == RoleCaptain || !p.CaptainsOnly)
}

func (p Policy) DetermineStatus(match *MatchResult, consensus MatchConsensus) Status {
	switch match.Status {
	case StatusDisputed, StatusFinalized, StatusVerified:
		return match.Status
	case StatusPending:
	}

	confirmed, disputed := match.Counts()

	if consensus.Discrepancy || disputed >= p.DisputeThreshold {
		return StatusDisputed
	}

	if confirmed >= match.RequiredVerifications && consensus.Resolved {
		return StatusVerified
	}

	return StatusPending
}

// Recompute refreshes every derived field from the current ledger.
func (p Policy) Recompute(match *MatchResult) {
	match.TrustScore = TrustScore(match.Verifications)
	match.Consensus = CheckConsensus(match)
	match.Status = p.DetermineStatus(match, match.Consensus)
}

func (p Policy) NewMatchResult(
	id, homeTeam, awayTeam string,
	homeScore, awayScore int,
	submitter string,
	submitterTeam Side,
	now time.Time) (*MatchResult, error) {
	homeTeam = strings.TrimSpace(homeTeam)
	awayTeam = strings.TrimSpace(awayTeam)

	switch {
	case id == "":
		return nil, integrity("id", "is required")
	case homeTeam == "":
		return nil, integrity("home_team", "is required")
	case awayTeam == "":
		return nil, integrity("away_team", "is required")
	case slug.Make(homeTeam) == slug.Make(awayTeam):
		return nil, integrity("away_team", "must differ from home_team")
	case homeScore < 0:
		return nil, integrity("home_score", "cannot be negative")
	case awayScore < 0:
		return nil, integrity("away_score", "cannot be negative")
	case submitter == "":
		return nil, integrity("submitter", "is required")
	case !submitterTeam.Valid():
		return nil, integrity("submitter_team", "must be home or away")
	}

	required := p.RequiredVerifications
	if required <= 0 {
		required = DefaultRequiredVerifications
	}

	match := &MatchResult{
		ID:                    id,
		HomeTeam:              homeTeam,
		AwayTeam:              awayTeam,
		HomeScore:             homeScore,
		AwayScore:             awayScore,
		Submitter:             submitter,
		SubmitterTeam:         submitterTeam,
		SubmittedAt:           now,
		Verifications:         []Verification{},
		Status:                StatusPending,
		RequiredVerifications: required,
	}

	p.Recompute(match)

	return match, nil
}

func ValidateVerification(match *MatchResult, v *Verification) error {
	switch {
	case strings.TrimSpace(v.Attester) == "":
		return integrity("attester", "is required")
	case !v.Team.Valid():
		return integrity("team", "must be home or away")
	case !v.Role.Valid():
		return integrity("role", "must be captain, player or referee")
	case !v.Tier.Valid():
		return integrity("trust_tier", "must be bronze, silver, gold or platinum")
	}

	if v.Claim != nil && (v.Claim.Home < 0 || v.Claim.Away < 0) {
		return integrity("claim", "cannot be negative")
	}

	if v.Verified {
		if v.Claim != nil && *v.Claim != match.Score() {
			return integrity("claim", "must equal the submitted score when confirming")
		}

		confirmed := match.Score()
		v.Claim = &confirmed
	} else if v.Claim != nil && *v.Claim == match.Score() {
		return integrity("claim", "must differ from the submitted score when disputing")
	}

	return nil
}

// Attest validates and gates a new attestation, appends it and recomputes the
// derived state. A repeat attester is refused before any field checks. The match is left untouched when an error is returned.
func (p Policy) Attest(match *MatchResult, v Verification) error {
	if match.HasAttested(v.Attester) {
		return &PreconditionError{Reason: ReasonAlreadyVerified}
	}

	err := ValidateVerification(match, &v)
	if err != nil {
		return err
	}

	decision := p.CanVerify(match, v.Attester, v.Role)
	if !decision.Allowed {
		return &PreconditionError{Reason: decision.Reason}
	}

	match.Verifications = append(match.Verifications, v)
	p.Recompute(match)

	return nil
}

// Finalize closes a verified or disputed match. A disputed match settles on
// the given score, or on the dispute resolver's pick when score is nil.
func (p Policy) Finalize(match *MatchResult, score *Score, now time.Time) error {
	if score != nil && (score.Home < 0 || score.Away < 0) {
		return integrity("score", "cannot be negative")
	}

	switch match.Status {
	case StatusPending:
		return &PreconditionError{Reason: "match is still pending"}
	case StatusFinalized:
		return &PreconditionError{Reason: "match is already finalized"}
	case StatusVerified:
		if score != nil && *score != match.Score() {
			return &PreconditionError{Reason: "a verified match can only be finalized with its agreed score"}
		}
	case StatusDisputed:
		resolution, err := ResolveDispute(match)
		if err != nil {
			return err
		}

		settled := resolution.Score
		if score != nil {
			settled = *score
		}

		match.Resolution = &resolution
		match.HomeScore = settled.Home
		match.AwayScore = settled.Away
	}

	match.Status = StatusFinalized
	match.FinalizedAt = &now
	p.Recompute(match)

	return nil
}
