package verification_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vreid/kakunin/internal/pkg/verification"
)

//nolint:gochecknoglobals
var kickoff = time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC)

func newMatch(t *testing.T, policy verification.Policy) *verification.MatchResult {
	t.Helper()

	match, err := policy.NewMatchResult("m-1", "Riverside FC", "Hill Rovers", 3, 1, "alice", verification.SideHome, kickoff)
	require.NoError(t, err)

	return match
}

func confirm(attester string, team verification.Side, role verification.Role, tier verification.Tier) verification.Verification {
	return verification.Verification{
		Attester:  attester,
		Team:      team,
		Role:      role,
		Tier:      tier,
		Verified:  true,
		Timestamp: kickoff.Add(2 * time.Hour),
	}
}

func dispute(attester string, team verification.Side, role verification.Role, tier verification.Tier, claim *verification.Score) verification.Verification {
	return verification.Verification{
		Attester:  attester,
		Team:      team,
		Role:      role,
		Tier:      tier,
		Verified:  false,
		Claim:     claim,
		Timestamp: kickoff.Add(2 * time.Hour),
	}
}
