package verification_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/kakunin/internal/pkg/verification"
)

func openPolicy() verification.Policy {
	policy := verification.DefaultPolicy()
	policy.CaptainsOnly = false

	return policy
}

func TestNewMatchIsPendingWithEmptyConsensus(t *testing.T) {
	t.Parallel()

	match := newMatch(t, verification.DefaultPolicy())

	assert.Equal(t, verification.StatusPending, match.Status)
	assert.Equal(t, 0, match.TrustScore)
	assert.Equal(t, 3, match.RequiredVerifications)
	assert.Equal(t, verification.MatchConsensus{
		HomeSubmitted: false,
		AwaySubmitted: false,
		HomeScore:     3,
		AwayScore:     1,
		Discrepancy:   false,
		Resolved:      false,
	}, match.Consensus)
}

func TestNewMatchRejectsBadInput(t *testing.T) {
	t.Parallel()

	policy := verification.DefaultPolicy()

	_, err := policy.NewMatchResult("m", "Riverside FC", "riverside-fc", 1, 0, "alice", verification.SideHome, kickoff)
	require.ErrorIs(t, err, verification.ErrDataIntegrityViolation)

	_, err = policy.NewMatchResult("m", "Riverside FC", "Hill Rovers", -1, 0, "alice", verification.SideHome, kickoff)
	require.ErrorIs(t, err, verification.ErrDataIntegrityViolation)

	_, err = policy.NewMatchResult("m", "Riverside FC", "Hill Rovers", 1, 0, "", verification.SideHome, kickoff)
	require.ErrorIs(t, err, verification.ErrDataIntegrityViolation)

	_, err = policy.NewMatchResult("m", "Riverside FC", "Hill Rovers", 1, 0, "alice", "neutral", kickoff)

	var integrityErr *verification.IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, "submitter_team", integrityErr.Field)
}

func TestBothCaptainsAndThresholdVerify(t *testing.T) {
	t.Parallel()

	policy := openPolicy()
	match := newMatch(t, policy)

	require.NoError(t, policy.Attest(match, confirm("home-captain", verification.SideHome, verification.RoleCaptain, verification.TierGold)))
	assert.Equal(t, verification.StatusPending, match.Status)
	assert.True(t, match.Consensus.HomeSubmitted)
	assert.False(t, match.Consensus.Resolved)

	require.NoError(t, policy.Attest(match, confirm("away-captain", verification.SideAway, verification.RoleCaptain, verification.TierSilver)))
	assert.Equal(t, verification.StatusPending, match.Status)
	assert.True(t, match.Consensus.Resolved)

	require.NoError(t, policy.Attest(match, confirm("away-player", verification.SideAway, verification.RolePlayer, verification.TierSilver)))
	assert.Equal(t, verification.StatusVerified, match.Status)
	assert.Equal(t, 50, match.TrustScore)
	assert.True(t, match.Consensus.Resolved)
	assert.False(t, match.Consensus.Discrepancy)
	assert.Equal(t, 100, match.Progress())

	for _, v := range match.Verifications {
		require.NotNil(t, v.Claim)
		assert.Equal(t, verification.Score{Home: 3, Away: 1}, *v.Claim)
	}
}

func TestThresholdWithoutOpposingCaptainStaysPending(t *testing.T) {
	t.Parallel()

	policy := openPolicy()
	match := newMatch(t, policy)

	for _, attester := range []string{"h1", "h2", "h3", "h4"} {
		require.NoError(t, policy.Attest(match, confirm(attester, verification.SideHome, verification.RoleCaptain, verification.TierPlatinum)))
	}

	assert.Equal(t, verification.StatusPending, match.Status)
	assert.True(t, match.Consensus.HomeSubmitted)
	assert.False(t, match.Consensus.AwaySubmitted)
	assert.False(t, match.Consensus.Resolved)
	assert.False(t, match.Consensus.Discrepancy)
}

func TestOpposingCaptainDisputeIsDiscrepancy(t *testing.T) {
	t.Parallel()

	policy := verification.DefaultPolicy()
	match := newMatch(t, policy)

	require.NoError(t, policy.Attest(match, confirm("home-captain", verification.SideHome, verification.RoleCaptain, verification.TierGold)))
	require.NoError(t, policy.Attest(match, dispute("away-captain", verification.SideAway, verification.RoleCaptain, verification.TierSilver, nil)))

	assert.True(t, match.Consensus.Discrepancy)
	assert.False(t, match.Consensus.Resolved)
	assert.Equal(t, verification.StatusDisputed, match.Status)
}

func TestTwoDisputesFromAnyRole(t *testing.T) {
	t.Parallel()

	policy := openPolicy()
	match := newMatch(t, policy)

	require.NoError(t, policy.Attest(match, dispute("fan-1", verification.SideHome, verification.RolePlayer, verification.TierBronze, nil)))
	assert.Equal(t, verification.StatusPending, match.Status)

	require.NoError(t, policy.Attest(match, dispute("ref", verification.SideAway, verification.RoleReferee, verification.TierGold, nil)))
	assert.Equal(t, verification.StatusDisputed, match.Status)
	assert.False(t, match.Consensus.Discrepancy)
}

func TestDisputedIsSticky(t *testing.T) {
	t.Parallel()

	policy := openPolicy()
	match := newMatch(t, policy)

	require.NoError(t, policy.Attest(match, dispute("d1", verification.SideHome, verification.RolePlayer, verification.TierBronze, nil)))
	require.NoError(t, policy.Attest(match, dispute("d2", verification.SideAway, verification.RolePlayer, verification.TierBronze, nil)))
	require.Equal(t, verification.StatusDisputed, match.Status)

	for _, attester := range []string{"c1", "c2", "c3", "c4", "c5"} {
		side := verification.SideHome
		if len(match.Verifications)%2 == 0 {
			side = verification.SideAway
		}

		require.NoError(t, policy.Attest(match, confirm(attester, side, verification.RoleCaptain, verification.TierPlatinum)))
		assert.Equal(t, verification.StatusDisputed, match.Status)
	}
}

func TestConsensusRequiresBothSides(t *testing.T) {
	t.Parallel()

	policy := openPolicy()
	roles := []verification.Role{verification.RoleCaptain, verification.RolePlayer, verification.RoleReferee}
	sides := []verification.Side{verification.SideHome, verification.SideAway}

	for i := range 18 {
		match := newMatch(t, policy)

		for j := 0; j <= i%6; j++ {
			v := confirm(string(rune('a'+j)), sides[(i+j)%2], roles[(i*j)%3], verification.TierSilver)
			if (i+j)%4 == 0 {
				v = dispute(v.Attester, v.Team, v.Role, v.Tier, nil)
			}

			_ = policy.Attest(match, v)

			if match.Consensus.Resolved {
				assert.True(t, match.Consensus.HomeSubmitted)
				assert.True(t, match.Consensus.AwaySubmitted)
			}
		}
	}
}

func TestAttestRejectsSecondAttestation(t *testing.T) {
	t.Parallel()

	policy := verification.DefaultPolicy()
	match := newMatch(t, policy)

	require.NoError(t, policy.Attest(match, confirm("home-captain", verification.SideHome, verification.RoleCaptain, verification.TierGold)))

	decision := verification.CanVerify(match, "home-captain", true)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "already verified", decision.Reason)

	err := policy.Attest(match, dispute("home-captain", verification.SideHome, verification.RoleCaptain, verification.TierGold, nil))

	var precondition *verification.PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.Equal(t, verification.ReasonAlreadyVerified, precondition.Reason)
	require.ErrorIs(t, err, verification.ErrPreconditionViolation)
	assert.Len(t, match.Verifications, 1)
}

func TestCanVerifyOrder(t *testing.T) {
	t.Parallel()

	match := newMatch(t, verification.DefaultPolicy())
	match.Verifications = append(match.Verifications,
		confirm("seen", verification.SideHome, verification.RoleCaptain, verification.TierGold))
	match.Status = verification.StatusVerified

	assert.Equal(t, verification.ReasonAlreadyVerified, verification.CanVerify(match, "seen", false).Reason)
	assert.Equal(t, verification.ReasonMatchClosed, verification.CanVerify(match, "new", false).Reason)

	match.Status = verification.StatusFinalized
	assert.Equal(t, verification.ReasonMatchClosed, verification.CanVerify(match, "new", true).Reason)

	match.Status = verification.StatusDisputed
	assert.Equal(t, verification.ReasonNotCaptain, verification.CanVerify(match, "new", false).Reason)
	assert.Equal(t, verification.Decision{Allowed: true}, verification.CanVerify(match, "new", true))
}

func TestCaptainsOnlyPolicy(t *testing.T) {
	t.Parallel()

	policy := verification.DefaultPolicy()
	match := newMatch(t, policy)

	err := policy.Attest(match, confirm("player", verification.SideHome, verification.RolePlayer, verification.TierGold))
	require.ErrorIs(t, err, verification.ErrPreconditionViolation)
	assert.Empty(t, match.Verifications)

	assert.True(t, openPolicy().CanVerify(match, "player", verification.RolePlayer).Allowed)
}

func TestAttestRejectsMalformedVerification(t *testing.T) {
	t.Parallel()

	policy := verification.DefaultPolicy()
	match := newMatch(t, policy)

	wrongClaim := confirm("home-captain", verification.SideHome, verification.RoleCaptain, verification.TierGold)
	wrongClaim.Claim = &verification.Score{Home: 2, Away: 2}
	require.ErrorIs(t, policy.Attest(match, wrongClaim), verification.ErrDataIntegrityViolation)

	negative := dispute("away-captain", verification.SideAway, verification.RoleCaptain, verification.TierGold,
		&verification.Score{Home: -1, Away: 0})
	require.ErrorIs(t, policy.Attest(match, negative), verification.ErrDataIntegrityViolation)

	badTier := confirm("away-captain", verification.SideAway, verification.RoleCaptain, "diamond")
	require.ErrorIs(t, policy.Attest(match, badTier), verification.ErrDataIntegrityViolation)

	noTeam := confirm("away-captain", "", verification.RoleCaptain, verification.TierGold)
	require.ErrorIs(t, policy.Attest(match, noTeam), verification.ErrDataIntegrityViolation)

	assert.Empty(t, match.Verifications)
	assert.Equal(t, verification.StatusPending, match.Status)
}

func TestFinalize(t *testing.T) {
	t.Parallel()

	policy := verification.DefaultPolicy()
	match := newMatch(t, policy)

	err := policy.Finalize(match, nil, kickoff)
	require.ErrorIs(t, err, verification.ErrPreconditionViolation)

	require.NoError(t, policy.Attest(match, confirm("home-captain", verification.SideHome, verification.RoleCaptain, verification.TierGold)))
	require.NoError(t, policy.Attest(match, dispute("away-captain", verification.SideAway, verification.RoleCaptain, verification.TierPlatinum,
		&verification.Score{Home: 1, Away: 1})))
	require.Equal(t, verification.StatusDisputed, match.Status)

	require.NoError(t, policy.Finalize(match, nil, kickoff))
	assert.Equal(t, verification.StatusFinalized, match.Status)
	assert.Equal(t, verification.Score{Home: 1, Away: 1}, match.Score())
	require.NotNil(t, match.Resolution)
	require.NotNil(t, match.FinalizedAt)
	assert.Equal(t, verification.ReasonMatchClosed, verification.CanVerify(match, "late", true).Reason)

	err = policy.Finalize(match, nil, kickoff)
	require.ErrorIs(t, err, verification.ErrPreconditionViolation)
}

func TestFinalizeVerifiedKeepsScore(t *testing.T) {
	t.Parallel()

	policy := verification.DefaultPolicy()
	policy.RequiredVerifications = 2
	match := newMatch(t, policy)

	require.NoError(t, policy.Attest(match, confirm("home-captain", verification.SideHome, verification.RoleCaptain, verification.TierGold)))
	require.NoError(t, policy.Attest(match, confirm("away-captain", verification.SideAway, verification.RoleCaptain, verification.TierGold)))
	require.Equal(t, verification.StatusVerified, match.Status)

	err := policy.Finalize(match, &verification.Score{Home: 0, Away: 0}, kickoff)
	require.ErrorIs(t, err, verification.ErrPreconditionViolation)

	require.NoError(t, policy.Finalize(match, nil, kickoff))
	assert.Equal(t, verification.StatusFinalized, match.Status)
	assert.Equal(t, verification.Score{Home: 3, Away: 1}, match.Score())
	assert.Nil(t, match.Resolution)
}

func TestDisputeCannotClaimTheSubmittedScore(t *testing.T) {
	t.Parallel()

	policy := verification.DefaultPolicy()
	match := newMatch(t, policy)

	require.NoError(t, policy.Attest(match, confirm("home-captain", verification.SideHome, verification.RoleCaptain, verification.TierGold)))

	err := policy.Attest(match, dispute("away-captain", verification.SideAway, verification.RoleCaptain, verification.TierSilver,
		&verification.Score{Home: 3, Away: 1}))
	require.ErrorIs(t, err, verification.ErrDataIntegrityViolation)

	require.NoError(t, policy.Attest(match, confirm("home-captain-2", verification.SideHome, verification.RoleCaptain, verification.TierGold)))
	require.NoError(t, policy.Attest(match, confirm("home-captain-3", verification.SideHome, verification.RoleCaptain, verification.TierGold)))

	assert.Len(t, match.Verifications, 3)
	assert.False(t, match.Consensus.AwaySubmitted)
	assert.False(t, match.Consensus.Resolved)
	assert.Equal(t, verification.StatusPending, match.Status)
}

func TestCaptainDisputeNeverCountsAsAgreement(t *testing.T) {
	t.Parallel()

	match := newMatch(t, verification.DefaultPolicy())
	agreeing := verification.Score{Home: 3, Away: 1}
	match.Verifications = append(match.Verifications,
		confirm("home-captain", verification.SideHome, verification.RoleCaptain, verification.TierGold),
		dispute("away-captain", verification.SideAway, verification.RoleCaptain, verification.TierSilver, &agreeing))

	consensus := verification.CheckConsensus(match)

	assert.True(t, consensus.AwaySubmitted)
	assert.True(t, consensus.Discrepancy)
	assert.False(t, consensus.Resolved)
}

func TestRepeatAttesterIsRefusedBeforeFieldChecks(t *testing.T) {
	t.Parallel()

	policy := verification.DefaultPolicy()
	match := newMatch(t, policy)

	require.NoError(t, policy.Attest(match, confirm("home-captain", verification.SideHome, verification.RoleCaptain, verification.TierGold)))

	malformed := confirm("home-captain", verification.SideHome, verification.RoleCaptain, "diamond")
	malformed.Claim = &verification.Score{Home: 0, Away: 0}

	err := policy.Attest(match, malformed)

	var precondition *verification.PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.Equal(t, verification.ReasonAlreadyVerified, precondition.Reason)
	assert.NotErrorIs(t, err, verification.ErrDataIntegrityViolation)
	assert.Len(t, match.Verifications, 1)
}
