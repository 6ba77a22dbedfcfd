package verification

// EffectiveClaim returns the score an attestation stands behind. A dispute
// without a counter-claim has no known score.
func (v Verification) EffectiveClaim(match *MatchResult) (Score, bool) {
	if v.Claim != nil {
		return *v.Claim, true
	}

	if v.Verified {
		return match.Score(), true
	}

	return Score{}, false
}

func CheckConsensus(match *MatchResult) MatchConsensus {
	result := MatchConsensus{
		HomeScore: match.HomeScore,
		AwayScore: match.AwayScore,
	}

	conflicting := false

	for _, v := range match.Verifications {
		if v.Role != RoleCaptain {
			continue
		}

		switch v.Team {
		case SideHome:
			result.HomeSubmitted = true
		case SideAway:
			result.AwaySubmitted = true
		default:
			continue
		}

		claim, ok := v.EffectiveClaim(match)
		if !v.Verified || !ok || claim != match.Score() {
			conflicting = true
		}
	}

	bothSides := result.HomeSubmitted && result.AwaySubmitted

	result.Discrepancy = bothSides && conflicting
	result.Resolved = bothSides && !conflicting

	return result
}
