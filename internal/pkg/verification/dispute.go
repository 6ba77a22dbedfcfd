package verification

// ResolveDispute picks the claimed score backed by the most tier weight.
// Groups are formed in order of first appearance so ties go to the earliest
// claim.
func ResolveDispute(match *MatchResult) (Resolution, error) {
	if match.Status != StatusDisputed {
		return Resolution{}, &PreconditionError{Reason: "match is not disputed"}
	}

	index := map[Score]int{}
	groups := []ClaimGroup{}

	for _, v := range match.Verifications {
		claim, ok := v.EffectiveClaim(match)
		if !ok {
			continue
		}

		i, seen := index[claim]
		if !seen {
			i = len(groups)
			index[claim] = i

			groups = append(groups, ClaimGroup{Score: claim})
		}

		groups[i].Weight += v.Tier.Weight()
		groups[i].Count++
	}

	resolution := Resolution{
		Score:      match.Score(),
		Confidence: 0,
		Groups:     groups,
	}

	best, total := 0, 0

	for _, group := range groups {
		total += group.Weight

		if group.Weight > best {
			best = group.Weight
			resolution.Score = group.Score
		}
	}

	if total > 0 {
		resolution.Confidence = float64(best) / float64(total) * 100
	}

	return resolution, nil
}

// NeedsReview reports whether a pending match has attestations but too little
// trust behind them.
func NeedsReview(match *MatchResult, threshold int) bool {
	return match.Status == StatusPending &&
		len(match.Verifications) > 0 &&
		match.TrustScore < threshold
}
