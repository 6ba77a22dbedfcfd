package verification

import "math"

const disputePenalty = 0.5

// TrustScore aggregates attestations into a 0-100 confidence score. Disputes
// subtract half of their tier weight; the sum is normalised against an
// all-platinum, all-confirming ledger of the same size.
func TrustScore(verifications []Verification) int {
	if len(verifications) == 0 {
		return 0
	}

	total := 0.0

	for _, v := range verifications {
		weight := float64(v.Tier.Weight())

		if v.Verified {
			total += weight
		} else {
			total -= weight * disputePenalty
		}
	}

	maxPossible := float64(len(verifications) * MaxWeight())
	score := math.Round(total / maxPossible * 100)

	return int(math.Max(0, math.Min(100, score)))
}
