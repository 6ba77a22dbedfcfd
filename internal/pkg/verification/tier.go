package verification

type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

//nolint:gochecknoglobals
var tierWeights = map[Tier]int{
	TierBronze:   10,
	TierSilver:   25,
	TierGold:     40,
	TierPlatinum: 60,
}

const (
	PlatinumReputation = 8000
	GoldReputation     = 6000
	SilverReputation   = 4000
)

func (t Tier) Valid() bool {
	_, ok := tierWeights[t]

	return ok
}

// Weight returns the voting weight of the tier, or 0 for an unknown tier.
func (t Tier) Weight() int {
	return tierWeights[t]
}

func MaxWeight() int {
	return TierPlatinum.Weight()
}

func TierForReputation(score int64) Tier {
	switch {
	case score >= PlatinumReputation:
		return TierPlatinum
	case score >= GoldReputation:
		return TierGold
	case score >= SilverReputation:
		return TierSilver
	default:
		return TierBronze
	}
}
