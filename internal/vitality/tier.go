package vitality

// Tier is a coarse status bucket for a vitality value.
type Tier string

const (
	TierBlazing      Tier = "blazing"
	TierBurning      Tier = "burning"
	TierFading       Tier = "fading"
	TierExtinguished Tier = "extinguished"
)

// Tier thresholds. A value equal to a threshold falls into the lower tier.
const (
	BlazingAbove = 80.0
	BurningAbove = 50.0
	FadingAbove  = 10.0
)

// Tiers lists all tiers from highest to lowest.
var Tiers = []Tier{TierBlazing, TierBurning, TierFading, TierExtinguished}

// Classify maps a vitality value to its tier.
func Classify(v float64) Tier {
	switch {
	case v > BlazingAbove:
		return TierBlazing
	case v > BurningAbove:
		return TierBurning
	case v > FadingAbove:
		return TierFading
	default:
		return TierExtinguished
	}
}

// Rank orders tiers: 3 for blazing down to 0 for extinguished.
func (t Tier) Rank() int {
	switch t {
	case TierBlazing:
		return 3
	case TierBurning:
		return 2
	case TierFading:
		return 1
	default:
		return 0
	}
}

// Floor returns the exclusive lower bound of the tier. The lowest tier reports 0.
func (t Tier) Floor() float64 {
	switch t {
	case TierBlazing:
		return BlazingAbove
	case TierBurning:
		return BurningAbove
	case TierFading:
		return FadingAbove
	default:
		return 0
	}
}
