package models

import "strings"

// Rank is the tier a user holds, derived from completed projects.
type Rank string

const (
	RankBronze   Rank = "bronze"
	RankSilver   Rank = "silver"
	RankGold     Rank = "gold"
	RankPlatinum Rank = "platinum"
)

// RankThresholds: completed projects required before rank-up (inclusive lower bounds).
var RankThresholds = []struct {
	Rank     Rank
	Projects int64
}{
	{RankPlatinum, 6},
	{RankGold, 4},
	{RankSilver, 2},
}

// RankOf maps a completed-project count to its rank. Defined for every count and
// non-decreasing in it; negative counts are treated as zero.
func RankOf(completedProjects int64) Rank {
	for _, t := range RankThresholds {
		if completedProjects >= t.Projects {
			return t.Rank
		}
	}
	return RankBronze
}

// CertificateTiers are the ranks that carry a purchasable certificate, lowest first.
var CertificateTiers = []Rank{RankSilver, RankGold, RankPlatinum}

func (r Rank) IsCertificateTier() bool {
	for _, t := range CertificateTiers {
		if r == t {
			return true
		}
	}
	return false
}

// ParseRank accepts any casing ("Gold", "GOLD", "gold").
func ParseRank(s string) (Rank, bool) {
	r := Rank(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RankBronze, RankSilver, RankGold, RankPlatinum:
		return r, true
	}
	return "", false
}

func (r Rank) DisplayName() string {
	switch r {
	case RankSilver:
		return "Silver"
	case RankGold:
		return "Gold"
	case RankPlatinum:
		return "Platinum"
	default:
		return "Bronze"
	}
}
