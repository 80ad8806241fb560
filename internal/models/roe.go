package models

import "sort"

// RoeTier порог ROE и процент SL, который ставится при его достижении.
type RoeTier struct {
	Roe      float64 `json:"roe"`
	StopLoss float64 `json:"stopLoss"`
}

// SortRoeTiers по убыванию порога: меньший индекс = более плотный стоп.
func SortRoeTiers(tiers []RoeTier) []RoeTier {
	out := make([]RoeTier, len(tiers))
	copy(out, tiers)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Roe > out[j].Roe })
	return out
}

// MatchRoeTier первый (самый высокий) порог, который roe уже достиг.
// tiers должны быть отсортированы SortRoeTiers.
func MatchRoeTier(tiers []RoeTier, roe float64) (RoeTier, int, bool) {
	for i, t := range tiers {
		if t.Roe != 0 && t.Roe <= roe {
			return t, i, true
		}
	}
	return RoeTier{}, -1, false
}
