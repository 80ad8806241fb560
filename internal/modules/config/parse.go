package config

import (
	"strconv"
	"strings"

	"webhook_trader/internal/models"
)

// ParsePercent: "10%" -> 0.1, "0.1" -> 0.1, "10" -> 0.1.
// Пустое или мусор -> 0. Идемпотентна на собственном результате.
func ParsePercent(input string) float64 {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0
	}
	if i := strings.IndexByte(s, '%'); i >= 0 {
		v, err := strconv.ParseFloat(strings.TrimSpace(s[:i]), 64)
		if err != nil {
			return 0
		}
		return v / 100
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return NormalizePercent(v)
}

// NormalizePercent: значения >= 1 считаются записанными в процентах.
func NormalizePercent(v float64) float64 {
	if v >= 1 {
		return v / 100
	}
	return v
}

// ParseClosePercents "30%,50%" -> [0.3 0.5].
func ParseClosePercents(s string) []float64 {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		out = append(out, ParsePercent(p))
	}
	return out
}

// ParsePercentPairs "50%:10%, 20%:30%" -> [[0.5 0.1] [0.2 0.3]].
// Отсутствующий член пары остаётся нулём.
func ParsePercentPairs(s string) [][2]float64 {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out [][2]float64
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		var pair [2]float64
		members := strings.SplitN(entry, ":", 2)
		pair[0] = ParsePercent(members[0])
		if len(members) > 1 {
			pair[1] = ParsePercent(members[1])
		}
		out = append(out, pair)
	}
	return out
}

// ParseRoeTiers пары roe:sl, отсортированные по убыванию порога.
func ParseRoeTiers(s string) []models.RoeTier {
	pairs := ParsePercentPairs(s)
	tiers := make([]models.RoeTier, 0, len(pairs))
	for _, p := range pairs {
		tiers = append(tiers, models.RoeTier{Roe: p[0], StopLoss: p[1]})
	}
	return models.SortRoeTiers(tiers)
}

// ParseSymbolValues "BTCUSDT:100,ETHUSDT:50".
func ParseSymbolValues(s string) map[string]float64 {
	out := make(map[string]float64)
	for _, entry := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || key == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			v = 0
		}
		out[strings.ToUpper(strings.TrimSpace(key))] = v
	}
	return out
}

// ParseLeverages "BTCUSDT:20,ETHUSDT:10".
func ParseLeverages(s string) map[string]int {
	out := make(map[string]int)
	for k, v := range ParseSymbolValues(s) {
		out[k] = int(v)
	}
	return out
}
