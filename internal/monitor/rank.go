package monitor

import (
	"sort"

	"github.com/rewired-gh/trendscout/internal/models"
)

// Ranked is an observation with its 1-based position in a run's results.
type Ranked struct {
	Observation models.TrendObservation
	Position    int
}

// Rank orders observations by trend score, highest first, keeping the input
// order for equal scores. At most limit observations are returned; a limit
// below 1 keeps everything. The input slice is not modified.
func Rank(observations []models.TrendObservation, limit int) []Ranked {
	sorted := make([]models.TrendObservation, len(observations))
	copy(sorted, observations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TrendScore > sorted[j].TrendScore
	})

	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	ranked := make([]Ranked, len(sorted))
	for i := range sorted {
		ranked[i] = Ranked{Observation: sorted[i], Position: i + 1}
	}
	return ranked
}

// Dedupe drops observations whose canonical key was already seen, keeping
// the first occurrence.
func Dedupe(observations []models.TrendObservation, language string) []models.TrendObservation {
	seen := make(map[models.CanonicalKey]struct{}, len(observations))
	out := make([]models.TrendObservation, 0, len(observations))
	for i := range observations {
		key := observations[i].Key(language)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, observations[i])
	}
	return out
}
