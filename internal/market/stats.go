package market

import (
	"sort"

	"agora/internal/model"
)

// Stats summarizes the current generation's revenue distribution.
type Stats struct {
	MeanRevenue float64
	MaxRevenue  float64
	MinRevenue  float64
	// Gini is the Gini coefficient of the revenue distribution, 0 when
	// total revenue is zero.
	Gini float64
	// HHI is the Herfindahl-Hirschman concentration index of revenue
	// shares; uniform shares over n agents yield exactly 1/n.
	HHI float64
	// Revenue is the full per-agent revenue map for the generation.
	Revenue map[model.AgentID]float64
}

// MarketStats computes revenue statistics for the current generation.
// ok is false before any RecordResults call.
func (e *Engine) MarketStats() (Stats, bool) {
	n := len(e.agentRevenues)
	if n == 0 {
		return Stats{}, false
	}

	revenues := make([]float64, 0, n)
	distribution := make(map[model.AgentID]float64, n)
	for agentID, revenue := range e.agentRevenues {
		revenues = append(revenues, revenue)
		distribution[agentID] = revenue
	}
	sort.Float64s(revenues)

	total := 0.0
	for _, r := range revenues {
		total += r
	}
	minRev := revenues[0]
	maxRev := revenues[n-1]

	gini := 0.0
	if total > 0 {
		giniSum := 0.0
		for i, r := range revenues {
			giniSum += float64(2*(i+1)-n-1) * r
		}
		gini = giniSum / (float64(n) * total)
	}

	hhi := 0.0
	if total > 0 {
		for _, r := range revenues {
			share := r / total
			hhi += share * share
		}
	} else {
		share := 1.0 / float64(n)
		hhi = float64(n) * share * share
	}

	return Stats{
		MeanRevenue: total / float64(n),
		MaxRevenue:  maxRev,
		MinRevenue:  minRev,
		Gini:        gini,
		HHI:         hhi,
		Revenue:     distribution,
	}, true
}

// Fields flattens the scalar statistics into a string-keyed map for history
// records and run artifacts.
func (s Stats) Fields() map[string]float64 {
	return map[string]float64{
		"mean_revenue":     s.MeanRevenue,
		"max_revenue":      s.MaxRevenue,
		"min_revenue":      s.MinRevenue,
		"gini_coefficient": s.Gini,
		"hhi":              s.HHI,
	}
}
