package engine

import "fleetline/internal/domain"

// Scoring weights. A free load slot dominates everything else so the fleet
// spreads work before it optimizes for quality.
const (
	loadWeight     = 10.0
	ratingWeight   = 5.0
	experienceCap  = 10.0
	reliabilityCap = 10.0
)

// Score rates a partner's fitness for taking one more order. Higher is
// better. currentLoad is passed separately because during a pass the engine
// tracks tentative load in memory ahead of the committed value.
func Score(p domain.Partner, currentLoad, capacity int) float64 {
	s := float64(capacity-currentLoad) * loadWeight
	s += p.Metrics.Rating * ratingWeight
	s += min(float64(p.Metrics.CompletedOrders)/10, experienceCap)
	s += reliabilityCap - min(float64(p.Metrics.CancelledOrders), reliabilityCap)
	return s
}
