package engine_test

import (
	"math"
	"testing"

	"fleetline/internal/domain"
	"fleetline/internal/engine"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScoreKnownValues(t *testing.T) {
	// Seasoned partner with half its capacity used.
	p1 := domain.Partner{Metrics: domain.PartnerMetrics{Rating: 4.8, CompletedOrders: 156, CancelledOrders: 3}}
	if got := engine.Score(p1, 2, 3); !almostEqual(got, 51.0) {
		t.Fatalf("want 51.0, got %v", got)
	}
	// Idle partner with a shorter track record still outranks it.
	p5 := domain.Partner{Metrics: domain.PartnerMetrics{Rating: 4.6, CompletedOrders: 87, CancelledOrders: 4}}
	if got := engine.Score(p5, 0, 3); !almostEqual(got, 67.7) {
		t.Fatalf("want 67.7, got %v", got)
	}
}

func TestScoreMonotonicInLoad(t *testing.T) {
	p := domain.Partner{Metrics: domain.PartnerMetrics{Rating: 4.0, CompletedOrders: 50}}
	prev := engine.Score(p, 0, 3)
	for load := 1; load < 3; load++ {
		cur := engine.Score(p, load, 3)
		if cur >= prev {
			t.Fatalf("score must drop with load: %v then %v at load %d", prev, cur, load)
		}
		prev = cur
	}
}

func TestScoreExperienceCapped(t *testing.T) {
	rookie := domain.Partner{Metrics: domain.PartnerMetrics{CompletedOrders: 100}}
	veteran := domain.Partner{Metrics: domain.PartnerMetrics{CompletedOrders: 5000}}
	if engine.Score(rookie, 0, 3) != engine.Score(veteran, 0, 3) {
		t.Fatalf("completed-order bonus must cap at 100 orders")
	}
}

func TestScoreReliabilityFloored(t *testing.T) {
	flaky := domain.Partner{Metrics: domain.PartnerMetrics{CancelledOrders: 10}}
	disaster := domain.Partner{Metrics: domain.PartnerMetrics{CancelledOrders: 500}}
	if engine.Score(flaky, 0, 3) != engine.Score(disaster, 0, 3) {
		t.Fatalf("cancellation penalty must cap at 10")
	}
	clean := domain.Partner{}
	if engine.Score(clean, 0, 3)-engine.Score(flaky, 0, 3) != 10 {
		t.Fatalf("full penalty must be exactly 10 points")
	}
}
