// Package risk scores normalized transactions on a 0-100 scale.
//
// The default Heuristic is additive: each matching rule contributes a fixed
// weight and the sum is clamped to [MinScore, MaxScore]. Scorers must be pure
// so the streaming loops can call them from any goroutine.
package risk

import (
	"github.com/devblac/chain-sentinel/internal/alert"
	"github.com/devblac/chain-sentinel/internal/txn"
	"github.com/shopspring/decimal"
)

const (
	MinScore = 0.0
	MaxScore = 100.0

	// DefaultThreshold is the score at or above which an alert is raised.
	DefaultThreshold = 70.0

	// CriticalScore splits warning/high from error/critical.
	CriticalScore = 85.0
)

// Scorer maps a transaction to a score in [MinScore, MaxScore].
type Scorer interface {
	Score(tx txn.Transaction) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(tx txn.Transaction) float64

// Score calls f.
func (f ScorerFunc) Score(tx txn.Transaction) float64 { return f(tx) }

// Heuristic is the additive rule set used by default.
type Heuristic struct {
	LargeValue       decimal.Decimal // native units, strictly greater than
	LargeValueWeight float64
	HighGas          decimal.Decimal // gwei, strictly greater than
	HighGasWeight    float64
	CreationWeight   float64
}

// DefaultHeuristic: value > 100 => +30, gas price > 50 gwei => +20,
// contract creation => +10.
func DefaultHeuristic() Heuristic {
	return Heuristic{
		LargeValue:       decimal.NewFromInt(100),
		LargeValueWeight: 30,
		HighGas:          decimal.NewFromInt(50),
		HighGasWeight:    20,
		CreationWeight:   10,
	}
}

// Score implements Scorer.
func (h Heuristic) Score(tx txn.Transaction) float64 {
	score := 0.0
	if tx.ValueNative.GreaterThan(h.LargeValue) {
		score += h.LargeValueWeight
	}
	if tx.GasPriceGwei.GreaterThan(h.HighGas) {
		score += h.HighGasWeight
	}
	if tx.IsContractCreation() {
		score += h.CreationWeight
	}
	return Clamp(score)
}

// Clamp bounds a score to [MinScore, MaxScore].
func Clamp(score float64) float64 {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Exceeds reports whether score raises an alert under threshold.
func Exceeds(score, threshold float64) bool {
	return score >= threshold
}

// Classify buckets a score into the alert kind and severity it raises.
func Classify(score float64) (alert.Kind, alert.Severity) {
	if score >= CriticalScore {
		return alert.KindError, alert.SeverityCritical
	}
	return alert.KindWarning, alert.SeverityHigh
}
