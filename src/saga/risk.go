package saga

import (
	"math/rand/v2"

	"github.com/shopspring/decimal"
)

// Risk is the fraud check verdict.
type Risk string

const (
	RiskLow  Risk = "LOW"
	RiskHigh Risk = "HIGH"
)

// RiskAssessor decides the fraud verdict for a transfer.
type RiskAssessor interface {
	Assess(amount decimal.Decimal, userID string) Risk
}

// AssessorFunc adapts a function to RiskAssessor.
type AssessorFunc func(amount decimal.Decimal, userID string) Risk

func (f AssessorFunc) Assess(amount decimal.Decimal, userID string) Risk {
	return f(amount, userID)
}

// FixedAssessor always returns the same verdict.
func FixedAssessor(r Risk) RiskAssessor {
	return AssessorFunc(func(decimal.Decimal, string) Risk { return r })
}

// RandomAssessor returns HIGH with probability HighRate.
type RandomAssessor struct {
	HighRate float64
}

// NewRandomAssessor creates a RandomAssessor.
func NewRandomAssessor(highRate float64) RandomAssessor {
	return RandomAssessor{HighRate: highRate}
}

func (a RandomAssessor) Assess(amount decimal.Decimal, userID string) Risk {
	if rand.Float64() < a.HighRate {
		return RiskHigh
	}
	return RiskLow
}
