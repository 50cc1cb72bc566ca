package vitals

import (
	"math"
	"math/rand/v2"
	"time"
)

// HistoryLength is the number of monthly points in every series.
const HistoryLength = 12

// AnchorMonth is the first month of every generated series.
var AnchorMonth = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Trend labels the shape of a history series.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendVariable  Trend = "variable"
)

// Rand is the randomness a generator needs. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	NormFloat64() float64
	IntN(n int) int
}

type HistoryPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	SafetyScore float64   `json:"safetyScore"`
}

type HistorySeries struct {
	Persona PersonaID      `json:"persona"`
	Points  []HistoryPoint `json:"points"`
	Trend   Trend          `json:"trend"`
}

// Values returns the safety scores in time order.
func (s HistorySeries) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.SafetyScore
	}
	return out
}

const (
	athleticStart  = 60.0
	athleticEnd    = 95.0
	athleticJitter = 2.0

	atRiskMean   = 82.0
	atRiskJitter = 5.0
	atRiskFloor  = 70.0
	atRiskCeil   = 95.0

	variableMin  = 70
	variableSpan = 20
)

// GenerateHistory builds a fresh synthetic series for persona. A nil rng
// uses the process-wide source.
func GenerateHistory(persona PersonaID, rng Rand) HistorySeries {
	if rng == nil {
		rng = globalRand{}
	}

	dates := MonthEnds(AnchorMonth, HistoryLength)
	points := make([]HistoryPoint, HistoryLength)

	var trend Trend
	switch persona {
	case Athletic:
		trend = TrendImproving
		step := (athleticEnd - athleticStart) / float64(HistoryLength-1)
		for i := range points {
			base := athleticStart + step*float64(i)
			points[i].SafetyScore = base + rng.NormFloat64()*athleticJitter
		}
	case AtRisk:
		trend = TrendStable
		for i := range points {
			v := atRiskMean + rng.NormFloat64()*atRiskJitter
			points[i].SafetyScore = math.Min(atRiskCeil, math.Max(atRiskFloor, v))
		}
	default:
		trend = TrendVariable
		for i := range points {
			points[i].SafetyScore = float64(variableMin + rng.IntN(variableSpan))
		}
	}

	for i := range points {
		points[i].Timestamp = dates[i]
	}
	return HistorySeries{Persona: persona, Points: points, Trend: trend}
}

// MonthEnds returns n consecutive month-end dates, the first being the last
// day of start's month.
func MonthEnds(start time.Time, n int) []time.Time {
	y, m, _ := start.Date()
	out := make([]time.Time, n)
	for i := range out {
		// day 0 of the following month normalizes to the last day of this one
		out[i] = time.Date(y, m+time.Month(i)+1, 0, 0, 0, 0, 0, start.Location())
	}
	return out
}

type globalRand struct{}

func (globalRand) Float64() float64     { return rand.Float64() }
func (globalRand) NormFloat64() float64 { return rand.NormFloat64() }
func (globalRand) IntN(n int) int       { return rand.IntN(n) }
