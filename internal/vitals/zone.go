package vitals

import (
	"math"
	"time"
)

const (
	GaugeMin = 0
	GaugeMax = 200

	// ReferenceReading is the heart rate shown on the gauge right after an
	// analysis, before any live sample arrives.
	ReferenceReading = 90

	// elevatedPercent of the ceiling starts the elevated band.
	elevatedPercent = 85
)

// Classify places bpm relative to the safe ceiling maxSafe.
func Classify(bpm, maxSafe int) Severity {
	switch {
	case bpm > maxSafe:
		return Critical
	case bpm*100 >= maxSafe*elevatedPercent:
		return Elevated
	default:
		return Normal
	}
}

// ElevatedFrom is the first bpm classified as elevated for maxSafe.
func ElevatedFrom(maxSafe int) int {
	return (maxSafe*elevatedPercent + 99) / 100
}

type GaugeZone struct {
	From     int      `json:"from"`
	To       int      `json:"to"`
	Severity Severity `json:"severity"`
}

type Gauge struct {
	Value       int         `json:"value"`
	Min         int         `json:"min"`
	Max         int         `json:"max"`
	SafeCeiling int         `json:"safeCeiling"`
	Severity    Severity    `json:"severity"`
	Zones       []GaugeZone `json:"zones"`
}

// NewGauge lays the safe zone of b over the 0..200 bpm dial.
func NewGauge(b ProfileBundle, value int) Gauge {
	ceiling := min(max(b.MaxSafeBPM, GaugeMin), GaugeMax)
	elevated := min(ElevatedFrom(ceiling), ceiling)
	return Gauge{
		Value:       value,
		Min:         GaugeMin,
		Max:         GaugeMax,
		SafeCeiling: ceiling,
		Severity:    Classify(value, b.MaxSafeBPM),
		Zones: []GaugeZone{
			{From: GaugeMin, To: elevated, Severity: Normal},
			{From: elevated, To: ceiling, Severity: Elevated},
			{From: ceiling, To: GaugeMax, Severity: Critical},
		},
	}
}

// Sample is a simulated live heart-rate reading.
type Sample struct {
	Persona    PersonaID `json:"persona"`
	Timestamp  time.Time `json:"timestamp"`
	BPM        int       `json:"bpm"`
	MaxSafeBPM int       `json:"maxSafeBpm"`
	Severity   Severity  `json:"severity"`
}

const (
	readingJitter = 12.0
	readingFloor  = 45
)

// SimulateReading draws a live reading around ReferenceReading and
// classifies it against b.
func SimulateReading(rng Rand, persona PersonaID, b ProfileBundle, at time.Time) Sample {
	if rng == nil {
		rng = globalRand{}
	}
	bpm := int(math.Round(ReferenceReading + rng.NormFloat64()*readingJitter))
	bpm = min(max(bpm, readingFloor), GaugeMax)
	return Sample{
		Persona:    persona,
		Timestamp:  at,
		BPM:        bpm,
		MaxSafeBPM: b.MaxSafeBPM,
		Severity:   Classify(bpm, b.MaxSafeBPM),
	}
}
