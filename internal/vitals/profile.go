package vitals

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Severity classifies a bundle or a live reading.
type Severity string

const (
	Normal   Severity = "normal"
	Elevated Severity = "elevated"
	Critical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case Normal, Elevated, Critical:
		return true
	}
	return false
}

// ProfileBundle is the fixed set of display values for one persona.
// RiskScore is on a 0..100 scale where higher means riskier.
type ProfileBundle struct {
	RiskScore    int      `json:"riskScore" yaml:"riskScore"`
	MaxSafeBPM   int      `json:"maxSafeBpm" yaml:"maxSafeBpm"`
	StatusLabel  string   `json:"statusLabel" yaml:"statusLabel"`
	AdvisoryText string   `json:"advisoryText" yaml:"advisory"`
	ActionText   string   `json:"actionText" yaml:"action"`
	Severity     Severity `json:"severity" yaml:"severity"`
}

// SafetyScore is the inverse of RiskScore, for views where higher is safer.
func (b ProfileBundle) SafetyScore() int {
	return 100 - b.RiskScore
}

func (b ProfileBundle) validate() error {
	if b.RiskScore < 0 || b.RiskScore > 100 {
		return fmt.Errorf("riskScore %d out of range 0..100", b.RiskScore)
	}
	if b.MaxSafeBPM <= 0 {
		return fmt.Errorf("maxSafeBpm must be positive, got %d", b.MaxSafeBPM)
	}
	if !b.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", b.Severity)
	}
	return nil
}

var defaultProfiles = map[PersonaID]ProfileBundle{
	AtRisk: {
		RiskScore:    85,
		MaxSafeBPM:   125,
		StatusLabel:  "ATTENTION",
		AdvisoryText: "Hypertension detected in the uploaded report. Cardiovascular constraint active.",
		ActionText:   "Running is not allowed. Brisk walking only, max 5 km/h.",
		Severity:     Critical,
	},
	Athletic: {
		RiskScore:    10,
		MaxSafeBPM:   180,
		StatusLabel:  "OPTIMAL",
		AdvisoryText: "Blood parameters in optimal range. Cleared for high-intensity cardio training.",
		ActionText:   "Interval and threshold sessions allowed up to the safe ceiling.",
		Severity:     Normal,
	},
	Wellness: {
		RiskScore:    20,
		MaxSafeBPM:   160,
		StatusLabel:  "GOOD",
		AdvisoryText: "No clinical constraints found. Standard aerobic activity recommended.",
		ActionText:   "30-45 minutes of moderate cardio, 3-5 times a week.",
		Severity:     Normal,
	},
}

// Table maps each persona to its bundle. It must contain the Fallback
// persona; DefaultTable and LoadTable guarantee that.
type Table map[PersonaID]ProfileBundle

// DefaultTable returns a copy of the built-in profile table.
func DefaultTable() Table {
	t := make(Table, len(defaultProfiles))
	for id, b := range defaultProfiles {
		t[id] = b
	}
	return t
}

// Resolve returns the bundle for persona. When hasInput is false no bundle
// is produced and ok is false: callers show the waiting state instead.
// Unknown personas resolve to the Fallback tier.
func (t Table) Resolve(persona PersonaID, hasInput bool) (ProfileBundle, bool) {
	if !hasInput {
		return ProfileBundle{}, false
	}
	if b, ok := t[persona]; ok {
		return b, true
	}
	return t[Fallback], true
}

// Resolve looks persona up in the built-in table.
func Resolve(persona PersonaID, hasInput bool) (ProfileBundle, bool) {
	return Table(defaultProfiles).Resolve(persona, hasInput)
}

var ErrInvalidTable = errors.New("invalid profile table")

type tableFile struct {
	Profiles map[string]ProfileBundle `yaml:"profiles"`
}

// LoadTable reads a YAML profile table of the form
//
//	profiles:
//	  at-risk:
//	    riskScore: 85
//	    maxSafeBpm: 125
//	    ...
//
// Entries are keyed by persona ID, name or alias; two keys naming the same
// persona are rejected. Personas missing from the file keep their built-in
// bundle.
func LoadTable(r io.Reader) (Table, error) {
	var f tableFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidTable, err)
	}

	t := DefaultTable()
	seen := make(map[PersonaID]string, len(f.Profiles))
	for key, b := range f.Profiles {
		id, ok := ParsePersona(key)
		if !ok {
			return nil, fmt.Errorf("%w: unknown persona %q", ErrInvalidTable, key)
		}
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %q and %q both name %s", ErrInvalidTable, prev, key, id)
		}
		seen[id] = key
		if err := b.validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTable, key, err)
		}
		t[id] = b
	}
	return t, nil
}

// LoadTableFile reads the profile table at path, or returns the built-in
// table when path is empty.
func LoadTableFile(path string) (Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profiles: %w", err)
	}
	defer f.Close()

	t, err := LoadTable(f)
	if err != nil {
		return nil, fmt.Errorf("load profiles %s: %w", path, err)
	}
	return t, nil
}
