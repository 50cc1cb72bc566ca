package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/vitalsense/internal/analysis"
	"github.com/stellarlinkco/vitalsense/internal/config"
	"github.com/stellarlinkco/vitalsense/internal/vitals"
)

// newTestCmd isolates HOME and the flag globals, returning a command whose
// output is captured.
func newTestCmd(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{"VITALSENSE_TELEGRAM_TOKEN", "VITALSENSE_PROFILES_PATH", "VITALSENSE_ANALYSIS_LATENCY"} {
		t.Setenv(key, "")
	}

	verboseFlag, personaFlag, fileFlag, jsonFlag = false, "", "", false
	latencyFlag = 0
	t.Cleanup(func() {
		verboseFlag, personaFlag, fileFlag, jsonFlag = false, "", "", false
		latencyFlag = -1
	})

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	return cmd, &out
}

func writeDoc(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("%PDF-1.4 fake"), 0644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	return path
}

func TestInit(t *testing.T) {
	want := map[string]bool{"serve": false, "analyze": false, "history": false, "personas": false, "onboard": false, "status": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing command %q", name)
		}
	}

	if rootCmd.PersistentFlags().Lookup("verbose") == nil {
		t.Error("missing --verbose flag")
	}
	for _, name := range []string{"persona", "file", "latency", "json"} {
		if analyzeCmd.Flags().Lookup(name) == nil {
			t.Errorf("analyze missing --%s flag", name)
		}
	}
	if historyCmd.Flags().Lookup("persona") == nil {
		t.Error("history missing --persona flag")
	}
}

func TestRunAnalyze_Waiting(t *testing.T) {
	cmd, out := newTestCmd(t)

	if err := runAnalyze(cmd, nil); err != nil {
		t.Fatalf("runAnalyze error: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Waiting for input.") {
		t.Errorf("output missing waiting state: %q", got)
	}
	if !strings.Contains(got, "Francesco (Amateur Athlete)") {
		t.Errorf("output should name the default persona: %q", got)
	}
}

func TestRunAnalyze_Report(t *testing.T) {
	cmd, out := newTestCmd(t)
	personaFlag = "Mario"
	fileFlag = writeDoc(t, "ecg.pdf")

	if err := runAnalyze(cmd, nil); err != nil {
		t.Fatalf("runAnalyze error: %v", err)
	}
	got := out.String()
	for _, want := range []string{"85/100", "125 bpm", "ATTENTION"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestRunAnalyze_JSON(t *testing.T) {
	cmd, out := newTestCmd(t)
	personaFlag = "athletic"
	fileFlag = writeDoc(t, "scan.PNG")
	jsonFlag = true

	if err := runAnalyze(cmd, nil); err != nil {
		t.Fatalf("runAnalyze error: %v", err)
	}

	var report analysis.Report
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("Unmarshal error: %v\n%s", err, out.String())
	}
	if report.Persona.ID != vitals.Athletic {
		t.Errorf("persona = %q, want athletic", report.Persona.ID)
	}
	if report.Profile.MaxSafeBPM != 180 || report.Profile.RiskScore != 10 {
		t.Errorf("profile = %+v", report.Profile)
	}
	if report.Upload.Name != "scan.PNG" {
		t.Errorf("upload name = %q", report.Upload.Name)
	}
	if len(report.History.Points) != 12 {
		t.Errorf("history points = %d, want 12", len(report.History.Points))
	}
}

func TestRunAnalyze_UnknownPersona(t *testing.T) {
	cmd, out := newTestCmd(t)
	personaFlag = "Zed"
	fileFlag = writeDoc(t, "doc.pdf")

	if err := runAnalyze(cmd, nil); err != nil {
		t.Fatalf("runAnalyze error: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, `Unknown user "Zed"`) {
		t.Errorf("output missing unknown user notice: %q", got)
	}
	if !strings.Contains(got, "160 bpm") {
		t.Error("unknown persona should resolve to the fallback bundle")
	}
}

func TestRunAnalyze_UnsupportedFile(t *testing.T) {
	cmd, _ := newTestCmd(t)
	fileFlag = writeDoc(t, "notes.txt")

	err := runAnalyze(cmd, nil)
	if err == nil {
		t.Fatal("expected error for unsupported file")
	}
	if analysis.RejectReason(err) != "unsupported" {
		t.Errorf("reason = %q, err = %v", analysis.RejectReason(err), err)
	}
}

func TestRunAnalyze_MissingFile(t *testing.T) {
	cmd, _ := newTestCmd(t)
	fileFlag = filepath.Join(t.TempDir(), "missing.pdf")

	if err := runAnalyze(cmd, nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRunAnalyze_Directory(t *testing.T) {
	cmd, _ := newTestCmd(t)
	fileFlag = t.TempDir()

	if err := runAnalyze(cmd, nil); err == nil || !strings.Contains(err.Error(), "directory") {
		t.Fatalf("err = %v, want directory error", err)
	}
}

func TestRunAnalyze_Canceled(t *testing.T) {
	cmd, _ := newTestCmd(t)
	fileFlag = writeDoc(t, "doc.pdf")
	latencyFlag = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cmd.SetContext(ctx)

	if err := runAnalyze(cmd, nil); err == nil {
		t.Fatal("expected error for canceled analysis")
	}
}

func TestRunAnalyze_ProfilesOverride(t *testing.T) {
	cmd, out := newTestCmd(t)
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	yml := "profiles:\n  Serena:\n    riskScore: 70\n    maxSafeBpm: 115\n    statusLabel: WATCH\n    advisory: Keep it light.\n    action: Walk.\n    severity: elevated\n"
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VITALSENSE_PROFILES_PATH", path)
	personaFlag = "serena"
	fileFlag = writeDoc(t, "doc.pdf")
	jsonFlag = true

	if err := runAnalyze(cmd, nil); err != nil {
		t.Fatalf("runAnalyze error: %v", err)
	}
	var report analysis.Report
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if report.Profile.MaxSafeBPM != 115 || report.Profile.StatusLabel != "WATCH" {
		t.Errorf("profile = %+v, want override", report.Profile)
	}
}

func TestRunAnalyze_BadProfiles(t *testing.T) {
	cmd, _ := newTestCmd(t)
	t.Setenv("VITALSENSE_PROFILES_PATH", filepath.Join(t.TempDir(), "nope.yaml"))

	if err := runAnalyze(cmd, nil); err == nil {
		t.Fatal("expected error for missing profiles file")
	}
}

func TestRunHistory(t *testing.T) {
	cmd, out := newTestCmd(t)
	personaFlag = "at-risk"

	if err := runHistory(cmd, nil); err != nil {
		t.Fatalf("runHistory error: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Serena (Chronic Patient)") {
		t.Errorf("output missing persona label: %q", got)
	}
	if !strings.Contains(got, "Jan 2024") || !strings.Contains(got, "Dec 2024") {
		t.Error("output should cover Jan..Dec 2024")
	}
	if !strings.Contains(got, "trend: stable") {
		t.Error("at-risk history should be stable")
	}
}

func TestRunHistory_JSON(t *testing.T) {
	cmd, out := newTestCmd(t)
	jsonFlag = true

	if err := runHistory(cmd, nil); err != nil {
		t.Fatalf("runHistory error: %v", err)
	}
	var series vitals.HistorySeries
	if err := json.Unmarshal(out.Bytes(), &series); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if series.Persona != vitals.Athletic || series.Trend != vitals.TrendImproving {
		t.Errorf("series = %s/%s, want athletic/improving", series.Persona, series.Trend)
	}
	if len(series.Points) != 12 {
		t.Fatalf("points = %d, want 12", len(series.Points))
	}
	for _, p := range series.Points {
		if p.SafetyScore < 0 || p.SafetyScore > 100 {
			t.Errorf("score %v out of range", p.SafetyScore)
		}
	}
}

func TestRunPersonas(t *testing.T) {
	cmd, out := newTestCmd(t)

	if err := runPersonas(cmd, nil); err != nil {
		t.Fatalf("runPersonas error: %v", err)
	}
	got := out.String()
	for _, p := range vitals.Personas() {
		if !strings.Contains(got, p.Label) {
			t.Errorf("output missing %q", p.Label)
		}
	}
	if !strings.Contains(got, "Mario") {
		t.Error("output should list aliases")
	}
}

func TestRunOnboard(t *testing.T) {
	cmd, out := newTestCmd(t)

	if err := runOnboard(cmd, nil); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}

	if _, err := os.Stat(config.ConfigPath()); err != nil {
		t.Errorf("config not created: %v", err)
	}
	if !strings.Contains(out.String(), "Created config") {
		t.Errorf("output = %q", out.String())
	}

	f, err := os.Open(profilesPath())
	if err != nil {
		t.Fatalf("profiles not created: %v", err)
	}
	defer f.Close()
	table, err := vitals.LoadTable(f)
	if err != nil {
		t.Fatalf("generated profiles do not load: %v", err)
	}
	if table[vitals.AtRisk].MaxSafeBPM != 125 {
		t.Errorf("at-risk max = %d, want 125", table[vitals.AtRisk].MaxSafeBPM)
	}
}

func TestRunOnboard_AlreadyExists(t *testing.T) {
	cmd, out := newTestCmd(t)

	if err := runOnboard(cmd, nil); err != nil {
		t.Fatalf("first runOnboard error: %v", err)
	}
	if err := os.WriteFile(profilesPath(), []byte("profiles: {}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	out.Reset()

	if err := runOnboard(cmd, nil); err != nil {
		t.Fatalf("second runOnboard error: %v", err)
	}
	if !strings.Contains(out.String(), "Config already exists") {
		t.Errorf("output = %q", out.String())
	}

	data, err := os.ReadFile(profilesPath())
	if err != nil {
		t.Fatal(err)
	}
	// Should not overwrite
	if string(data) != "profiles: {}\n" {
		t.Errorf("profiles overwritten: %q", data)
	}
}

func TestRunStatus(t *testing.T) {
	cmd, out := newTestCmd(t)

	if err := runStatus(cmd, nil); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	got := out.String()
	for _, want := range []string{"Config:", "Gateway: 0.0.0.0:18790", "token=not set", "Profiles: built-in", "Monitor: every 5s", "Digest schedule: 0 0 8 * * *"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q\n%s", want, got)
		}
	}
}

func TestRunStatus_WithToken(t *testing.T) {
	cmd, out := newTestCmd(t)
	t.Setenv("VITALSENSE_TELEGRAM_TOKEN", "123456789:abcdefgh")

	if err := runStatus(cmd, nil); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	if !strings.Contains(out.String(), "token=1234...efgh") {
		t.Errorf("token not masked: %q", out.String())
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "not set"},
		{"short", "set"},
		{"0123456789", "0123...6789"},
	}
	for _, tt := range tests {
		if got := maskToken(tt.in); got != tt.want {
			t.Errorf("maskToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRunServe_BadConfig(t *testing.T) {
	cmd, _ := newTestCmd(t)
	dir := filepath.Join(os.Getenv("HOME"), ".vitalsense")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{bad"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := runServe(cmd, nil); err == nil {
		t.Fatal("expected error for invalid config")
	}
}
