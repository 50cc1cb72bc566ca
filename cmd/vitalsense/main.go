package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/stellarlinkco/vitalsense/internal/analysis"
	"github.com/stellarlinkco/vitalsense/internal/config"
	"github.com/stellarlinkco/vitalsense/internal/gateway"
	"github.com/stellarlinkco/vitalsense/internal/logging"
	"github.com/stellarlinkco/vitalsense/internal/render"
	"github.com/stellarlinkco/vitalsense/internal/vitals"
)

var rootCmd = &cobra.Command{
	Use:           "vitalsense",
	Short:         "vitalsense - cardiac safety dashboard demo",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"gateway"},
	Short:   "Start the gateway (web dashboard, telegram, monitor)",
	RunE:    runServe,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a simulated analysis for an example user",
	RunE:  runAnalyze,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print a 12-month safety history for an example user",
	RunE:  runHistory,
}

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List the example users",
	RunE:  runPersonas,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and an editable profile table",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vitalsense status",
	RunE:  runStatus,
}

var (
	verboseFlag bool
	personaFlag string
	fileFlag    string
	latencyFlag time.Duration
	jsonFlag    bool
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Debug logging")

	analyzeCmd.Flags().StringVarP(&personaFlag, "persona", "p", "", "Example user (id, name or alias)")
	analyzeCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "Clinical document to analyze (only its name and size are used)")
	analyzeCmd.Flags().DurationVar(&latencyFlag, "latency", -1, "Simulated processing time (default from config)")
	analyzeCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the report as JSON")

	historyCmd.Flags().StringVarP(&personaFlag, "persona", "p", "", "Example user (id, name or alias)")
	historyCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the series as JSON")

	rootCmd.AddCommand(serveCmd, analyzeCmd, historyCmd, personasCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// cliLogger logs only when --verbose is set.
func cliLogger(cfg *config.Config) (*zap.Logger, error) {
	if !verboseFlag {
		return zap.NewNop(), nil
	}
	return logging.New(config.LogConfig{Level: cfg.Log.Level, Format: config.LogFormatConsole}, true)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log, verboseFlag)
	if err != nil {
		return err
	}
	defer logger.Sync()

	gw, err := gateway.NewWithOptions(cfg, gateway.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(cmd.Context())
}

// newService builds an analysis service from the config, honoring the
// profile override file.
func newService(cfg *config.Config, latency time.Duration, logger *zap.Logger) (*analysis.Service, error) {
	table, err := vitals.LoadTableFile(cfg.Analysis.ProfilesPath)
	if err != nil {
		return nil, err
	}

	return analysis.NewService(analysis.Options{
		Table:        table,
		Latency:      latency,
		AllowedTypes: cfg.Analysis.AllowedTypes,
		Registerer:   prometheus.NewRegistry(),
		Logger:       logger,
	}), nil
}

func selectedPersona(out io.Writer) vitals.PersonaID {
	if personaFlag == "" {
		return vitals.DefaultPersona()
	}
	persona, ok := vitals.ParsePersona(personaFlag)
	if !ok {
		fmt.Fprintf(out, "Unknown user %q, using %s.\n", personaFlag, persona.Info().Label)
	}
	return persona
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := cliLogger(cfg)
	if err != nil {
		return err
	}

	latency := cfg.Analysis.LatencyDuration()
	if latencyFlag >= 0 {
		latency = latencyFlag
	}
	svc, err := newService(cfg, latency, logger)
	if err != nil {
		return err
	}

	persona := selectedPersona(out)
	term := render.NewTerminal()

	if fileFlag == "" {
		fmt.Fprintln(out, term.Waiting(persona, svc.AllowedTypes()))
		return nil
	}

	info, err := os.Stat(fileFlag)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", fileFlag)
	}

	if latency > 0 && !jsonFlag {
		fmt.Fprintln(out, "Analyzing document... extracting vital parameters.")
	}

	report, err := svc.Analyze(cmd.Context(), analysis.Request{
		Persona: persona,
		Upload:  &analysis.Upload{Name: filepath.Base(fileFlag), Size: info.Size()},
	})
	if err != nil {
		return err
	}

	if jsonFlag {
		return writeJSON(out, report)
	}
	fmt.Fprintln(out, term.Report(report))
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	persona := selectedPersona(out)
	series := vitals.GenerateHistory(persona, nil)

	if jsonFlag {
		return writeJSON(out, series)
	}
	fmt.Fprintln(out, render.NewTerminal().History(series))
	return nil
}

func runPersonas(cmd *cobra.Command, args []string) error {
	fmt.Fprintln(cmd.OutOrStdout(), render.NewTerminal().Personas(vitals.DefaultPersona()))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func profilesPath() string {
	return filepath.Join(config.ConfigDir(), "profiles.yaml")
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	if err := writeIfNotExists(out, profilesPath(), defaultProfilesYAML); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s and set analysis.profilesPath to use custom profiles\n", cfgPath)
	fmt.Fprintln(out, "  2. Set VITALSENSE_TELEGRAM_TOKEN to enable the Telegram bot")
	fmt.Fprintln(out, "  3. Run 'vitalsense serve' and open the dashboard")
	return nil
}

func defaultProfilesYAML() ([]byte, error) {
	return yaml.Marshal(map[string]any{"profiles": vitals.DefaultTable()})
}

func writeIfNotExists(out io.Writer, path string, content func() ([]byte, error)) error {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return nil
	}
	data, err := content()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(out, "  Created: %s\n", path)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Gateway: %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Fprintf(out, "WebUI: enabled=%v\n", cfg.Channels.WebUI.Enabled)
	fmt.Fprintf(out, "Telegram: enabled=%v token=%s\n", cfg.Channels.Telegram.Enabled, maskToken(cfg.Channels.Telegram.Token))
	fmt.Fprintf(out, "Analysis latency: %s\n", cfg.Analysis.LatencyDuration())
	if cfg.Analysis.ProfilesPath != "" {
		fmt.Fprintf(out, "Profiles: %s\n", cfg.Analysis.ProfilesPath)
	} else {
		fmt.Fprintln(out, "Profiles: built-in")
	}
	if cfg.Monitor.Enabled {
		fmt.Fprintf(out, "Monitor: every %s on %v\n", cfg.Monitor.IntervalDuration(), cfg.Monitor.Channels)
	} else {
		fmt.Fprintln(out, "Monitor: off")
	}
	fmt.Fprintf(out, "Digest schedule: %s\n", cfg.Digest.Schedule)
	fmt.Fprintf(out, "Log: level=%s format=%s\n", cfg.Log.Level, cfg.Log.Format)
	return nil
}

func maskToken(token string) string {
	switch {
	case token == "":
		return "not set"
	case len(token) > 8:
		return token[:4] + "..." + token[len(token)-4:]
	}
	return "set"
}
