package channel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stellarlinkco/vitalsense/internal/analysis"
	"github.com/stellarlinkco/vitalsense/internal/vitals"
)

// API serves the dashboard's JSON endpoints directly from the analysis
// service, without going through the bus.
type API struct {
	Analysis *analysis.Service
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type analyzeRequest struct {
	Persona string           `json:"persona"`
	File    *analysis.Upload `json:"file"`
}

type personaView struct {
	vitals.Persona
	Default bool `json:"default,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
	State string `json:"state,omitempty"`
}

func (a *API) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/personas", a.handlePersonas)
	mux.HandleFunc("POST /api/analyze", a.handleAnalyze)
	mux.HandleFunc("GET /api/history", a.handleHistory)
	mux.HandleFunc("GET /api/profile", a.handleProfile)

	gatherer := a.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

func (a *API) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

func (a *API) handlePersonas(w http.ResponseWriter, r *http.Request) {
	def := vitals.DefaultPersona()
	out := make([]personaView, 0, 3)
	for _, p := range vitals.Personas() {
		out = append(out, personaView{Persona: p, Default: p.ID == def})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	persona := personaParam(req.Persona)
	report, err := a.Analysis.Analyze(r.Context(), analysis.Request{Persona: persona, Upload: req.File})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, analysis.ErrNoInput):
		writeJSON(w, http.StatusAccepted, errorBody{Error: err.Error(), State: "waiting"})
	case errors.Is(err, analysis.ErrUnsupportedUpload):
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody{Error: err.Error()})
	default:
		a.logger().Warn("analyze failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	}
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	persona := personaParam(r.URL.Query().Get("persona"))
	writeJSON(w, http.StatusOK, a.Analysis.History(persona))
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	persona := personaParam(r.URL.Query().Get("persona"))
	profile := a.Analysis.Profile(persona)
	writeJSON(w, http.StatusOK, map[string]any{
		"persona": persona.Info(),
		"profile": profile,
		"gauge":   vitals.NewGauge(profile, vitals.ReferenceReading),
	})
}

// personaParam resolves a request's persona. No persona means the
// dashboard default; an unknown one falls back to the standard tier.
func personaParam(s string) vitals.PersonaID {
	if strings.TrimSpace(s) == "" {
		return vitals.DefaultPersona()
	}
	persona, _ := vitals.ParsePersona(s)
	return persona
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
