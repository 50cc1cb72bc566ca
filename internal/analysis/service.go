package analysis

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/stellarlinkco/vitalsense/internal/vitals"
)

// DefaultLatency is the simulated processing time of an analysis.
const DefaultLatency = 2 * time.Second

type Request struct {
	Persona vitals.PersonaID
	Upload  *Upload
}

// Report is everything a dashboard shows after an analysis.
type Report struct {
	ID          string               `json:"id"`
	Persona     vitals.Persona       `json:"persona"`
	Profile     vitals.ProfileBundle `json:"profile"`
	Gauge       vitals.Gauge         `json:"gauge"`
	History     vitals.HistorySeries `json:"history"`
	Upload      Upload               `json:"upload"`
	GeneratedAt time.Time            `json:"generatedAt"`
}

type Options struct {
	Table        vitals.Table
	Latency      time.Duration
	AllowedTypes []string
	Rand         vitals.Rand
	Registerer   prometheus.Registerer
	Metrics      *Metrics
	Logger       *zap.Logger
	Now          func() time.Time
}

// Service runs simulated analyses. It is safe for concurrent use.
type Service struct {
	table   vitals.Table
	latency time.Duration
	allowed []string
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu  sync.Mutex
	rng vitals.Rand
}

// NewService builds a Service. A zero Latency means no delay; use
// DefaultLatency for the demo pacing.
func NewService(opts Options) *Service {
	s := &Service{
		table:   opts.Table,
		latency: opts.Latency,
		allowed: opts.AllowedTypes,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     opts.Now,
		rng:     opts.Rand,
	}
	if s.table == nil {
		s.table = vitals.DefaultTable()
	}
	if len(s.allowed) == 0 {
		s.allowed = DefaultAllowedTypes
	}
	if s.metrics == nil && opts.Registerer != nil {
		s.metrics = MustNewMetrics(opts.Registerer)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	return s
}

// AllowedTypes returns the accepted upload extensions.
func (s *Service) AllowedTypes() []string {
	return append([]string(nil), s.allowed...)
}

// Analyze validates the upload, waits the simulated latency and builds a
// report for the requested persona.
func (s *Service) Analyze(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()

	if req.Upload == nil {
		s.reject(ErrNoInput)
		return nil, ErrNoInput
	}
	if err := req.Upload.Validate(s.allowed); err != nil {
		s.reject(err)
		s.logger.Info("upload rejected", zap.String("file", req.Upload.Name), zap.Error(err))
		return nil, err
	}

	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			s.reject(ctx.Err())
			return nil, ctx.Err()
		}
	}

	profile, _ := s.table.Resolve(req.Persona, true)
	report := &Report{
		ID:          uuid.NewString(),
		Persona:     req.Persona.Info(),
		Profile:     profile,
		Gauge:       vitals.NewGauge(profile, vitals.ReferenceReading),
		History:     s.History(req.Persona),
		Upload:      *req.Upload,
		GeneratedAt: s.now(),
	}

	if s.metrics != nil {
		s.metrics.reports.WithLabelValues(string(report.Persona.ID), string(profile.Severity)).Inc()
		s.metrics.duration.Observe(time.Since(start).Seconds())
	}
	s.logger.Info("analysis completed",
		zap.String("report_id", report.ID),
		zap.String("persona", string(report.Persona.ID)),
		zap.String("file", req.Upload.Name),
		zap.Int("risk_score", profile.RiskScore),
		zap.String("severity", string(profile.Severity)),
	)
	return report, nil
}

// Profile resolves persona as if a file had been provided.
func (s *Service) Profile(persona vitals.PersonaID) vitals.ProfileBundle {
	b, _ := s.table.Resolve(persona, true)
	return b
}

// History generates a fresh synthetic series for persona.
func (s *Service) History(persona vitals.PersonaID) vitals.HistorySeries {
	s.mu.Lock()
	series := vitals.GenerateHistory(persona, s.rng)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.history.WithLabelValues(string(series.Trend)).Inc()
	}
	return series
}

// Sample draws a simulated live reading for persona.
func (s *Service) Sample(persona vitals.PersonaID) vitals.Sample {
	profile := s.Profile(persona)

	s.mu.Lock()
	sample := vitals.SimulateReading(s.rng, persona, profile, s.now())
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.samples.WithLabelValues(string(sample.Severity)).Inc()
	}
	return sample
}

func (s *Service) reject(err error) {
	if s.metrics != nil {
		s.metrics.rejected.WithLabelValues(RejectReason(err)).Inc()
	}
}
