package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/stellarlinkco/vitalsense/internal/analysis"
	"github.com/stellarlinkco/vitalsense/internal/bus"
	"github.com/stellarlinkco/vitalsense/internal/channel"
	"github.com/stellarlinkco/vitalsense/internal/config"
	"github.com/stellarlinkco/vitalsense/internal/cron"
	"github.com/stellarlinkco/vitalsense/internal/vitals"
)

// Options for creating a Gateway
type Options struct {
	Logger     *zap.Logger
	Registry   *prometheus.Registry
	Rand       vitals.Rand
	Service    *analysis.Service
	BotFactory channel.BotFactory
	SignalChan chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	analysis   *analysis.Service
	channels   *channel.ChannelManager
	cron       *cron.Service
	logger     *zap.Logger
	signalChan chan os.Signal

	mu         sync.Mutex
	sessions   map[string]*session
	monitorJob string
	runCtx     context.Context
	inflight   sync.WaitGroup
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		logger:     logger.Named("gateway"),
		signalChan: opts.SignalChan,
		sessions:   make(map[string]*session),
		runCtx:     context.Background(),
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	g.analysis = opts.Service
	if g.analysis == nil {
		table, err := vitals.LoadTableFile(cfg.Analysis.ProfilesPath)
		if err != nil {
			return nil, err
		}
		g.analysis = analysis.NewService(analysis.Options{
			Table:        table,
			Latency:      cfg.Analysis.LatencyDuration(),
			AllowedTypes: cfg.Analysis.AllowedTypes,
			Rand:         opts.Rand,
			Registerer:   reg,
			Logger:       logger.Named("analysis"),
		})
	}

	g.cron = cron.NewService(logger)
	g.cron.OnJob = g.handleJob

	chMgr, err := channel.NewChannelManager(cfg.Channels, cfg.Gateway, channel.Deps{
		Bus:        g.bus,
		API:        &channel.API{Analysis: g.analysis, Gatherer: reg, Logger: logger.Named("api")},
		BotFactory: opts.BotFactory,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.mu.Lock()
	g.runCtx = ctx
	g.mu.Unlock()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		_ = g.channels.StopAll()
		return fmt.Errorf("start channels: %w", err)
	}
	g.logger.Info("channels started", zap.Strings("channels", g.channels.EnabledChannels()))

	if err := g.ensureMonitorJob(); err != nil {
		g.logger.Warn("monitor job not scheduled", zap.Error(err))
	}
	if err := g.cron.Start(ctx); err != nil {
		g.logger.Warn("cron start", zap.Error(err))
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		g.processLoop(ctx)
	}()

	g.logger.Info("running", zap.String("host", g.cfg.Gateway.Host), zap.Int("port", g.cfg.Gateway.Port))

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	g.logger.Info("shutting down")
	cancel()
	// No analysis can start once the loop has returned.
	<-loopDone
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.logger.Debug("inbound",
				zap.String("channel", msg.Channel),
				zap.String("sender", msg.SenderID),
				zap.String("content", truncate(msg.Content, 80)),
				zap.Int("attachments", len(msg.Attachments)),
			)
			g.handleInbound(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

// send queues msg for delivery unless the gateway is shutting down.
func (g *Gateway) send(ctx context.Context, msg bus.OutboundMessage) {
	select {
	case g.bus.Outbound <- msg:
	case <-ctx.Done():
	}
}

func (g *Gateway) baseContext() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runCtx
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	g.inflight.Wait()
	_ = g.channels.StopAll()
	g.logger.Info("shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
