package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/stellarlinkco/vitalsense/internal/bus"
	"github.com/stellarlinkco/vitalsense/internal/config"
)

type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	logger   *zap.Logger
}

// Deps are the collaborators channels need besides their own config.
type Deps struct {
	Bus        *bus.MessageBus
	API        *API
	BotFactory BotFactory
	Logger     *zap.Logger
}

func NewChannelManager(cfg config.ChannelsConfig, gwCfg config.GatewayConfig, deps Deps) (*ChannelManager, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      deps.Bus,
		logger:   logger.Named("channel-mgr"),
	}

	if cfg.Telegram.Enabled {
		factory := deps.BotFactory
		if factory == nil {
			factory = defaultBotFactory
		}
		ch, err := NewTelegramChannelWithFactory(cfg.Telegram, deps.Bus, factory, logger)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.Register(ch)
	}

	if cfg.WebUI.Enabled {
		ch, err := NewWebUIChannel(cfg.WebUI, gwCfg, deps.Bus, deps.API, logger)
		if err != nil {
			return nil, fmt.Errorf("init webui channel: %w", err)
		}
		m.Register(ch)
	}

	return m, nil
}

// Register adds ch and routes its outbound messages to it.
func (m *ChannelManager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			m.logger.Warn("send failed", zap.String("channel", ch.Name()), zap.Error(err))
		}
	})
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			m.logger.Info("starting", zap.String("channel", name))
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *ChannelManager) StopAll() error {
	for name, ch := range m.channels {
		m.logger.Info("stopping", zap.String("channel", name))
		if err := ch.Stop(); err != nil {
			m.logger.Warn("stop failed", zap.String("channel", name), zap.Error(err))
		}
	}
	return nil
}

// EnabledChannels returns the registered channel names, sorted.
func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
