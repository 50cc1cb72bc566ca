package gateway

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/stellarlinkco/vitalsense/internal/bus"
	"github.com/stellarlinkco/vitalsense/internal/cron"
	"github.com/stellarlinkco/vitalsense/internal/render"
	"github.com/stellarlinkco/vitalsense/internal/vitals"
)

const monitorJobName = "monitor"

// ensureMonitorJob schedules the live-reading broadcast once.
func (g *Gateway) ensureMonitorJob() error {
	if !g.cfg.Monitor.Enabled {
		return nil
	}
	g.mu.Lock()
	scheduled := g.monitorJob != ""
	g.mu.Unlock()
	if scheduled {
		return nil
	}

	job, err := g.cron.AddJob(monitorJobName,
		cron.Schedule{Kind: cron.KindEvery, Every: g.cfg.Monitor.IntervalDuration()},
		cron.Payload{Action: cron.ActionMonitor},
	)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.monitorJob = job.ID
	g.mu.Unlock()
	g.logger.Info("monitor scheduled", zap.Duration("every", job.Schedule.Every))
	return nil
}

func (g *Gateway) handleJob(job cron.Job) error {
	switch job.Payload.Action {
	case cron.ActionMonitor:
		n := g.broadcastSamples()
		g.logger.Debug("monitor tick", zap.Int("sessions", n))
		return nil
	case cron.ActionDigest:
		return g.sendDigest(job.Payload)
	}
	return fmt.Errorf("unknown job action %q", job.Payload.Action)
}

// broadcastSamples sends a live reading to every session with a report on
// a monitored channel, and returns how many were sent.
func (g *Gateway) broadcastSamples() int {
	type target struct {
		channel, chatID string
		persona         vitals.PersonaID
	}

	g.mu.Lock()
	var targets []target
	for _, s := range g.sessions {
		if s.report == nil || !g.monitors(s.channel) {
			continue
		}
		targets = append(targets, target{s.channel, s.chatID, s.report.Persona.ID})
	}
	g.mu.Unlock()

	ctx := g.baseContext()
	for _, t := range targets {
		sample := g.analysis.Sample(t.persona)
		g.send(ctx, bus.OutboundMessage{
			Channel: t.channel,
			ChatID:  t.chatID,
			Kind:    bus.KindSample,
			Content: render.SampleText(sample),
			Sample:  &sample,
		})
	}
	return len(targets)
}

// sendDigest pushes a fresh history series to the subscribed chat. The
// chat's current persona wins over the one recorded at subscription.
func (g *Gateway) sendDigest(p cron.Payload) error {
	if p.Channel == "" || p.To == "" {
		return fmt.Errorf("digest job without destination")
	}

	persona, _ := vitals.ParsePersona(p.Persona)
	g.mu.Lock()
	if s, ok := g.sessions[bus.SessionKey(p.Channel, p.To)]; ok {
		persona = s.persona
	}
	g.mu.Unlock()

	series := g.analysis.History(persona)
	g.send(g.baseContext(), bus.OutboundMessage{
		Channel: p.Channel,
		ChatID:  p.To,
		Kind:    bus.KindHistory,
		Content: render.HistoryText(series),
		History: &series,
	})
	return nil
}
