package gateway

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/stellarlinkco/vitalsense/internal/analysis"
	"github.com/stellarlinkco/vitalsense/internal/bus"
	"github.com/stellarlinkco/vitalsense/internal/cron"
	"github.com/stellarlinkco/vitalsense/internal/render"
	"github.com/stellarlinkco/vitalsense/internal/vitals"
)

// session is the dashboard state of one chat.
type session struct {
	channel string
	chatID  string
	persona vitals.PersonaID
	upload  *analysis.Upload
	report  *analysis.Report

	// gen changes with the upload, the persona and each new analysis. An
	// analysis only lands if the session is still at its generation.
	gen uint64
}

// sessionFor returns the session of msg's chat, creating it on first
// contact with the default persona selected.
func (g *Gateway) sessionFor(msg bus.InboundMessage) *session {
	key := msg.SessionKey()
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[key]
	if !ok {
		s = &session{channel: msg.Channel, chatID: msg.ChatID, persona: vitals.DefaultPersona()}
		g.sessions[key] = s
	}
	return s
}

// snapshot copies s under the gateway lock.
func (g *Gateway) snapshot(s *session) session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *s
}

// current reports whether snap still describes the live session under key.
// Callers hold g.mu.
func (g *Gateway) current(key string, s *session, snap session) bool {
	return g.sessions[key] == s && s.gen == snap.gen
}

// closeSession forgets the chat of msg along with its digest jobs.
func (g *Gateway) closeSession(msg bus.InboundMessage) {
	key := msg.SessionKey()
	g.mu.Lock()
	s, ok := g.sessions[key]
	delete(g.sessions, key)
	g.mu.Unlock()
	if !ok {
		return
	}
	n := g.unsubscribe(s)
	g.logger.Debug("session closed", zap.String("session", key), zap.Int("digests", n))
}

func parseCommand(content string) (cmd, arg string) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "/") {
		return "", content
	}
	cmd, arg, _ = strings.Cut(content, " ")
	// Telegram appends the bot name in groups: /history@vitalsense_bot
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func (g *Gateway) reply(ctx context.Context, s *session, kind bus.OutboundKind, content string) {
	g.send(ctx, bus.OutboundMessage{Channel: s.channel, ChatID: s.chatID, Kind: kind, Content: content})
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	if msg.Closed {
		g.closeSession(msg)
		return
	}

	s := g.sessionFor(msg)
	cmd, arg := parseCommand(msg.Content)

	if len(msg.Attachments) > 0 {
		upload := msg.Attachments[len(msg.Attachments)-1].Upload()
		g.mu.Lock()
		s.upload = upload
		s.gen++
		g.mu.Unlock()
		if cmd == "/persona" {
			g.selectPersona(ctx, s, arg, false)
		}
		g.startAnalysis(ctx, s)
		return
	}

	switch cmd {
	case "/start":
		snap := g.snapshot(s)
		g.reply(ctx, s, bus.KindText, render.HelpText())
		g.reply(ctx, s, bus.KindWaiting, render.WaitingText(snap.persona, g.analysis.AllowedTypes()))
	case "/help":
		g.reply(ctx, s, bus.KindText, render.HelpText())
	case "/personas":
		g.reply(ctx, s, bus.KindText, render.PersonasText(g.snapshot(s).persona))
	case "/persona":
		g.selectPersona(ctx, s, arg, true)
	case "/analyze":
		if msg.Channel == "webui" {
			// The dashboard sends /analyze on every file change; no
			// attachment means the file was cleared.
			g.mu.Lock()
			s.upload = nil
			s.report = nil
			s.gen++
			g.mu.Unlock()
		}
		g.startAnalysis(ctx, s)
	case "/history":
		series := g.analysis.History(g.snapshot(s).persona)
		g.send(ctx, bus.OutboundMessage{
			Channel: s.channel,
			ChatID:  s.chatID,
			Kind:    bus.KindHistory,
			Content: render.HistoryText(series),
			History: &series,
		})
	case "/subscribe":
		g.subscribe(ctx, s, arg)
	case "/unsubscribe":
		n := g.unsubscribe(s)
		if n == 0 {
			g.reply(ctx, s, bus.KindText, "No active digest subscription.")
			return
		}
		g.reply(ctx, s, bus.KindText, "Digest subscription removed.")
	case "/pause", "/resume":
		g.pauseDigest(ctx, s, cmd == "/pause")
	case "/digest":
		g.digestNow(ctx, s)
	case "/status":
		g.reply(ctx, s, bus.KindText, g.statusText(s))
	case "":
		if arg == "" {
			return
		}
		g.reply(ctx, s, bus.KindText, "Send a clinical document or a command.\n\n"+render.HelpText())
	default:
		g.reply(ctx, s, bus.KindText, fmt.Sprintf("Unknown command %s. Try /help.", cmd))
	}
}

// selectPersona applies a persona choice. Unknown names select the
// fallback tier and say so.
func (g *Gateway) selectPersona(ctx context.Context, s *session, name string, announce bool) {
	if name == "" {
		g.reply(ctx, s, bus.KindText, render.PersonasText(g.snapshot(s).persona))
		return
	}

	persona, ok := vitals.ParsePersona(name)
	g.mu.Lock()
	if s.persona != persona {
		s.persona = persona
		s.gen++
	}
	if s.report != nil && s.report.Persona.ID != persona {
		s.report = nil
	}
	hasUpload := s.upload != nil
	g.mu.Unlock()

	if !ok {
		g.reply(ctx, s, bus.KindText, fmt.Sprintf("Unknown user %q, using %s.", name, persona.Info().Label))
	}
	if !announce {
		return
	}
	if !hasUpload {
		g.reply(ctx, s, bus.KindWaiting, render.WaitingText(persona, g.analysis.AllowedTypes()))
		return
	}
	if ok {
		g.reply(ctx, s, bus.KindText, fmt.Sprintf("Selected %s. Send /analyze to refresh the report.", persona.Info().Label))
	}
}

// startAnalysis runs the analysis of s's current upload in the
// background. Without an upload the waiting state is sent instead.
func (g *Gateway) startAnalysis(ctx context.Context, s *session) {
	g.mu.Lock()
	s.gen++
	snap := *s
	key := bus.SessionKey(s.channel, s.chatID)
	g.mu.Unlock()

	if snap.upload == nil {
		g.reply(ctx, s, bus.KindWaiting, render.WaitingText(snap.persona, g.analysis.AllowedTypes()))
		return
	}

	g.reply(ctx, s, bus.KindPending, "🔄 Analyzing document... extracting vital parameters.")

	g.inflight.Add(1)
	go func() {
		defer g.inflight.Done()

		report, err := g.analysis.Analyze(ctx, analysis.Request{Persona: snap.persona, Upload: snap.upload})
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		case errors.Is(err, analysis.ErrUnsupportedUpload):
			g.mu.Lock()
			live := g.current(key, s, snap)
			if live {
				s.upload = nil
			}
			g.mu.Unlock()
			if !live {
				return
			}
			g.reply(ctx, s, bus.KindError, fmt.Sprintf("%v. Accepted: %s.", err, strings.Join(g.analysis.AllowedTypes(), ", ")))
			return
		default:
			g.logger.Warn("analysis failed", zap.Error(err))
			g.reply(ctx, s, bus.KindError, "Analysis failed, please try again.")
			return
		}

		g.mu.Lock()
		live := g.current(key, s, snap)
		if live {
			s.report = report
		}
		g.mu.Unlock()
		if !live {
			g.logger.Debug("discarding stale report", zap.String("session", key))
			return
		}

		g.send(ctx, bus.OutboundMessage{
			Channel: s.channel,
			ChatID:  s.chatID,
			Kind:    bus.KindReport,
			Content: render.ReportText(report),
			Report:  report,
		})
	}()
}

func (g *Gateway) subscribe(ctx context.Context, s *session, expr string) {
	if expr == "" {
		expr = g.cfg.Digest.Schedule
	}
	snap := g.snapshot(s)
	g.unsubscribe(s)

	_, err := g.cron.AddJob("digest:"+snap.channel+":"+snap.chatID,
		cron.Schedule{Kind: cron.KindCron, Expr: expr},
		cron.Payload{Action: cron.ActionDigest, Persona: string(snap.persona), Channel: snap.channel, To: snap.chatID},
	)
	if err != nil {
		g.reply(ctx, s, bus.KindError, fmt.Sprintf("Invalid schedule: %v", err))
		return
	}
	g.reply(ctx, s, bus.KindText, fmt.Sprintf("Subscribed to the history digest (%s).", expr))
}

func (g *Gateway) digestJobs(s *session) []cron.Job {
	return g.cron.FindJobs(func(p cron.Payload) bool {
		return p.Action == cron.ActionDigest && p.Channel == s.channel && p.To == s.chatID
	})
}

func (g *Gateway) unsubscribe(s *session) int {
	n := 0
	for _, job := range g.digestJobs(s) {
		if g.cron.RemoveJob(job.ID) {
			n++
		}
	}
	return n
}

func (g *Gateway) pauseDigest(ctx context.Context, s *session, pause bool) {
	jobs := g.digestJobs(s)
	if len(jobs) == 0 {
		g.reply(ctx, s, bus.KindText, "No active digest subscription.")
		return
	}
	for _, job := range jobs {
		if _, err := g.cron.EnableJob(job.ID, !pause); err != nil {
			g.reply(ctx, s, bus.KindError, fmt.Sprintf("Could not update the digest: %v", err))
			return
		}
	}
	if pause {
		g.reply(ctx, s, bus.KindText, "Digest paused. Send /resume to restart it.")
		return
	}
	g.reply(ctx, s, bus.KindText, "Digest resumed.")
}

// digestNow delivers the subscribed digest outside its schedule.
func (g *Gateway) digestNow(ctx context.Context, s *session) {
	jobs := g.digestJobs(s)
	switch {
	case len(jobs) == 0:
		g.reply(ctx, s, bus.KindText, "No active digest subscription. Try /subscribe.")
	case !jobs[0].Enabled:
		g.reply(ctx, s, bus.KindText, "Digest is paused. Send /resume first.")
	default:
		if err := g.cron.RunNow(jobs[0].ID); err != nil {
			g.reply(ctx, s, bus.KindError, fmt.Sprintf("Digest failed: %v", err))
		}
	}
}

func (g *Gateway) statusText(s *session) string {
	snap := g.snapshot(s)
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Selected user:** %s\n", snap.persona.Info().Label)
	if snap.upload != nil {
		fmt.Fprintf(&sb, "**Document:** %s\n", snap.upload.Name)
	} else {
		sb.WriteString("**Document:** none\n")
	}
	if snap.report != nil {
		p := snap.report.Profile
		fmt.Fprintf(&sb, "**Last report:** risk %d/100 (safety %d/100), max %d bpm (%s)\n",
			p.RiskScore, p.SafetyScore(), p.MaxSafeBPM, snap.report.GeneratedAt.Format("2006-01-02 15:04"))
	}
	if jobs := g.digestJobs(s); len(jobs) > 0 {
		state := ""
		if !jobs[0].Enabled {
			state = " (paused)"
		}
		fmt.Fprintf(&sb, "**Digest:** %s%s\n", jobs[0].Schedule.Expr, state)
	} else {
		sb.WriteString("**Digest:** off\n")
	}
	if g.monitors(snap.channel) {
		sb.WriteString("**Live monitor:** on")
	} else {
		sb.WriteString("**Live monitor:** off")
	}
	return sb.String()
}

func (g *Gateway) monitors(channel string) bool {
	return g.cfg.Monitor.Enabled && slices.Contains(g.cfg.Monitor.Channels, channel)
}
