package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/stellarlinkco/vitalsense/internal/analysis"
	"github.com/stellarlinkco/vitalsense/internal/bus"
	"github.com/stellarlinkco/vitalsense/internal/config"
	"github.com/stellarlinkco/vitalsense/internal/vitals"
)

func newTestWebUI(t *testing.T, b *bus.MessageBus) (*WebUIChannel, *httptest.Server) {
	t.Helper()
	ch, err := NewWebUIChannel(config.WebUIConfig{Enabled: true}, config.GatewayConfig{}, b, testAPI(), nil)
	if err != nil {
		t.Fatalf("NewWebUIChannel: %v", err)
	}
	handler, err := ch.Handler()
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return ch, srv
}

func dialWS(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func writeFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, f wsFrame) {
	t.Helper()
	data, _ := json.Marshal(f)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("ws write: %v", err)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) wsFrame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var f wsFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return f
}

func waitInbound(t *testing.T, b *bus.MessageBus) bus.InboundMessage {
	t.Helper()
	select {
	case msg := <-b.Inbound:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for inbound message")
	}
	return bus.InboundMessage{}
}

func waitClients(t *testing.T, ch *WebUIChannel, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(ch.Connected()) < n && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := len(ch.Connected()); got < n {
		t.Fatalf("connected clients = %d, want %d", got, n)
	}
}

func TestNewWebUIChannel(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, err := NewWebUIChannel(config.WebUIConfig{Enabled: true}, config.GatewayConfig{Port: 0}, b, testAPI(), nil)
	if err != nil {
		t.Fatalf("NewWebUIChannel: %v", err)
	}
	if ch.Name() != "webui" {
		t.Errorf("Name() = %q, want %q", ch.Name(), "webui")
	}
	if !strings.HasSuffix(ch.addr, ":18790") {
		t.Errorf("addr = %q, want default port", ch.addr)
	}
}

func TestNewWebUIChannel_RequiresAPI(t *testing.T) {
	b := bus.NewMessageBus(10)
	if _, err := NewWebUIChannel(config.WebUIConfig{}, config.GatewayConfig{}, b, nil, nil); err == nil {
		t.Error("expected error without API")
	}
	if _, err := NewWebUIChannel(config.WebUIConfig{}, config.GatewayConfig{}, b, &API{}, nil); err == nil {
		t.Error("expected error without analysis service")
	}
}

func TestWebUIChannel_StartStop(t *testing.T) {
	b := bus.NewMessageBus(10)
	gwCfg := config.GatewayConfig{Host: "127.0.0.1", Port: 19876}

	ch, err := NewWebUIChannel(config.WebUIConfig{Enabled: true}, gwCfg, b, testAPI(), nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://127.0.0.1:19876/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("GET / status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "VitalSense AI") {
		t.Error("dashboard page not served")
	}

	if err := ch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestWebUIChannel_Start_PortInUse(t *testing.T) {
	b := bus.NewMessageBus(10)
	gwCfg := config.GatewayConfig{Host: "127.0.0.1", Port: 19879}

	first, _ := NewWebUIChannel(config.WebUIConfig{}, gwCfg, b, testAPI(), nil)
	if err := first.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer first.Stop()

	second, _ := NewWebUIChannel(config.WebUIConfig{}, gwCfg, b, testAPI(), nil)
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected listen error for a busy port")
	}
}

func TestWebUIChannel_WebSocket(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, srv := newTestWebUI(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, srv)

	writeFrame(t, ctx, conn, wsFrame{Type: "message", Content: "hello from test"})

	inbound := waitInbound(t, b)
	if inbound.Channel != "webui" {
		t.Errorf("channel = %q, want %q", inbound.Channel, "webui")
	}
	if inbound.Content != "hello from test" {
		t.Errorf("content = %q, want %q", inbound.Content, "hello from test")
	}
	if !strings.HasPrefix(inbound.ChatID, "webui-") {
		t.Errorf("chatID = %q, want prefix %q", inbound.ChatID, "webui-")
	}

	sample := vitals.Sample{Persona: vitals.AtRisk, BPM: 130, MaxSafeBPM: 125, Severity: vitals.Critical}
	if err := ch.Send(bus.OutboundMessage{
		Channel: "webui",
		ChatID:  inbound.ChatID,
		Kind:    bus.KindSample,
		Content: "130 bpm",
		Sample:  &sample,
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	resp := readFrame(t, ctx, conn)
	if resp.Type != "sample" {
		t.Errorf("resp type = %q, want sample", resp.Type)
	}
	if resp.Sample == nil || resp.Sample.BPM != 130 || resp.Sample.Severity != vitals.Critical {
		t.Errorf("resp sample = %+v", resp.Sample)
	}
}

func TestWebUIChannel_DashboardActions(t *testing.T) {
	b := bus.NewMessageBus(10)
	_, srv := newTestWebUI(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, srv)

	writeFrame(t, ctx, conn, wsFrame{Type: "select", Persona: "serena"})
	if msg := waitInbound(t, b); msg.Content != "/persona serena" {
		t.Errorf("select -> %q", msg.Content)
	}

	writeFrame(t, ctx, conn, wsFrame{Type: "upload", File: &analysis.Upload{Name: "ecg.pdf", MimeType: "application/pdf", Size: 10}})
	msg := waitInbound(t, b)
	if msg.Content != "/analyze" || len(msg.Attachments) != 1 || msg.Attachments[0].Name != "ecg.pdf" {
		t.Errorf("upload -> %+v", msg)
	}

	writeFrame(t, ctx, conn, wsFrame{Type: "upload"})
	msg = waitInbound(t, b)
	if msg.Content != "/analyze" || len(msg.Attachments) != 0 {
		t.Errorf("cleared upload -> %+v", msg)
	}

	writeFrame(t, ctx, conn, wsFrame{Type: "history"})
	if msg := waitInbound(t, b); msg.Content != "/history" {
		t.Errorf("history -> %q", msg.Content)
	}
}

func TestWebUIChannel_IgnoresUnknownFrames(t *testing.T) {
	b := bus.NewMessageBus(10)
	_, srv := newTestWebUI(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, srv)

	conn.Write(ctx, websocket.MessageText, []byte("not json"))
	writeFrame(t, ctx, conn, wsFrame{Type: "bogus"})
	writeFrame(t, ctx, conn, wsFrame{Type: "select"})
	writeFrame(t, ctx, conn, wsFrame{Type: "message"})
	writeFrame(t, ctx, conn, wsFrame{Type: "message", Content: "marker"})

	if msg := waitInbound(t, b); msg.Content != "marker" {
		t.Errorf("first accepted frame = %q, want marker", msg.Content)
	}
}

func TestWebUIChannel_RejectsDisallowed(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, err := NewWebUIChannel(config.WebUIConfig{AllowFrom: []string{"nobody"}}, config.GatewayConfig{}, b, testAPI(), nil)
	if err != nil {
		t.Fatal(err)
	}
	handler, _ := ch.Handler()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, srv)
	writeFrame(t, ctx, conn, wsFrame{Type: "message", Content: "hi"})

	select {
	case msg := <-b.Inbound:
		t.Fatalf("unexpected inbound %+v", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWebUIChannel_SendBroadcast(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, srv := newTestWebUI(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn1 := dialWS(t, ctx, srv)
	conn2 := dialWS(t, ctx, srv)
	waitClients(t, ch, 2)

	if err := ch.Send(bus.OutboundMessage{Channel: "webui", Content: "broadcast"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for i, conn := range []*websocket.Conn{conn1, conn2} {
		f := readFrame(t, ctx, conn)
		if f.Type != "text" || f.Content != "broadcast" {
			t.Errorf("client %d got %+v", i+1, f)
		}
	}
}

func TestWebUIChannel_Disconnect(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, srv := newTestWebUI(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gone := dialWS(t, ctx, srv)
	stays := dialWS(t, ctx, srv)
	waitClients(t, ch, 2)

	writeFrame(t, ctx, gone, wsFrame{Type: "history"})
	goneID := waitInbound(t, b).ChatID

	gone.Close(websocket.StatusNormalClosure, "")

	closed := waitInbound(t, b)
	if !closed.Closed || closed.ChatID != goneID || closed.Channel != "webui" {
		t.Fatalf("close event = %+v, want closed %s", closed, goneID)
	}
	if ids := ch.Connected(); len(ids) != 1 {
		t.Fatalf("connected = %v, want one client", ids)
	}

	sample := vitals.Sample{Persona: vitals.AtRisk, BPM: 100, MaxSafeBPM: 125}
	if err := ch.Send(bus.OutboundMessage{ChatID: goneID, Kind: bus.KindSample, Content: "100 bpm", Sample: &sample}); err != nil {
		t.Fatalf("Send to departed client: %v", err)
	}
	if err := ch.Send(bus.OutboundMessage{Content: "marker"}); err != nil {
		t.Fatalf("Send broadcast: %v", err)
	}

	// The remaining client sees only the broadcast, not the departed
	// client's sample.
	if f := readFrame(t, ctx, stays); f.Type != "text" || f.Content != "marker" {
		t.Errorf("remaining client got %+v, want the marker", f)
	}
}

func TestAPI_Personas(t *testing.T) {
	_, srv := newTestWebUI(t, bus.NewMessageBus(1))

	resp, err := http.Get(srv.URL + "/api/personas")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got []personaView
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("personas = %d, want 3", len(got))
	}
	if got[0].ID != vitals.DefaultPersona() || !got[0].Default {
		t.Errorf("first persona = %+v, want default", got[0])
	}
}

func TestAPI_Analyze(t *testing.T) {
	_, srv := newTestWebUI(t, bus.NewMessageBus(1))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"report", `{"persona":"at-risk","file":{"name":"ecg.pdf","size":1}}`, http.StatusOK},
		{"no file", `{"persona":"athletic"}`, http.StatusAccepted},
		{"unsupported", `{"persona":"athletic","file":{"name":"notes.docx"}}`, http.StatusUnsupportedMediaType},
		{"bad json", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/analyze", "application/json", bytes.NewBufferString(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestAPI_AnalyzeReport(t *testing.T) {
	_, srv := newTestWebUI(t, bus.NewMessageBus(1))

	resp, err := http.Post(srv.URL+"/api/analyze", "application/json",
		bytes.NewBufferString(`{"persona":"Mario","file":{"name":"scan.png"}}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var report analysis.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.Persona.ID != vitals.AtRisk {
		t.Errorf("persona = %q, want at-risk", report.Persona.ID)
	}
	if report.Profile.MaxSafeBPM != 125 || report.Profile.Severity != vitals.Critical {
		t.Errorf("profile = %+v", report.Profile)
	}
	if len(report.History.Points) != vitals.HistoryLength {
		t.Errorf("history points = %d", len(report.History.Points))
	}
}

func TestAPI_HistoryAndProfile(t *testing.T) {
	_, srv := newTestWebUI(t, bus.NewMessageBus(1))

	resp, err := http.Get(srv.URL + "/api/history?persona=athletic")
	if err != nil {
		t.Fatal(err)
	}
	var series vitals.HistorySeries
	json.NewDecoder(resp.Body).Decode(&series)
	resp.Body.Close()
	if series.Trend != vitals.TrendImproving || len(series.Points) != vitals.HistoryLength {
		t.Errorf("series = %+v", series)
	}

	resp, err = http.Get(srv.URL + "/api/profile?persona=unknown")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Persona vitals.Persona       `json:"persona"`
		Profile vitals.ProfileBundle `json:"profile"`
		Gauge   vitals.Gauge         `json:"gauge"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if body.Persona.ID != vitals.Fallback {
		t.Errorf("unknown persona should fall back, got %q", body.Persona.ID)
	}
	if body.Gauge.Value != vitals.ReferenceReading || len(body.Gauge.Zones) != 3 {
		t.Errorf("gauge = %+v", body.Gauge)
	}
}

func TestAPI_DefaultPersona(t *testing.T) {
	_, srv := newTestWebUI(t, bus.NewMessageBus(1))

	resp, err := http.Get(srv.URL + "/api/history")
	if err != nil {
		t.Fatal(err)
	}
	var series vitals.HistorySeries
	json.NewDecoder(resp.Body).Decode(&series)
	resp.Body.Close()
	if series.Persona != vitals.DefaultPersona() {
		t.Errorf("history persona = %q, want %q", series.Persona, vitals.DefaultPersona())
	}

	resp, err = http.Get(srv.URL + "/api/profile?persona=%20")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Persona vitals.Persona       `json:"persona"`
		Profile vitals.ProfileBundle `json:"profile"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if body.Persona.ID != vitals.Athletic || body.Profile.MaxSafeBPM != 180 {
		t.Errorf("profile = %+v, want athletic", body)
	}

	resp, err = http.Post(srv.URL+"/api/analyze", "application/json", bytes.NewBufferString(`{"file":{"name":"ecg.pdf","size":1}}`))
	if err != nil {
		t.Fatal(err)
	}
	var report analysis.Report
	json.NewDecoder(resp.Body).Decode(&report)
	resp.Body.Close()
	if report.Persona.ID != vitals.Athletic {
		t.Errorf("report persona = %q, want athletic", report.Persona.ID)
	}
}

func TestAPI_MetricsAndHealth(t *testing.T) {
	_, srv := newTestWebUI(t, bus.NewMessageBus(1))

	http.Post(srv.URL+"/api/analyze", "application/json", bytes.NewBufferString(`{"persona":"athletic"}`))

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `vitalsense_analysis_rejected_total{reason="no_input"} 1`) {
		t.Errorf("metrics missing rejection counter:\n%s", body)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var health struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
	if health.Status != "ok" || health.Clients != 0 {
		t.Errorf("healthz = %+v", health)
	}
}
