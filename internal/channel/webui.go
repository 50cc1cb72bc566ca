package channel

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/stellarlinkco/vitalsense/internal/analysis"
	"github.com/stellarlinkco/vitalsense/internal/bus"
	"github.com/stellarlinkco/vitalsense/internal/config"
	"github.com/stellarlinkco/vitalsense/internal/vitals"
)

//go:embed static
var staticFiles embed.FS

const webUIChannelName = "webui"

// Inbound websocket frame types.
const (
	wsSelect  = "select"
	wsUpload  = "upload"
	wsHistory = "history"
	wsMessage = "message"
)

type wsFrame struct {
	Type    string           `json:"type"`
	Content string           `json:"content,omitempty"`
	Persona string           `json:"persona,omitempty"`
	File    *analysis.Upload `json:"file,omitempty"`

	Report  *analysis.Report      `json:"report,omitempty"`
	History *vitals.HistorySeries `json:"history,omitempty"`
	Sample  *vitals.Sample        `json:"sample,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	id   string
}

type WebUIChannel struct {
	BaseChannel
	addr    string
	api     *API
	server  *http.Server
	clients sync.Map
	nextID  atomic.Int64
	logger  *zap.Logger
}

func NewWebUIChannel(cfg config.WebUIConfig, gwCfg config.GatewayConfig, b *bus.MessageBus, api *API, logger *zap.Logger) (*WebUIChannel, error) {
	if api == nil || api.Analysis == nil {
		return nil, fmt.Errorf("webui needs an analysis service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	port := gwCfg.Port
	if port == 0 {
		port = config.DefaultPort
	}

	ch := &WebUIChannel{
		BaseChannel: NewBaseChannel(webUIChannelName, b, cfg.AllowFrom),
		addr:        net.JoinHostPort(gwCfg.Host, strconv.Itoa(port)),
		api:         api,
		logger:      logger.Named("webui"),
	}
	return ch, nil
}

// Handler serves the dashboard, the websocket and the JSON API.
func (w *WebUIChannel) Handler() (http.Handler, error) {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("embed static fs: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", w.handleWS)
	mux.HandleFunc("GET /healthz", w.handleHealth)
	w.api.register(mux)
	return mux, nil
}

func (w *WebUIChannel) Start(ctx context.Context) error {
	handler, err := w.Handler()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", w.addr, err)
	}

	w.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		w.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := w.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			w.logger.Error("server error", zap.Error(err))
		}
	}()

	return nil
}

func (w *WebUIChannel) handleWS(wr http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(wr, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		w.logger.Warn("websocket accept", zap.Error(err))
		return
	}

	clientID := fmt.Sprintf("webui-%d", w.nextID.Add(1))
	client := &wsClient{conn: conn, id: clientID}
	w.clients.Store(clientID, client)
	w.logger.Debug("client connected", zap.String("client", clientID))

	defer func() {
		w.clients.Delete(clientID)
		conn.CloseNow()
		w.publishClosed(clientID)
		w.logger.Debug("client disconnected", zap.String("client", clientID))
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		msg, ok := inboundFromFrame(frame)
		if !ok {
			continue
		}

		if !w.IsAllowed(clientID) {
			w.logger.Warn("rejected message", zap.String("client", clientID))
			continue
		}

		msg.Channel = webUIChannelName
		msg.SenderID = clientID
		msg.ChatID = clientID
		msg.Timestamp = time.Now()

		select {
		case w.bus.Inbound <- msg:
		case <-r.Context().Done():
			return
		}
	}
}

// publishClosed tells the gateway that clientID is gone so its session can
// be dropped. The request context is already done here, so the send is
// bounded instead.
func (w *WebUIChannel) publishClosed(clientID string) {
	msg := bus.InboundMessage{
		Channel:   webUIChannelName,
		SenderID:  clientID,
		ChatID:    clientID,
		Timestamp: time.Now(),
		Closed:    true,
	}
	select {
	case w.bus.Inbound <- msg:
	case <-time.After(time.Second):
		w.logger.Warn("close event dropped", zap.String("client", clientID))
	}
}

// inboundFromFrame maps a dashboard action onto the gateway's command
// vocabulary.
func inboundFromFrame(f wsFrame) (bus.InboundMessage, bool) {
	switch f.Type {
	case wsSelect:
		if f.Persona == "" {
			return bus.InboundMessage{}, false
		}
		return bus.InboundMessage{Content: "/persona " + f.Persona}, true
	case wsUpload:
		msg := bus.InboundMessage{Content: "/analyze"}
		if f.File != nil {
			msg.Attachments = []bus.Attachment{{
				Name:     f.File.Name,
				MimeType: f.File.MimeType,
				Size:     f.File.Size,
			}}
		}
		return msg, true
	case wsHistory:
		return bus.InboundMessage{Content: "/history"}, true
	case wsMessage:
		if f.Content == "" {
			return bus.InboundMessage{}, false
		}
		return bus.InboundMessage{Content: f.Content}, true
	}
	return bus.InboundMessage{}, false
}

func (w *WebUIChannel) Send(msg bus.OutboundMessage) error {
	kind := msg.Kind
	if kind == "" {
		kind = bus.KindText
	}
	data, err := json.Marshal(wsFrame{
		Type:    string(kind),
		Content: msg.Content,
		Report:  msg.Report,
		History: msg.History,
		Sample:  msg.Sample,
	})
	if err != nil {
		return err
	}

	if msg.ChatID == "" {
		w.clients.Range(func(_, value any) bool {
			_ = w.write(value.(*wsClient), data)
			return true
		})
		return nil
	}

	client, ok := w.clients.Load(msg.ChatID)
	if !ok {
		w.logger.Debug("dropping message for disconnected client",
			zap.String("client", msg.ChatID), zap.String("kind", string(kind)))
		return nil
	}
	return w.write(client.(*wsClient), data)
}

func (w *WebUIChannel) write(c *wsClient, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Connected returns the ids of the connected dashboard clients.
func (w *WebUIChannel) Connected() []string {
	var ids []string
	w.clients.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	return ids
}

func (w *WebUIChannel) handleHealth(wr http.ResponseWriter, r *http.Request) {
	writeJSON(wr, http.StatusOK, map[string]any{"status": "ok", "clients": len(w.Connected())})
}

func (w *WebUIChannel) Stop() error {
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			w.logger.Warn("shutdown", zap.Error(err))
		}
	}
	w.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		c.conn.CloseNow()
		return true
	})
	w.logger.Info("stopped")
	return nil
}
