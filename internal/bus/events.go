package bus

import (
	"time"

	"github.com/stellarlinkco/vitalsense/internal/analysis"
	"github.com/stellarlinkco/vitalsense/internal/vitals"
)

// Attachment is the metadata of a file sent with a message. Contents are
// never carried on the bus.
type Attachment struct {
	Name     string
	MimeType string
	Size     int64
}

// Upload converts the attachment into an analysis upload.
func (a Attachment) Upload() *analysis.Upload {
	return &analysis.Upload{Name: a.Name, MimeType: a.MimeType, Size: a.Size}
}

type InboundMessage struct {
	Channel     string
	SenderID    string
	ChatID      string
	Content     string
	Timestamp   time.Time
	Attachments []Attachment
	// Closed reports that the chat went away, e.g. a dashboard tab was
	// closed. It carries no content.
	Closed bool
}

func (m *InboundMessage) SessionKey() string {
	return SessionKey(m.Channel, m.ChatID)
}

// SessionKey identifies the chat chatID on channel.
func SessionKey(channel, chatID string) string {
	return channel + ":" + chatID
}

// OutboundKind tells a channel how to present an outbound message.
type OutboundKind string

const (
	KindText    OutboundKind = "text"
	KindWaiting OutboundKind = "waiting"
	KindPending OutboundKind = "analyzing"
	KindReport  OutboundKind = "report"
	KindHistory OutboundKind = "history"
	KindSample  OutboundKind = "sample"
	KindError   OutboundKind = "error"
)

type OutboundMessage struct {
	Channel string
	ChatID  string
	Kind    OutboundKind
	Content string // plain-text rendering, always set
	Report  *analysis.Report
	History *vitals.HistorySeries
	Sample  *vitals.Sample
}
