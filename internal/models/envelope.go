package models

import "encoding/json"

// EventType identifies an envelope on the wire and on the bus
type EventType string

// Client -> server frame types
const (
	EventMessage      EventType = "message"
	EventEdit         EventType = "edit"
	EventDelete       EventType = "delete"
	EventDM           EventType = "dm"
	EventVoiceJoin    EventType = "vc_join"
	EventVoiceLeave   EventType = "vc_leave"
	EventVoiceSignal  EventType = "vc_signal"
	EventVoiceTalking EventType = "vc_talking"
	EventHeartbeat    EventType = "heartbeat"
)

// Server -> client envelope types (message/edit/delete/dm are shared)
const (
	EventPresence     EventType = "presence"
	EventVoiceGroup   EventType = "vc_signal_group"
	EventHeartbeatAck EventType = "heartbeat_ack"
	EventSystem       EventType = "system"
	EventError        EventType = "error"
)

// Envelope is the typed unit exchanged over the WebSocket and the bus.
// One flat struct covers every event type; unused fields are omitted.
type Envelope struct {
	Type       EventType `json:"type"`
	Room       string    `json:"room,omitempty"`
	From       string    `json:"from,omitempty"` // sender user id, always server-assigned
	FromName   string    `json:"fromName,omitempty"`
	AvatarRef  string    `json:"avatarRef,omitempty"`
	To         string    `json:"to,omitempty"` // target user id for dm and targeted voice signals
	MessageID  string    `json:"messageId,omitempty"`
	Text       string    `json:"text,omitempty"`
	Attachment string    `json:"attachment,omitempty"` // blob URL, opaque to the core
	Timestamp  int64     `json:"ts,omitempty"`
	Edited     bool      `json:"edited,omitempty"`
	Talking    bool      `json:"talking,omitempty"`
	Muted      bool      `json:"muted,omitempty"`

	// VoiceEvent preserves the originating vc_* frame type on
	// vc_signal_group envelopes so clients can tell joins, leaves, signals
	// and talking updates apart.
	VoiceEvent EventType `json:"voiceEvent,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"` // SDP/ICE blobs, never inspected server-side

	// Origin identifies the process whose registry produced a presence
	// snapshot. Members and Count cover that process's sockets only, so
	// clients aggregate snapshots by origin rather than trusting any one
	// of them as the global view.
	Origin  string   `json:"origin,omitempty"`
	Members []Member `json:"members,omitempty"` // presence snapshot
	Count   int      `json:"count,omitempty"`
	Error   string   `json:"error,omitempty"`

	// Handshake fields, only valid on the first client frame.
	Name     string `json:"name,omitempty"`
	Password string `json:"password,omitempty"`
}

// Member is one entry of a presence snapshot.
type Member struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarRef string `json:"avatarRef,omitempty"`
}

// ChatMessage is the history-log record for one room message.
type ChatMessage struct {
	ID         string `json:"id"`
	Room       string `json:"room"`
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName"`
	AvatarRef  string `json:"avatarRef,omitempty"`
	Text       string `json:"text,omitempty"`
	Attachment string `json:"attachment,omitempty"`
	Timestamp  int64  `json:"ts"`
	Edited     bool   `json:"edited,omitempty"`
}

// Wire converts a stored message to its broadcast envelope.
func (m *ChatMessage) Wire() *Envelope {
	return &Envelope{
		Type:       EventMessage,
		Room:       m.Room,
		From:       m.AuthorID,
		FromName:   m.AuthorName,
		AvatarRef:  m.AvatarRef,
		MessageID:  m.ID,
		Text:       m.Text,
		Attachment: m.Attachment,
		Timestamp:  m.Timestamp,
		Edited:     m.Edited,
	}
}
