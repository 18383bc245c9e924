package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/frozenbots60-source/kust-chat/internal/hub"
	"github.com/frozenbots60-source/kust-chat/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

const (
	writeWait = 10 * time.Second

	// idleWait is the server-side idle timeout: refreshed by any inbound
	// frame (heartbeats included) and by protocol pongs. Dead sockets are
	// evicted when it lapses instead of lingering until a send fails.
	idleWait = 60 * time.Second

	pingPeriod    = 54 * time.Second
	handshakeWait = 10 * time.Second
	sendBuffer    = 256
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrConnectionLost = errors.New("connection lost")
	errSendBufferFull = errors.New("send buffer full")
)

// client is one live socket: HANDSHAKING until the first frame names the
// user, OPEN while the read loop runs, CLOSED after cleanup ran exactly once.
type client struct {
	id        string
	room      string
	name      string
	avatarRef string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	srv       *Server

	cleanupOnce sync.Once
}

func (c *client) UserID() string { return c.id }

// Send queues an envelope for the write pump. Never blocks: a closed
// connection or a full buffer is reported as an error so the registry can
// evict the socket instead of hanging a broadcast.
func (c *client) Send(env *models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnectionLost
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// HandleRelay upgrades the socket and runs the join handshake: the first
// client frame must carry {name, avatarRef} (and the password for private
// rooms). A taken name gets an explicit error envelope and the socket closes
// without ever registering.
func (s *Server) HandleRelay(c *gin.Context) {
	roomName := c.Param("room")
	if roomName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room is required"})
		return
	}

	meta, err := s.Directory.Get(c.Request.Context(), roomName)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	s.runConnection(conn, meta)
}

func (s *Server) runConnection(conn *websocket.Conn, meta *models.RoomMetadata) {
	ctx := context.Background()

	conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}

	var hello models.Envelope
	if err := json.Unmarshal(raw, &hello); err != nil || hello.Name == "" {
		rejectHandshake(conn, "handshake frame must carry a name")
		return
	}

	if err := checkRoomPassword(meta, hello.Password); err != nil {
		rejectHandshake(conn, "wrong password")
		return
	}

	claimed, err := s.Names.Claim(ctx, hello.Name)
	if err != nil {
		log.Printf("Name claim for %q failed: %v", hello.Name, err)
		rejectHandshake(conn, "name check unavailable, try again")
		return
	}
	if !claimed {
		rejectHandshake(conn, hub.ErrDuplicateName.Error())
		return
	}

	cl := &client{
		id:        uuid.New().String(),
		room:      meta.Name,
		name:      hello.Name,
		avatarRef: hello.AvatarRef,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		srv:       s,
	}
	go cl.writePump()

	// Tell the client its server-assigned id before anything else arrives.
	cl.Send(&models.Envelope{
		Type:     models.EventSystem,
		Room:     cl.room,
		From:     cl.id,
		FromName: cl.name,
		Text:     "connected",
	})

	// History replay goes to this socket only, in append order.
	if msgs, err := s.History.Read(ctx, cl.room, s.Config.HistoryReplay); err != nil {
		log.Printf("History replay for %s failed: %v", cl.room, err)
	} else {
		for _, m := range msgs {
			cl.Send(m.Wire())
		}
	}

	presence := s.Registry.Connect(cl.room, cl, models.Member{
		ID:        cl.id,
		Name:      cl.name,
		AvatarRef: cl.avatarRef,
	})
	s.publish(ctx, presence)

	log.Printf("User %s (%s) joined room %s", cl.name, cl.id, cl.room)
	go cl.readPump()
}

func rejectHandshake(conn *websocket.Conn, reason string) {
	data, err := json.Marshal(&models.Envelope{Type: models.EventError, Error: reason})
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, data)
	}
	conn.Close()
}

func (c *client) readPump() {
	defer c.cleanup()

	ctx := context.Background()
	c.conn.SetReadDeadline(time.Now().Add(idleWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(idleWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for %s: %v", c.id, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(idleWait))

		var frame models.Envelope
		if err := json.Unmarshal(raw, &frame); err != nil {
			// Malformed frames are dropped, never fatal to the handler.
			log.Printf("Dropping malformed frame from %s: %v", c.id, err)
			continue
		}
		c.handleFrame(ctx, &frame)
	}
}

func (c *client) handleFrame(ctx context.Context, frame *models.Envelope) {
	switch frame.Type {
	case models.EventHeartbeat:
		c.Send(&models.Envelope{Type: models.EventHeartbeatAck, Timestamp: time.Now().UnixMilli()})

	case models.EventMessage:
		msg := &models.ChatMessage{
			ID:         uuid.New().String(),
			Room:       c.room,
			AuthorID:   c.id,
			AuthorName: c.name,
			AvatarRef:  c.avatarRef,
			Text:       frame.Text,
			Attachment: frame.Attachment,
			Timestamp:  time.Now().UnixMilli(),
		}
		// Live delivery first; persistence afterwards and independently.
		// A storage failure surfaces as "missing from history on reload",
		// never as a dropped live message.
		c.srv.publish(ctx, msg.Wire())
		if err := c.srv.History.Append(ctx, c.room, msg); err != nil {
			log.Printf("History append in %s failed: %v", c.room, err)
		}

	case models.EventEdit:
		applied, err := c.srv.History.EditInPlace(ctx, c.room, frame.MessageID, c.id, frame.Text)
		if err != nil {
			log.Printf("Edit of %s in %s failed: %v", frame.MessageID, c.room, err)
			return
		}
		if !applied {
			return
		}
		c.srv.publish(ctx, &models.Envelope{
			Type:      models.EventEdit,
			Room:      c.room,
			From:      c.id,
			MessageID: frame.MessageID,
			Text:      frame.Text,
			Edited:    true,
			Timestamp: time.Now().UnixMilli(),
		})

	case models.EventDelete:
		applied, err := c.srv.History.Remove(ctx, c.room, frame.MessageID, c.id)
		if err != nil {
			log.Printf("Delete of %s in %s failed: %v", frame.MessageID, c.room, err)
			return
		}
		if !applied {
			return
		}
		c.srv.publish(ctx, &models.Envelope{
			Type:      models.EventDelete,
			Room:      c.room,
			From:      c.id,
			MessageID: frame.MessageID,
		})

	case models.EventDM:
		if frame.To == "" {
			return
		}
		env := &models.Envelope{
			Type:      models.EventDM,
			Room:      c.room,
			From:      c.id,
			FromName:  c.name,
			AvatarRef: c.avatarRef,
			To:        frame.To,
			Text:      frame.Text,
			Timestamp: time.Now().UnixMilli(),
		}
		c.srv.publish(ctx, env)
		// Echo back so the sender's own UI shows the message.
		c.Send(env)

	case models.EventVoiceJoin:
		c.srv.Voice.Join(c.room, c.id, c.name)
		c.srv.publish(ctx, &models.Envelope{
			Type:       models.EventVoiceGroup,
			VoiceEvent: models.EventVoiceJoin,
			Room:       c.room,
			From:       c.id,
			FromName:   c.name,
			AvatarRef:  c.avatarRef,
			Muted:      frame.Muted,
		})

	case models.EventVoiceLeave:
		c.srv.Voice.Leave(c.room, c.id)
		c.srv.publish(ctx, &models.Envelope{
			Type:       models.EventVoiceGroup,
			VoiceEvent: models.EventVoiceLeave,
			Room:       c.room,
			From:       c.id,
			FromName:   c.name,
		})

	case models.EventVoiceSignal:
		// Offer/answer/candidate payloads stay opaque. A target routes the
		// envelope to that one connection, otherwise it fans out room-wide.
		c.srv.publish(ctx, &models.Envelope{
			Type:       models.EventVoiceGroup,
			VoiceEvent: models.EventVoiceSignal,
			Room:       c.room,
			From:       c.id,
			To:         frame.To,
			Payload:    frame.Payload,
		})

	case models.EventVoiceTalking:
		// Fire-and-forget: no persistence, no ordering promise. Mute
		// toggles ride the same frame.
		c.srv.Voice.SetMuted(c.room, c.id, frame.Muted)
		c.srv.publish(ctx, &models.Envelope{
			Type:       models.EventVoiceGroup,
			VoiceEvent: models.EventVoiceTalking,
			Room:       c.room,
			From:       c.id,
			Talking:    frame.Talking,
			Muted:      frame.Muted,
		})

	default:
		log.Printf("Ignoring frame with unknown type %q from %s", frame.Type, c.id)
	}
}

// cleanup runs the CLOSED transition exactly once, no matter whether the
// error path and an explicit close race into it.
func (c *client) cleanup() {
	c.cleanupOnce.Do(func() {
		ctx := context.Background()

		if c.srv.Voice.InVoice(c.room, c.id) {
			// The client dropped mid-call: force the leave so every
			// participant tears down its session with this peer.
			c.srv.Voice.Leave(c.room, c.id)
			c.srv.publish(ctx, &models.Envelope{
				Type:       models.EventVoiceGroup,
				VoiceEvent: models.EventVoiceLeave,
				Room:       c.room,
				From:       c.id,
				FromName:   c.name,
			})
		}

		if presence := c.srv.Registry.Disconnect(c.room, c.id); presence != nil {
			c.srv.publish(ctx, presence)
		}
		if err := c.srv.Names.Release(ctx, c.name); err != nil {
			log.Printf("Name release for %q failed: %v", c.name, err)
		}

		close(c.done)
		c.conn.Close()
		log.Printf("User %s (%s) left room %s", c.name, c.id, c.room)
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("Failed to write message to %s: %v", c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
