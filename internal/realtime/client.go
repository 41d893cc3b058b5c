package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"market-rtc/internal/models"
	"market-rtc/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client binds one websocket to a registered connection: the read pump
// parses inbound event envelopes and drives the engine, the write pump
// drains the connection's outbound queue. A failure in one client never
// touches the others.
type Client struct {
	engine *Engine
	conn   *Conn
	ws     *websocket.Conn
}

func NewClient(engine *Engine, conn *Conn, ws *websocket.Conn) *Client {
	return &Client{engine: engine, conn: conn, ws: ws}
}

func (c *Client) ReadPump() {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("panic in read pump", "conn_id", c.conn.ID, "panic", r)
		}
		c.engine.Disconnect(c.conn)
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Errorw("websocket read failed", "conn_id", c.conn.ID, "err", err)
			}
			break
		}
		c.handle(message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.conn.Outbound():
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debugw("websocket write failed", "conn_id", c.conn.ID, "err", err)
				return
			}

		case <-c.conn.Done():
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(message []byte) {
	var env models.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.reject("", "malformed event")
		return
	}

	ctx := context.Background()
	identity := c.conn.Identity

	var err error
	switch env.Event {
	case models.EventJoinRoom:
		var p models.RoomPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			c.engine.Rooms.Join(c.conn, p.Room)
		}

	case models.EventLeaveRoom:
		var p models.RoomPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			c.engine.Rooms.Leave(c.conn, p.Room)
		}

	case models.EventTypingStart:
		var p models.TypingPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			c.engine.Typing.StartTyping(ctx, p.ConversationID, identity)
		}

	case models.EventTypingStop:
		var p models.TypingPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			c.engine.Typing.StopTyping(ctx, p.ConversationID, identity)
		}

	case models.EventCallInitiate:
		var p models.CallInitiatePayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			_, err = c.engine.Calls.Initiate(ctx, identity, p.Target, models.CallKind(p.Kind), p.Offer)
		}

	case models.EventCallAnswer:
		var p models.CallAnswerPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = c.engine.Calls.Answer(ctx, p.CallID, identity, p.Answer)
		}

	case models.EventCallReject:
		var p models.CallRefPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = c.engine.Calls.Reject(ctx, p.CallID, identity)
		}

	case models.EventCallEnd:
		var p models.CallRefPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = c.engine.Calls.End(ctx, p.CallID, identity)
		}

	case models.EventCallCandidate:
		var p models.CallCandidatePayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = c.engine.Calls.RelayCandidate(ctx, p.CallID, identity, p.Candidate)
		}

	case models.EventGetOnlineStatus:
		var p models.OnlineStatusPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			c.conn.deliver(models.NewEvent(models.EventOnlineStatus, models.OnlineStatusResult{
				Online: c.engine.Registry.OnlineSubset(p.Identities),
			}))
		}

	default:
		logger.Debugw("unknown event", "conn_id", c.conn.ID, "event", env.Event)
		return
	}

	if err != nil {
		c.reject(env.Event, rejectionMessage(err))
	}
}

// reject answers the failed request on this connection only.
func (c *Client) reject(event, message string) {
	c.conn.deliver(models.NewEvent(models.EventError, models.ErrorPayload{
		Event:   event,
		Message: message,
	}))
}

func rejectionMessage(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyInCall):
		return "already in a call"
	case errors.Is(err, ErrUnauthorized):
		return "not allowed"
	case errors.Is(err, ErrNotFound):
		return "unknown session"
	default:
		return "invalid request"
	}
}
