// Package transport upgrades incoming HTTP requests to WebSocket
// connections and feeds the decoded messages into the session Hub.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/polqt/xicrdt/session"
)

// wsSender adapts a coder/websocket connection to session.Sender.
type wsSender struct {
	ctx        context.Context
	sock       *websocket.Conn
	remoteAddr string
}

func (s *wsSender) Send(msg session.Message) error {
	return wsjson.Write(s.ctx, s.sock, msg)
}

func (s *wsSender) Close() error {
	return s.sock.Close(websocket.StatusNormalClosure, "")
}

func (s *wsSender) RemoteAddr() string { return s.remoteAddr }

// WSHandler upgrades requests at /ws/{docID} and runs the read loop that
// feeds session.Message values to the Hub.
type WSHandler struct {
	hub *session.Hub
}

// NewWSHandler creates a handler backed by hub.
func NewWSHandler(hub *session.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// ServeHTTP upgrades the connection, registers a Session on the addressed
// Document, and blocks reading messages until the socket closes.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}

	ctx, cancel := context.WithCancelCause(r.Context())
	defer func() {
		cause := context.Cause(ctx)
		var closeErr websocket.CloseError
		switch {
		case errors.As(cause, &closeErr):
			sock.Close(closeErr.Code, closeErr.Reason)
		case cause != nil && !errors.Is(cause, context.Canceled):
			sock.Close(websocket.StatusInternalError, "")
		default:
			sock.Close(websocket.StatusNormalClosure, "")
		}
	}()

	docID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if docID == "" {
		docID = "default"
	}

	sender := &wsSender{ctx: ctx, sock: sock, remoteAddr: r.RemoteAddr}
	sess := session.NewSession(uuid.NewString(), docID, sender, h.hub)
	h.hub.Join(sess)
	defer h.hub.Leave(sess)

	for {
		var msg session.Message
		if err := wsjson.Read(ctx, sock, &msg); err != nil {
			cancel(err)
			return
		}
		msg.DocID = docID
		h.hub.Dispatch(sess, msg)
	}
}
