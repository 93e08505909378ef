package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ridelink/internal/protocol"
	"ridelink/pkg/auth"
	"ridelink/pkg/logger"
	"ridelink/pkg/uuid"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP requests and runs the Authenticate handshake: the
// first frame must be an Authenticate envelope within authTime, answered
// with AuthSuccess or an Error envelope followed by a close.
type Handler struct {
	log        logger.Logger
	jwtManager *auth.JWTManager
	hub        *Hub
	router     *Router
	presence   Presence
}

func NewHandler(log logger.Logger, jwtManager *auth.JWTManager, hub *Hub, router *Router, presence Presence) *Handler {
	return &Handler{
		log:        log,
		jwtManager: jwtManager,
		hub:        hub,
		router:     router,
		presence:   presence,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket_upgrade_failed", err)
		return
	}

	claims, err := h.handshake(ws)
	if err != nil {
		h.log.Error("websocket_auth_failed", err)
		return
	}

	sessionID := uuid.NewString()
	log := h.log.WithFields(logger.LogFields{
		"user_id":    claims.UserID,
		"session_id": sessionID,
	})

	conn := newConn(ws, log, claims, sessionID)
	go conn.writePump()

	if err := conn.SendEnvelope(protocol.AuthSuccess{SessionID: sessionID}); err != nil {
		log.Error("auth_success_send_failed", err)
		conn.Close()
		return
	}

	ctx := context.Background()
	h.hub.Add(claims.UserID, conn)
	if err := h.presence.SessionStarted(ctx, claims.UserID, sessionID, claims.Role); err != nil {
		log.Error("presence_start_failed", err)
	}

	log.Info("websocket_auth_success", "Client authenticated")

	go conn.ReadPump(
		func(env protocol.Envelope) {
			h.router.HandleEnvelope(ctx, claims, conn, env)
		},
		func() {
			h.hub.Remove(claims.UserID, conn)
			if err := h.presence.SessionEnded(ctx, claims.UserID); err != nil {
				log.Error("presence_end_failed", err)
			}
			log.Info("websocket_session_ended", "Client session ended")
		},
	)
}

// handshake reads and verifies the Authenticate frame. On failure an Error
// envelope is sent and the socket closed.
func (h *Handler) handshake(ws *websocket.Conn) (*auth.AppClaims, error) {
	ws.SetReadDeadline(time.Now().Add(authTime))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		sendErrorAndClose(ws, "AUTH_TIMEOUT", "Authentication timeout")
		return nil, errors.New("authentication timeout")
	}
	ws.SetReadDeadline(time.Time{})

	env, err := protocol.Decode(msg)
	if err != nil {
		sendErrorAndClose(ws, "AUTH_MALFORMED", "Invalid authentication frame")
		return nil, err
	}

	authEnv, ok := env.(protocol.Authenticate)
	if !ok {
		sendErrorAndClose(ws, "AUTH_MALFORMED", "First frame must be auth")
		return nil, errors.New("first frame was not an auth envelope")
	}

	claims, err := h.jwtManager.ParseToken(authEnv.Token)
	if err != nil {
		sendErrorAndClose(ws, "AUTH_INVALID", "Invalid or expired token")
		return nil, err
	}

	if !claims.Role.IsValid() || string(claims.Role) != authEnv.Role {
		sendErrorAndClose(ws, "AUTH_ROLE_MISMATCH", "Invalid or expired token")
		return nil, errors.New("role claim does not match auth frame")
	}

	return claims, nil
}

func sendErrorAndClose(ws *websocket.Conn, code, detail string) {
	raw, err := protocol.Encode(protocol.Error{Code: code, Detail: detail})
	if err == nil {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		ws.WriteMessage(websocket.TextMessage, raw)
	}
	ws.Close()
}
