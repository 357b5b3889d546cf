package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/domain"
	"trivia-live-service/internal/realtime"
)

const (
	roleAdmin  = "admin"
	rolePlayer = "player"
	roleStream = "stream"

	writeTimeout = 10 * time.Second
)

var errUnsupportedCommand = errors.New("unsupported message type")

// WSHandler streams session state to admins, players and stream displays and
// accepts their commands over the same connection.
type WSHandler struct {
	service  *app.GameService
	hub      *realtime.Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService, hub *realtime.Hub, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		service: service,
		hub:     hub,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type commandPayload struct {
	QuestionIndex int    `json:"questionIndex"`
	Answer        string `json:"answer"`
	IsCorrect     bool   `json:"isCorrect"`
	PlayerID      string `json:"playerId"`
	Text          string `json:"text"`
	GameName      string `json:"gameName"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ServeWS upgrades the request and serves one client of the given role.
//
//	/ws?sessionId=...&role=admin&adminId=...
//	/ws?sessionId=...&role=player&playerId=...
//	/ws?sessionId=...&role=stream
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID, role := q.Get("sessionId"), q.Get("role")
	playerID := q.Get("playerId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	session, err := h.service.GetSession(ctx, sessionID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	switch role {
	case roleAdmin:
		if adminID := q.Get("adminId"); adminID == "" || adminID != session.AdminID {
			writeError(w, h.logger, domain.ErrForbidden)
			return
		}
	case rolePlayer:
		if _, err := h.service.GetPlayer(ctx, sessionID, playerID); err != nil {
			writeError(w, h.logger, err)
			return
		}
	case roleStream:
	default:
		http.Error(w, "role must be admin, player or stream", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", slog.Any("err", err))
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("ws encode failed", slog.String("type", msg.Type), slog.Any("err", err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("ws write error", slog.String("session_id", sessionID), slog.Any("err", err))
				_ = conn.Close()
				// drain so producers never block on a dead connection
				for range send {
				}
				return
			}
		}
	}()

	emit := func(msg outboundMessage) {
		select {
		case send <- msg:
		case <-closeSignals:
		}
	}

	var pumps sync.WaitGroup
	closers, err := h.subscribe(ctx, role, sessionID, playerID, &pumps, closeSignals, emit)
	if err != nil {
		emit(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
	}

	if err == nil {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var inbound inboundMessage
			if err := json.Unmarshal(data, &inbound); err != nil {
				emit(outboundMessage{Type: "error", Payload: errorPayload{Message: "invalid message"}})
				continue
			}
			result, err := h.dispatch(ctx, role, sessionID, playerID, inbound)
			if err != nil {
				if statusFor(err) == http.StatusInternalServerError {
					h.logger.Error("ws command failed",
						slog.String("session_id", sessionID),
						slog.String("type", inbound.Type),
						slog.Any("err", err))
				}
				emit(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			emit(outboundMessage{Type: inbound.Type, Payload: result})
		}
	}

	close(closeSignals)
	for _, c := range closers {
		c()
	}
	pumps.Wait()
	close(send)
	<-writerDone
}

// subscribe opens the snapshot streams the role needs and starts one pump per
// stream. The returned funcs close the subscriptions.
func (h *WSHandler) subscribe(
	ctx context.Context,
	role, sessionID, playerID string,
	pumps *sync.WaitGroup,
	stop <-chan struct{},
	emit func(outboundMessage),
) ([]func(), error) {
	var closers []func()

	sessionSub, err := h.hub.SubscribeSession(ctx, sessionID)
	if err != nil {
		return closers, err
	}
	closers = append(closers, sessionSub.Close)
	var broadcasts domain.MessageCursor
	pump(pumps, sessionSub.C, stop, func(s realtime.SessionSnapshot) {
		emit(outboundMessage{Type: "session", Payload: s})
		if role != roleAdmin && broadcasts.Accept(s.Session.BroadcastMessage) {
			emit(outboundMessage{Type: "message", Payload: s.Session.BroadcastMessage})
		}
	})

	if role == rolePlayer {
		playerSub, err := h.hub.SubscribePlayer(ctx, sessionID, playerID)
		if err != nil {
			return closers, err
		}
		closers = append(closers, playerSub.Close)
		var direct domain.MessageCursor
		pump(pumps, playerSub.C, stop, func(p realtime.PlayerSnapshot) {
			emit(outboundMessage{Type: "player", Payload: p})
			if direct.Accept(p.Player.DirectMessage) {
				emit(outboundMessage{Type: "message", Payload: p.Player.DirectMessage})
			}
		})
		return closers, nil
	}

	boardSub, err := h.hub.SubscribeLeaderboard(ctx, sessionID, 0)
	if err != nil {
		return closers, err
	}
	closers = append(closers, boardSub.Close)
	pump(pumps, boardSub.C, stop, func(l realtime.LeaderboardSnapshot) {
		emit(outboundMessage{Type: "leaderboard", Payload: l})
	})
	return closers, nil
}

func pump[T any](wg *sync.WaitGroup, in <-chan T, stop <-chan struct{}, handle func(T)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case v, ok := <-in:
				if !ok {
					return
				}
				handle(v)
			case <-stop:
				return
			}
		}
	}()
}

func (h *WSHandler) dispatch(ctx context.Context, role, sessionID, playerID string, msg inboundMessage) (any, error) {
	var p commandPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, errBadRequest
		}
	}

	switch role {
	case roleAdmin:
		switch msg.Type {
		case "showQuestion":
			return h.service.ShowQuestion(ctx, sessionID)
		case "revealAnswer":
			return h.service.RevealAnswer(ctx, sessionID)
		case "showLeaderboard":
			return h.service.ShowLeaderboard(ctx, sessionID)
		case "hideLeaderboard":
			return h.service.HideLeaderboard(ctx, sessionID)
		case "endGame":
			return h.service.EndGame(ctx, sessionID, p.GameName)
		case "broadcast":
			return h.service.Broadcast(ctx, sessionID, p.Text)
		case "kick":
			return h.service.KickPlayer(ctx, sessionID, p.PlayerID)
		case "message":
			return h.service.DirectMessage(ctx, sessionID, p.PlayerID, p.Text)
		}
	case rolePlayer:
		switch msg.Type {
		case "answer":
			return h.service.SubmitAnswer(ctx, sessionID, playerID, p.QuestionIndex, p.Answer, p.IsCorrect)
		case "exit":
			return h.service.ExitGame(ctx, sessionID, playerID)
		}
	}
	return nil, errUnsupportedCommand
}
