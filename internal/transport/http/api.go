package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/domain"
)

// API exposes the game operations as JSON over HTTP.
type API struct {
	service *app.GameService
	logger  *slog.Logger
}

func NewAPI(service *app.GameService, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{service: service, logger: logger}
}

// Register mounts the API routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", a.createSession)
	mux.HandleFunc("GET /api/sessions/{id}", a.getSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", a.deleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/leaderboard", a.leaderboard)
	mux.HandleFunc("POST /api/sessions/{id}/answers", a.submitAnswer)
	mux.HandleFunc("POST /api/sessions/{id}/exit", a.exitGame)
	mux.HandleFunc("POST /api/sessions/{id}/{action}", a.adminAction)
	mux.HandleFunc("POST /api/join", a.join)
	mux.HandleFunc("GET /api/profiles/{userId}", a.getProfile)
	mux.HandleFunc("POST /api/profiles/migrate", a.migrateAnonymous)
}

type createSessionRequest struct {
	AdminID        string `json:"adminId"`
	QuestionBankID string `json:"questionBankId"`
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, a.logger, err)
		return
	}
	session, err := a.service.CreateSession(r.Context(), req.AdminID, req.QuestionBankID)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteSession(r.Context(), r.PathValue("id"), r.URL.Query().Get("adminId")); err != nil {
		writeError(w, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := a.service.Leaderboard(r.Context(), r.PathValue("id"), 0)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type joinRequest struct {
	Pin       string `json:"pin"`
	UserID    string `json:"userId"`
	Nickname  string `json:"nickname"`
	Anonymous bool   `json:"anonymous"`
}

type joinResponse struct {
	Session domain.GameSession `json:"session"`
	Player  domain.Player      `json:"player"`
	Resumed bool               `json:"resumed"`
}

func (a *API) join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, a.logger, err)
		return
	}
	session, player, err := a.service.JoinByPin(r.Context(), req.Pin, req.UserID, req.Nickname, req.Anonymous)
	switch {
	case errors.Is(err, domain.ErrAlreadyJoined):
		writeJSON(w, http.StatusOK, joinResponse{Session: session, Player: player, Resumed: true})
	case err != nil:
		writeError(w, a.logger, err)
	default:
		writeJSON(w, http.StatusCreated, joinResponse{Session: session, Player: player})
	}
}

type answerRequest struct {
	PlayerID      string `json:"playerId"`
	QuestionIndex int    `json:"questionIndex"`
	Answer        string `json:"answer"`
	IsCorrect     bool   `json:"isCorrect"`
}

func (a *API) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, a.logger, err)
		return
	}
	answer, err := a.service.SubmitAnswer(r.Context(), r.PathValue("id"), req.PlayerID, req.QuestionIndex, req.Answer, req.IsCorrect)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, answer)
}

type playerRequest struct {
	PlayerID string `json:"playerId"`
}

func (a *API) exitGame(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, a.logger, err)
		return
	}
	player, err := a.service.ExitGame(r.Context(), r.PathValue("id"), req.PlayerID)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

// adminRequest is the body of every admin action; each action reads the
// fields it needs.
type adminRequest struct {
	AdminID  string `json:"adminId"`
	PlayerID string `json:"playerId"`
	Text     string `json:"text"`
	GameName string `json:"gameName"`
}

func (a *API) adminAction(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, a.logger, err)
		return
	}
	ctx, sessionID := r.Context(), r.PathValue("id")
	if err := a.requireAdmin(ctx, sessionID, req.AdminID); err != nil {
		writeError(w, a.logger, err)
		return
	}

	var (
		result any
		err    error
	)
	switch r.PathValue("action") {
	case "show-question":
		result, err = a.service.ShowQuestion(ctx, sessionID)
	case "reveal":
		result, err = a.service.RevealAnswer(ctx, sessionID)
	case "leaderboard":
		result, err = a.service.ShowLeaderboard(ctx, sessionID)
	case "hide-leaderboard":
		result, err = a.service.HideLeaderboard(ctx, sessionID)
	case "end":
		result, err = a.service.EndGame(ctx, sessionID, req.GameName)
	case "broadcast":
		result, err = a.service.Broadcast(ctx, sessionID, req.Text)
	case "kick":
		result, err = a.service.KickPlayer(ctx, sessionID, req.PlayerID)
	case "message":
		result, err = a.service.DirectMessage(ctx, sessionID, req.PlayerID, req.Text)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) requireAdmin(ctx context.Context, sessionID, adminID string) error {
	session, err := a.service.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if adminID == "" || session.AdminID != adminID {
		return domain.ErrForbidden
	}
	return nil
}

func (a *API) getProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := a.service.GetProfile(r.Context(), r.PathValue("userId"))
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type migrateRequest struct {
	AnonymousPlayerID string `json:"anonymousPlayerId"`
	NewUserID         string `json:"newUserId"`
	SessionID         string `json:"sessionId"`
}

func (a *API) migrateAnonymous(w http.ResponseWriter, r *http.Request) {
	var req migrateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, a.logger, err)
		return
	}
	entry, err := a.service.MigrateAnonymousStats(r.Context(), req.AnonymousPlayerID, req.NewUserID, req.SessionID)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
