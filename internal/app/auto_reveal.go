package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"trivia-live-service/internal/domain"
)

const autoRevealTimeout = 30 * time.Second

// autoRevealer reveals a question when its time runs out. It keeps at most
// one pending timer per session.
type autoRevealer struct {
	svc *GameService

	mu      sync.Mutex
	pending map[string]pendingReveal
}

type pendingReveal struct {
	index int
	stop  func() bool
}

func (a *autoRevealer) init(svc *GameService) {
	a.svc = svc
	a.pending = make(map[string]pendingReveal)
}

func (s *GameService) scheduleReveal(session domain.GameSession) {
	if s.timer == nil {
		return
	}
	s.timer.schedule(session)
}

func (s *GameService) cancelTimer(sessionID string) {
	if s.timer == nil {
		return
	}
	s.timer.cancel(sessionID)
}

func (a *autoRevealer) schedule(session domain.GameSession) {
	delay := session.QuestionDeadline().Sub(a.svc.now()) + a.svc.autoRevealGrace
	if delay < 0 {
		delay = 0
	}
	sessionID, index := session.ID, session.CurrentQuestionIndex

	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pending[sessionID]; ok {
		p.stop()
	}
	a.pending[sessionID] = pendingReveal{
		index: index,
		stop: a.svc.afterFunc(delay, func() {
			a.fire(sessionID, index)
		}),
	}
}

func (a *autoRevealer) cancel(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pending[sessionID]; ok {
		p.stop()
		delete(a.pending, sessionID)
	}
}

func (a *autoRevealer) fire(sessionID string, index int) {
	a.mu.Lock()
	if p, ok := a.pending[sessionID]; ok && p.index == index {
		delete(a.pending, sessionID)
	}
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), autoRevealTimeout)
	defer cancel()

	_, err := a.svc.reveal(ctx, sessionID, index)
	switch {
	case err == nil:
		a.svc.logger.Info("question auto-revealed", slog.String("session_id", sessionID), slog.Int("question_index", index))
	case errors.Is(err, errStaleReveal), errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrSessionNotFound):
		// admin got there first, or the game is gone
	default:
		a.svc.logger.Error("auto reveal failed",
			slog.String("session_id", sessionID),
			slog.Int("question_index", index),
			slog.Any("err", err))
	}
}
