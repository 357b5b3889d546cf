package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"trivia-live-service/internal/domain"
)

const (
	pinLength       = 6
	pinAttempts     = 5
	scoreWriteLimit = 16
)

// GameService owns the session lifecycle: it is the only writer of the
// session state field and of player scores.
type GameService struct {
	store    GameStore
	banks    QuestionBankRepository
	profiles ProfileRepository
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	autoRevealGrace time.Duration
	afterFunc       func(time.Duration, func()) func() bool
	timer           *autoRevealer
}

// Option customises a GameService.
type Option func(*GameService)

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *GameService) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *GameService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIDGenerator replaces the UUID generator used for session IDs.
func WithIDGenerator(fn func() string) Option {
	return func(s *GameService) { s.newID = fn }
}

// WithAutoReveal reveals every question automatically once its duration plus
// grace has elapsed, unless the admin revealed it first.
func WithAutoReveal(grace time.Duration) Option {
	return func(s *GameService) {
		s.autoRevealGrace = grace
		s.timer = &autoRevealer{}
	}
}

// WithTimerFunc replaces time.AfterFunc for the auto-reveal timer.
func WithTimerFunc(after func(time.Duration, func()) func() bool) Option {
	return func(s *GameService) { s.afterFunc = after }
}

func NewGameService(store GameStore, banks QuestionBankRepository, profiles ProfileRepository, opts ...Option) *GameService {
	s := &GameService{
		store:    store,
		banks:    banks,
		profiles: profiles,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.timer != nil {
		s.timer.init(s)
	}
	return s
}

// CreateSession opens a new game in the waiting state.
func (s *GameService) CreateSession(ctx context.Context, adminID, questionBankID string) (domain.GameSession, error) {
	if strings.TrimSpace(adminID) == "" {
		return domain.GameSession{}, domain.ErrInvalidUserID
	}
	bank, err := s.banks.GetQuestionBank(ctx, questionBankID)
	if err != nil {
		return domain.GameSession{}, err
	}

	for attempt := 0; attempt < pinAttempts; attempt++ {
		id := s.newID()
		pin := derivePin(id)
		now := s.now()
		session := domain.GameSession{
			ID:                   id,
			AdminID:              adminID,
			QuestionBankID:       bank.ID,
			Name:                 bank.Name,
			GamePin:              pin,
			GamePinUpper:         strings.ToUpper(pin),
			State:                domain.StateWaiting,
			CurrentQuestionIndex: 0,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		err := s.store.CreateSession(ctx, session)
		if errors.Is(err, domain.ErrPinTaken) {
			continue
		}
		if err != nil {
			return domain.GameSession{}, fmt.Errorf("create session: %w", err)
		}
		s.logger.Info("session created",
			slog.String("session_id", id),
			slog.String("pin", session.GamePinUpper),
			slog.String("bank_id", bank.ID))
		return s.store.GetSession(ctx, id)
	}
	return domain.GameSession{}, domain.ErrPinTaken
}

func derivePin(id string) string {
	compact := strings.ReplaceAll(id, "-", "")
	if len(compact) > pinLength {
		compact = compact[:pinLength]
	}
	return compact
}

func (s *GameService) GetSession(ctx context.Context, sessionID string) (domain.GameSession, error) {
	return s.store.GetSession(ctx, sessionID)
}

// FindSessionByPin resolves a PIN case-insensitively.
func (s *GameService) FindSessionByPin(ctx context.Context, pin string) (domain.GameSession, error) {
	return s.store.FindSessionByPin(ctx, strings.ToUpper(strings.TrimSpace(pin)))
}

// DeleteSession removes a session owned by adminID, cascading to its players and answers.
func (s *GameService) DeleteSession(ctx context.Context, sessionID, adminID string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.AdminID != adminID {
		return domain.ErrForbidden
	}
	s.cancelTimer(sessionID)
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.logger.Info("session deleted", slog.String("session_id", sessionID))
	return nil
}

// ShowQuestion activates the first question from waiting, or the next one
// after a reveal or leaderboard. Calling it while a question is already
// active returns the session unchanged.
func (s *GameService) ShowQuestion(ctx context.Context, sessionID string) (domain.GameSession, error) {
	current, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.GameSession{}, err
	}
	if current.State == domain.StateQuestionActive {
		return current, nil
	}
	if _, err := domain.Transition(current.State, domain.ActionShowQuestion); err != nil {
		return current, err
	}

	bank, err := s.banks.GetQuestionBank(ctx, current.QuestionBankID)
	if err != nil {
		return current, err
	}

	noop := false
	updated, err := s.store.UpdateSession(ctx, sessionID, func(session *domain.GameSession) error {
		if session.State == domain.StateQuestionActive {
			noop = true
			return nil
		}
		next, err := domain.Transition(session.State, domain.ActionShowQuestion)
		if err != nil {
			return err
		}
		index := 0
		if session.State != domain.StateWaiting {
			index = session.CurrentQuestionIndex + 1
		}
		question, ok := bank.Question(index)
		if !ok {
			return domain.ErrNoMoreQuestions
		}
		now := s.now()
		session.State = next
		session.CurrentQuestionIndex = index
		session.QuestionStartTime = now
		session.QuestionDuration = question.Duration
		session.UpdatedAt = now
		return nil
	})
	if err != nil {
		return current, err
	}
	if noop {
		return updated, nil
	}

	s.logger.Info("question shown",
		slog.String("session_id", sessionID),
		slog.Int("question_index", updated.CurrentQuestionIndex),
		slog.Int("duration_s", updated.QuestionDuration))
	s.scheduleReveal(updated)
	return updated, nil
}

// RevealResult is the outcome of a reveal: the new session state and the
// points each player earned for the question.
type RevealResult struct {
	Session domain.GameSession `json:"session"`
	Awards  map[string]int     `json:"awards"`
}

// RevealAnswer closes the active question, scores it and flips the session to
// answerrevealed. Scores are applied at most once per player and question, so
// a repeated or concurrent reveal never double-scores.
func (s *GameService) RevealAnswer(ctx context.Context, sessionID string) (RevealResult, error) {
	return s.reveal(ctx, sessionID, -1)
}

var errStaleReveal = errors.New("question already moved on")

func (s *GameService) reveal(ctx context.Context, sessionID string, expectIndex int) (RevealResult, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return RevealResult{}, err
	}
	if _, err := domain.Transition(session.State, domain.ActionRevealAnswer); err != nil {
		return RevealResult{Session: session}, err
	}
	index := session.CurrentQuestionIndex
	if expectIndex >= 0 && expectIndex != index {
		return RevealResult{Session: session}, errStaleReveal
	}

	awards, err := s.scoreQuestion(ctx, session)
	if err != nil {
		return RevealResult{Session: session}, err
	}

	updated, err := s.store.UpdateSession(ctx, sessionID, func(doc *domain.GameSession) error {
		if doc.CurrentQuestionIndex != index {
			return errStaleReveal
		}
		next, err := domain.Transition(doc.State, domain.ActionRevealAnswer)
		if err != nil {
			return err
		}
		doc.State = next
		doc.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return RevealResult{Session: session, Awards: awards}, err
	}
	s.cancelTimer(sessionID)

	s.logger.Info("answer revealed",
		slog.String("session_id", sessionID),
		slog.Int("question_index", index),
		slog.Int("scored_players", len(awards)))
	return RevealResult{Session: updated, Awards: awards}, nil
}

// scoreQuestion reads the answers snapshot for the active question and
// applies the score increments.
func (s *GameService) scoreQuestion(ctx context.Context, session domain.GameSession) (map[string]int, error) {
	index := session.CurrentQuestionIndex

	var question domain.Question
	bank, err := s.banks.GetQuestionBank(ctx, session.QuestionBankID)
	if err != nil {
		return nil, err
	}
	question, _ = bank.Question(index)

	answers, err := s.store.ListAnswers(ctx, session.ID, index)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	players, err := s.store.ListPlayers(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	active := make(map[string]bool, len(players))
	for _, p := range players {
		active[p.ID] = p.Active()
	}

	correct := make([]Submission, 0, len(answers))
	answerTimes := make(map[string]int64, len(answers))
	for _, a := range answers {
		if !active[a.PlayerID] || !answerIsCorrect(question, a) {
			continue
		}
		correct = append(correct, Submission{PlayerID: a.PlayerID, SubmittedAtMillis: millis(a.SubmittedAt)})
		elapsed := a.SubmittedAt.Sub(session.QuestionStartTime).Milliseconds()
		if elapsed < 0 {
			elapsed = 0
		}
		answerTimes[a.PlayerID] = elapsed
	}
	scores := ComputeScores(correct)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scoreWriteLimit)
	for playerID, points := range scores {
		award := domain.ScoreAward{
			QuestionIndex: index,
			Points:        points,
			Correct:       true,
			AnswerTimeMs:  answerTimes[playerID],
		}
		g.Go(func() error {
			applied, err := s.store.ApplyScore(gctx, session.ID, playerID, award)
			if err != nil {
				return fmt.Errorf("apply score for %s: %w", playerID, err)
			}
			if !applied {
				s.logger.Warn("score already applied",
					slog.String("session_id", session.ID),
					slog.String("player_id", playerID),
					slog.Int("question_index", index))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// answerIsCorrect prefers the bank's correct letter over the flag the client
// reported; the flag is only used when the bank does not record one.
func answerIsCorrect(question domain.Question, answer domain.Answer) bool {
	if question.CorrectLetter == "" {
		return answer.Correct
	}
	return question.IsCorrect(answer.Answer)
}

// ShowLeaderboard flips to the leaderboard view without touching the question cursor.
func (s *GameService) ShowLeaderboard(ctx context.Context, sessionID string) (domain.GameSession, error) {
	return s.simpleTransition(ctx, sessionID, domain.ActionShowLeaderboard)
}

// HideLeaderboard returns from the leaderboard to the revealed answer.
func (s *GameService) HideLeaderboard(ctx context.Context, sessionID string) (domain.GameSession, error) {
	return s.simpleTransition(ctx, sessionID, domain.ActionHideLeaderboard)
}

func (s *GameService) simpleTransition(ctx context.Context, sessionID string, action domain.Action) (domain.GameSession, error) {
	return s.store.UpdateSession(ctx, sessionID, func(session *domain.GameSession) error {
		next, err := domain.Transition(session.State, action)
		if err != nil {
			return err
		}
		session.State = next
		session.UpdatedAt = s.now()
		return nil
	})
}

// EndResult is the outcome of ending a game.
type EndResult struct {
	Session   domain.GameSession `json:"session"`
	Migration MigrationReport    `json:"migration"`
}

// EndGame folds player stats into permanent profiles and then finishes the
// session. Individual migration failures are logged and do not prevent the
// session from finishing.
func (s *GameService) EndGame(ctx context.Context, sessionID, gameName string) (EndResult, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return EndResult{}, err
	}
	if _, err := domain.Transition(session.State, domain.ActionEndGame); err != nil {
		return EndResult{Session: session}, err
	}
	if gameName == "" {
		gameName = session.Name
	}

	report, err := s.migrateSession(ctx, session, gameName)
	if err != nil {
		return EndResult{Session: session}, err
	}

	updated, err := s.simpleTransition(ctx, sessionID, domain.ActionEndGame)
	if err != nil {
		return EndResult{Session: session, Migration: report}, err
	}
	s.cancelTimer(sessionID)

	s.logger.Info("game ended",
		slog.String("session_id", sessionID),
		slog.Int("migrated", report.Migrated),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed))
	return EndResult{Session: updated, Migration: report}, nil
}

// Broadcast sets the session-wide message.
func (s *GameService) Broadcast(ctx context.Context, sessionID, text string) (domain.GameSession, error) {
	return s.store.UpdateSession(ctx, sessionID, func(session *domain.GameSession) error {
		now := s.now()
		session.BroadcastMessage = &domain.Message{Kind: domain.MessageBroadcast, Text: text, SentAt: now}
		session.UpdatedAt = now
		return nil
	})
}
