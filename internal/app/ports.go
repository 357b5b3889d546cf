package app

import (
	"context"

	"trivia-live-service/internal/domain"
)

// SessionRepository stores game session documents.
type SessionRepository interface {
	CreateSession(ctx context.Context, session domain.GameSession) error
	GetSession(ctx context.Context, sessionID string) (domain.GameSession, error)
	FindSessionByPin(ctx context.Context, pinUpper string) (domain.GameSession, error)
	// UpdateSession applies fn to the current document and commits the result
	// only if no other writer changed it in between. An error from fn aborts
	// the update and is returned unchanged.
	UpdateSession(ctx context.Context, sessionID string, fn func(*domain.GameSession) error) (domain.GameSession, error)
	// DeleteSession removes the session together with its players and answers.
	DeleteSession(ctx context.Context, sessionID string) error
}

// PlayerRepository stores the players sub-collection of a session.
type PlayerRepository interface {
	// CreatePlayer fails with domain.ErrAlreadyJoined when the player document
	// exists and with domain.ErrNicknameTaken when another player holds the nickname.
	CreatePlayer(ctx context.Context, sessionID string, player domain.Player) error
	GetPlayer(ctx context.Context, sessionID, playerID string) (domain.Player, error)
	// ListPlayers returns players in join order.
	ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error)
	UpdatePlayer(ctx context.Context, sessionID, playerID string, fn func(*domain.Player) error) (domain.Player, error)
	// ApplyScore atomically increments the player's score and aggregates unless
	// the player was already scored for award.QuestionIndex. It reports whether
	// the increment was applied.
	ApplyScore(ctx context.Context, sessionID, playerID string, award domain.ScoreAward) (bool, error)
}

// AnswerRepository stores the answers sub-collection of a session.
type AnswerRepository interface {
	// PutAnswer writes the answer under its deterministic key, replacing any
	// earlier submission for the same player and question.
	PutAnswer(ctx context.Context, sessionID string, answer domain.Answer) error
	ListAnswers(ctx context.Context, sessionID string, questionIndex int) ([]domain.Answer, error)
}

// GameStore is the document-store collaborator the state machine runs on.
type GameStore interface {
	SessionRepository
	PlayerRepository
	AnswerRepository
}

// ChangeFeed delivers a signal whenever a document under topic changes.
// Signals coalesce; the receiver is expected to re-read current state.
type ChangeFeed interface {
	Watch(ctx context.Context, topic string) (<-chan struct{}, func(), error)
}

// ProfileRepository stores permanent profiles and match history.
type ProfileRepository interface {
	// RecordMatch stores entry once per (userID, entry.GameID) and increments
	// the cumulative stats in the same commit. It reports whether the entry was new.
	RecordMatch(ctx context.Context, userID string, entry domain.MatchHistory) (bool, error)
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
}

// QuestionBankRepository loads question banks (from cache/backing store).
type QuestionBankRepository interface {
	GetQuestionBank(ctx context.Context, bankID string) (domain.QuestionBank, error)
}
