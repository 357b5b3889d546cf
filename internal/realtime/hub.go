// Package realtime pushes the current state of session documents to
// subscribers. Every notification carries the full document; consumers
// replace what they had instead of patching it.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/domain"
)

// DefaultLeaderboardLimit is the number of entries a leaderboard subscription shows.
const DefaultLeaderboardLimit = 10

// Reader is the read side of the document store.
type Reader interface {
	GetSession(ctx context.Context, sessionID string) (domain.GameSession, error)
	GetPlayer(ctx context.Context, sessionID, playerID string) (domain.Player, error)
	ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error)
}

// SessionSnapshot is the state of a session document. Deleted is set once the
// session no longer exists; no snapshot follows it.
type SessionSnapshot struct {
	Session domain.GameSession `json:"session"`
	Deleted bool               `json:"deleted,omitempty"`
}

// PlayerSnapshot is the state of one player document.
type PlayerSnapshot struct {
	Player  domain.Player `json:"player"`
	Deleted bool          `json:"deleted,omitempty"`
}

// LeaderboardSnapshot is the ordered top of a session's players.
type LeaderboardSnapshot struct {
	SessionID string                    `json:"sessionId"`
	Entries   []domain.LeaderboardEntry `json:"entries"`
	Deleted   bool                      `json:"deleted,omitempty"`
}

// Hub turns change-feed signals into snapshot streams.
type Hub struct {
	feed   app.ChangeFeed
	reader Reader
	logger *slog.Logger
}

func NewHub(feed app.ChangeFeed, reader Reader, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{feed: feed, reader: reader, logger: logger}
}

// SubscribeSession streams the session document.
func (h *Hub) SubscribeSession(ctx context.Context, sessionID string) (*Subscription[SessionSnapshot], error) {
	load := func(ctx context.Context) (SessionSnapshot, error) {
		session, err := h.reader.GetSession(ctx, sessionID)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return SessionSnapshot{Session: domain.GameSession{ID: sessionID}, Deleted: true}, nil
		}
		return SessionSnapshot{Session: session}, err
	}
	same := func(prev, next SessionSnapshot) bool {
		return prev.Deleted == next.Deleted && prev.Session.Version == next.Session.Version
	}
	done := func(s SessionSnapshot) bool { return s.Deleted }
	return subscribe(ctx, h, domain.SessionTopic(sessionID), load, same, done)
}

// SubscribePlayer streams one player document.
func (h *Hub) SubscribePlayer(ctx context.Context, sessionID, playerID string) (*Subscription[PlayerSnapshot], error) {
	load := func(ctx context.Context) (PlayerSnapshot, error) {
		player, err := h.reader.GetPlayer(ctx, sessionID, playerID)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return PlayerSnapshot{Player: domain.Player{ID: playerID}, Deleted: true}, nil
		}
		return PlayerSnapshot{Player: player}, err
	}
	same := func(prev, next PlayerSnapshot) bool {
		return prev.Deleted == next.Deleted && prev.Player.Version == next.Player.Version
	}
	done := func(s PlayerSnapshot) bool { return s.Deleted }
	return subscribe(ctx, h, domain.PlayerTopic(sessionID, playerID), load, same, done)
}

// SubscribeLeaderboard streams the top limit players by score. limit <= 0
// uses DefaultLeaderboardLimit.
func (h *Hub) SubscribeLeaderboard(ctx context.Context, sessionID string, limit int) (*Subscription[LeaderboardSnapshot], error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	load := func(ctx context.Context) (LeaderboardSnapshot, error) {
		players, err := h.reader.ListPlayers(ctx, sessionID)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return LeaderboardSnapshot{SessionID: sessionID, Deleted: true}, nil
		}
		if err != nil {
			return LeaderboardSnapshot{}, err
		}
		return LeaderboardSnapshot{SessionID: sessionID, Entries: app.Leaderboard(players, limit)}, nil
	}
	same := func(prev, next LeaderboardSnapshot) bool {
		return prev.Deleted == next.Deleted && slices.Equal(prev.Entries, next.Entries)
	}
	done := func(s LeaderboardSnapshot) bool { return s.Deleted }
	return subscribe(ctx, h, domain.PlayersTopic(sessionID), load, same, done)
}

// Subscription is a stream of snapshots. C always holds at most the newest
// undelivered snapshot; older ones are replaced, never reordered.
type Subscription[T any] struct {
	C <-chan T

	out      chan T
	stop     context.CancelFunc
	unwatch  func()
	finished chan struct{}
	once     sync.Once
}

// Close releases the subscription. Nothing is delivered on C after Close
// returns, and C is closed. Close may be called any number of times.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.stop()
		s.unwatch()
		<-s.finished
		select {
		case <-s.out:
		default:
		}
		close(s.out)
	})
}

func subscribe[T any](
	ctx context.Context,
	h *Hub,
	topic string,
	load func(context.Context) (T, error),
	same func(prev, next T) bool,
	done func(T) bool,
) (*Subscription[T], error) {
	// Watch before the first read so no change between the two is missed.
	signals, unwatch, err := h.feed.Watch(ctx, topic)
	if err != nil {
		return nil, err
	}

	initial, err := load(ctx)
	if err != nil {
		unwatch()
		return nil, err
	}
	if done(initial) {
		unwatch()
		return nil, domain.ErrSessionNotFound
	}

	runCtx, stop := context.WithCancel(context.Background())
	out := make(chan T, 1)
	sub := &Subscription[T]{
		C:        out,
		out:      out,
		stop:     stop,
		unwatch:  unwatch,
		finished: make(chan struct{}),
	}
	out <- initial

	go func() {
		defer close(sub.finished)
		last := initial
		for {
			select {
			case <-runCtx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
			}

			next, err := load(runCtx)
			if err != nil {
				if runCtx.Err() == nil {
					h.logger.Warn("snapshot reload failed", slog.String("topic", topic), slog.Any("err", err))
				}
				continue
			}
			if same(last, next) {
				continue
			}
			if runCtx.Err() != nil {
				return
			}
			deliverLatest(out, next)
			last = next
			if done(next) {
				return
			}
		}
	}()
	return sub, nil
}

// deliverLatest replaces a pending snapshot rather than blocking on a slow
// consumer. Only the subscription goroutine sends on out.
func deliverLatest[T any](out chan T, v T) {
	select {
	case out <- v:
	default:
		select {
		case <-out:
		default:
		}
		out <- v
	}
}
