package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"trivia-live-service/internal/domain"
)

const migrationWriteLimit = 8

// MigrationReport counts how the players of a session were handled at game end.
type MigrationReport struct {
	Migrated int `json:"migrated"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// MigrateEndOfGame writes a match-history entry and increments the profile
// stats of every registered player in the session. Anonymous players and
// records without a usable identity are skipped; a failed write is logged and
// does not stop the remaining players.
func (s *GameService) MigrateEndOfGame(ctx context.Context, sessionID, gameName string) (MigrationReport, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return MigrationReport{}, err
	}
	if gameName == "" {
		gameName = session.Name
	}
	return s.migrateSession(ctx, session, gameName)
}

func (s *GameService) migrateSession(ctx context.Context, session domain.GameSession, gameName string) (MigrationReport, error) {
	players, err := s.store.ListPlayers(ctx, session.ID)
	if err != nil {
		return MigrationReport{}, fmt.Errorf("list players: %w", err)
	}
	ranks := rankIndex(players)
	gameDate := s.now()

	var (
		mu     sync.Mutex
		report MigrationReport
	)
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(migrationWriteLimit)
	for _, p := range players {
		if p.IsAnonymous {
			count(&report.Skipped)
			continue
		}
		if !wellFormedUserID(p.ID) {
			s.logger.Warn("skipping player without usable identity",
				slog.String("session_id", session.ID),
				slog.String("nickname", p.Nickname))
			count(&report.Skipped)
			continue
		}
		entry := matchEntry(session, gameName, p, ranks[p.ID], gameDate)
		g.Go(func() error {
			if _, err := s.profiles.RecordMatch(gctx, p.ID, entry); err != nil {
				s.logger.Error("match history write failed",
					slog.String("session_id", session.ID),
					slog.String("player_id", p.ID),
					slog.Any("err", err))
				count(&report.Failed)
				return nil
			}
			count(&report.Migrated)
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

// MigrateAnonymousStats moves the final stats of a guest player onto the
// profile of the user the guest registered as.
func (s *GameService) MigrateAnonymousStats(ctx context.Context, anonymousPlayerID, newUserID, sessionID string) (domain.MatchHistory, error) {
	if !wellFormedUserID(newUserID) {
		return domain.MatchHistory{}, domain.ErrInvalidUserID
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.MatchHistory{}, err
	}
	players, err := s.store.ListPlayers(ctx, sessionID)
	if err != nil {
		return domain.MatchHistory{}, fmt.Errorf("list players: %w", err)
	}

	var (
		guest domain.Player
		found bool
	)
	for _, p := range players {
		if p.ID == anonymousPlayerID {
			guest, found = p, true
			break
		}
	}
	if !found {
		return domain.MatchHistory{}, domain.ErrPlayerNotFound
	}
	if !guest.IsAnonymous {
		return domain.MatchHistory{}, domain.ErrNotAnonymous
	}

	entry := matchEntry(session, session.Name, guest, rankIndex(players)[guest.ID], s.now())
	if _, err := s.profiles.RecordMatch(ctx, newUserID, entry); err != nil {
		return domain.MatchHistory{}, fmt.Errorf("record match: %w", err)
	}
	s.logger.Info("anonymous stats migrated",
		slog.String("session_id", sessionID),
		slog.String("player_id", anonymousPlayerID),
		slog.String("user_id", newUserID))
	return entry, nil
}

// GetProfile returns the permanent profile of a user; unknown users get an
// empty profile.
func (s *GameService) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	return s.profiles.GetProfile(ctx, userID)
}

func rankIndex(players []domain.Player) map[string]int {
	ranks := make(map[string]int, len(players))
	for _, e := range RankPlayers(players) {
		ranks[e.PlayerID] = e.Rank
	}
	return ranks
}

func wellFormedUserID(id string) bool {
	return strings.TrimSpace(id) != "" && !strings.ContainsAny(id, "/ ")
}

func matchEntry(session domain.GameSession, gameName string, p domain.Player, rank int, gameDate time.Time) domain.MatchHistory {
	var avg int64
	if p.QuestionsCorrect > 0 {
		avg = p.TotalAnswerTimeMs / int64(p.QuestionsCorrect)
	}
	return domain.MatchHistory{
		GameID:            session.ID,
		GameName:          gameName,
		FinalRank:         rank,
		FinalScore:        p.Score,
		QuestionsCorrect:  p.QuestionsCorrect,
		AvgAnswerTimeMs:   avg,
		TotalAnswerTimeMs: p.TotalAnswerTimeMs,
		GameDate:          gameDate,
	}
}
