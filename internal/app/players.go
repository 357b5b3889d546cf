package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"trivia-live-service/internal/domain"
)

// JoinGame registers userID under nickname. A user that already holds an
// active player record gets that record back together with
// domain.ErrAlreadyJoined so the caller can resume; kicked or exited players
// cannot rejoin. Joining is allowed in any session state.
func (s *GameService) JoinGame(ctx context.Context, sessionID, userID, nickname string, anonymous bool) (domain.Player, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Player{}, domain.ErrInvalidUserID
	}
	if strings.TrimSpace(nickname) == "" {
		return domain.Player{}, domain.ErrInvalidNickname
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return domain.Player{}, err
	}

	if existing, err := s.store.GetPlayer(ctx, sessionID, userID); err == nil {
		return existing, rejoinError(existing)
	} else if !errors.Is(err, domain.ErrPlayerNotFound) {
		return domain.Player{}, err
	}

	player := domain.Player{
		ID:                 userID,
		Nickname:           nickname,
		LastScoredQuestion: domain.NoQuestionScored,
		IsAnonymous:        anonymous,
		JoinedAt:           s.now(),
	}
	err := s.store.CreatePlayer(ctx, sessionID, player)
	if errors.Is(err, domain.ErrAlreadyJoined) {
		// lost a race against our own concurrent join
		existing, getErr := s.store.GetPlayer(ctx, sessionID, userID)
		if getErr != nil {
			return domain.Player{}, getErr
		}
		return existing, rejoinError(existing)
	}
	if err != nil {
		return domain.Player{}, err
	}

	s.logger.Info("player joined",
		slog.String("session_id", sessionID),
		slog.String("player_id", userID),
		slog.Bool("anonymous", anonymous))
	return s.store.GetPlayer(ctx, sessionID, userID)
}

func rejoinError(existing domain.Player) error {
	if !existing.Active() {
		return domain.ErrPlayerRemoved
	}
	return domain.ErrAlreadyJoined
}

// JoinByPin resolves the PIN and joins the matching session.
func (s *GameService) JoinByPin(ctx context.Context, pin, userID, nickname string, anonymous bool) (domain.GameSession, domain.Player, error) {
	session, err := s.FindSessionByPin(ctx, pin)
	if err != nil {
		return domain.GameSession{}, domain.Player{}, err
	}
	player, err := s.JoinGame(ctx, session.ID, userID, nickname, anonymous)
	return session, player, err
}

// SubmitAnswer records the player's selection for the active question.
// Resubmitting before the reveal replaces the earlier answer; once the
// question is no longer active the submission is rejected.
func (s *GameService) SubmitAnswer(ctx context.Context, sessionID, playerID string, questionIndex int, letter string, isCorrect bool) (domain.Answer, error) {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if !domain.ValidAnswerLetter(letter) {
		return domain.Answer{}, domain.ErrInvalidAnswer
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Answer{}, err
	}
	if session.State != domain.StateQuestionActive || session.CurrentQuestionIndex != questionIndex {
		return domain.Answer{}, domain.ErrAnswerClosed
	}

	player, err := s.store.GetPlayer(ctx, sessionID, playerID)
	if err != nil {
		return domain.Answer{}, err
	}
	if !player.Active() {
		return domain.Answer{}, domain.ErrPlayerRemoved
	}

	answer := domain.Answer{
		PlayerID:      playerID,
		QuestionIndex: questionIndex,
		Answer:        letter,
		Correct:       isCorrect,
		SubmittedAt:   s.now(),
	}
	if err := s.store.PutAnswer(ctx, sessionID, answer); err != nil {
		return domain.Answer{}, fmt.Errorf("put answer: %w", err)
	}
	return answer, nil
}

// ExitGame marks the player as having left. Score and answers are kept.
func (s *GameService) ExitGame(ctx context.Context, sessionID, playerID string) (domain.Player, error) {
	return s.store.UpdatePlayer(ctx, sessionID, playerID, func(p *domain.Player) error {
		p.HasExited = true
		return nil
	})
}

// KickPlayer removes a player from play. Score and answers are kept.
func (s *GameService) KickPlayer(ctx context.Context, sessionID, playerID string) (domain.Player, error) {
	player, err := s.store.UpdatePlayer(ctx, sessionID, playerID, func(p *domain.Player) error {
		p.IsKicked = true
		return nil
	})
	if err == nil {
		s.logger.Info("player kicked", slog.String("session_id", sessionID), slog.String("player_id", playerID))
	}
	return player, err
}

// DirectMessage sets a message addressed to a single player.
func (s *GameService) DirectMessage(ctx context.Context, sessionID, playerID, text string) (domain.Player, error) {
	return s.store.UpdatePlayer(ctx, sessionID, playerID, func(p *domain.Player) error {
		p.DirectMessage = &domain.Message{Kind: domain.MessageDirect, Text: text, SentAt: s.now()}
		return nil
	})
}

func (s *GameService) GetPlayer(ctx context.Context, sessionID, playerID string) (domain.Player, error) {
	return s.store.GetPlayer(ctx, sessionID, playerID)
}

// Leaderboard returns the top limit players still in the game. limit <= 0
// returns everyone.
func (s *GameService) Leaderboard(ctx context.Context, sessionID string, limit int) ([]domain.LeaderboardEntry, error) {
	players, err := s.store.ListPlayers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return Leaderboard(players, limit), nil
}

// Leaderboard ranks players that have not been kicked.
func Leaderboard(players []domain.Player, limit int) []domain.LeaderboardEntry {
	visible := make([]domain.Player, 0, len(players))
	for _, p := range players {
		if !p.IsKicked {
			visible = append(visible, p)
		}
	}
	entries := RankPlayers(visible)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// RankPlayers orders players by score descending. Ties keep the input
// (join) order and receive consecutive ranks.
func RankPlayers(players []domain.Player) []domain.LeaderboardEntry {
	ordered := make([]domain.Player, len(players))
	copy(ordered, players)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})

	entries := make([]domain.LeaderboardEntry, 0, len(ordered))
	for i, p := range ordered {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:     i + 1,
			PlayerID: p.ID,
			Nickname: p.Nickname,
			Score:    p.Score,
		})
	}
	return entries
}
