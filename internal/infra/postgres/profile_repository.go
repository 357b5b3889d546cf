package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"trivia-live-service/internal/domain"
)

type profileRow struct {
	bun.BaseModel `bun:"table:profiles,alias:p"`

	UserID                string    `bun:"user_id,pk"`
	GamesPlayed           int       `bun:"games_played,notnull"`
	TotalQuestionsCorrect int       `bun:"total_questions_correct,notnull"`
	TotalAnswerTimeMs     int64     `bun:"total_answer_time_ms,notnull"`
	UpdatedAt             time.Time `bun:"updated_at,notnull"`
}

type matchRow struct {
	bun.BaseModel `bun:"table:match_history,alias:mh"`

	UserID            string    `bun:"user_id,pk"`
	GameID            string    `bun:"game_id,pk"`
	GameName          string    `bun:"game_name,notnull"`
	FinalRank         int       `bun:"final_rank,notnull"`
	FinalScore        int       `bun:"final_score,notnull"`
	QuestionsCorrect  int       `bun:"questions_correct,notnull"`
	AvgAnswerTimeMs   int64     `bun:"avg_answer_time_ms,notnull"`
	TotalAnswerTimeMs int64     `bun:"total_answer_time_ms,notnull"`
	GameDate          time.Time `bun:"game_date,notnull"`
}

// ProfileRepository stores profiles and match history with bun.
type ProfileRepository struct {
	db  *bun.DB
	now func() time.Time
}

func NewProfileRepository(db *bun.DB) *ProfileRepository {
	return &ProfileRepository{db: db, now: time.Now}
}

// RecordMatch inserts the history row and, only when it is new, adds its
// numbers to the profile totals. Both writes share one transaction.
func (r *ProfileRepository) RecordMatch(ctx context.Context, userID string, entry domain.MatchHistory) (bool, error) {
	row := &matchRow{
		UserID:            userID,
		GameID:            entry.GameID,
		GameName:          entry.GameName,
		FinalRank:         entry.FinalRank,
		FinalScore:        entry.FinalScore,
		QuestionsCorrect:  entry.QuestionsCorrect,
		AvgAnswerTimeMs:   entry.AvgAnswerTimeMs,
		TotalAnswerTimeMs: entry.TotalAnswerTimeMs,
		GameDate:          entry.GameDate,
	}

	created := false
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewInsert().Model(row).On("CONFLICT (user_id, game_id) DO NOTHING").Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert match history: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}

		profile := &profileRow{
			UserID:                userID,
			GamesPlayed:           1,
			TotalQuestionsCorrect: entry.QuestionsCorrect,
			TotalAnswerTimeMs:     entry.TotalAnswerTimeMs,
			UpdatedAt:             r.now(),
		}
		_, err = tx.NewInsert().Model(profile).
			On("CONFLICT (user_id) DO UPDATE").
			Set("games_played = p.games_played + EXCLUDED.games_played").
			Set("total_questions_correct = p.total_questions_correct + EXCLUDED.total_questions_correct").
			Set("total_answer_time_ms = p.total_answer_time_ms + EXCLUDED.total_answer_time_ms").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("upsert profile: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// GetProfile returns an empty profile for users that never finished a game.
func (r *ProfileRepository) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	profile := domain.Profile{UserID: userID, MatchHistory: make(map[string]domain.MatchHistory)}

	row := new(profileRow)
	err := r.db.NewSelect().Model(row).Where("user_id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return profile, nil
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("select profile: %w", err)
	}
	profile.Stats = domain.ProfileStats{
		GamesPlayed:           row.GamesPlayed,
		TotalQuestionsCorrect: row.TotalQuestionsCorrect,
		TotalAnswerTimeMs:     row.TotalAnswerTimeMs,
	}

	var matches []matchRow
	if err := r.db.NewSelect().Model(&matches).Where("user_id = ?", userID).Order("game_date ASC").Scan(ctx); err != nil {
		return domain.Profile{}, fmt.Errorf("select match history: %w", err)
	}
	for _, m := range matches {
		profile.MatchHistory[m.GameID] = domain.MatchHistory{
			GameID:            m.GameID,
			GameName:          m.GameName,
			FinalRank:         m.FinalRank,
			FinalScore:        m.FinalScore,
			QuestionsCorrect:  m.QuestionsCorrect,
			AvgAnswerTimeMs:   m.AvgAnswerTimeMs,
			TotalAnswerTimeMs: m.TotalAnswerTimeMs,
			GameDate:          m.GameDate,
		}
	}
	return profile, nil
}
