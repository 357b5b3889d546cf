package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-live-service/internal/domain"
)

// BankLoader loads question banks stored as JSONB in Postgres.
type BankLoader struct {
	pool *pgxpool.Pool
}

func NewBankLoader(pool *pgxpool.Pool) *BankLoader {
	return &BankLoader{pool: pool}
}

func (l *BankLoader) LoadQuestionBank(ctx context.Context, bankID string) (domain.QuestionBank, error) {
	var (
		name string
		raw  []byte
	)
	err := l.pool.QueryRow(ctx, `SELECT name, data FROM question_banks WHERE id=$1`, bankID).Scan(&name, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuestionBank{}, domain.ErrQuestionBankNotFound
	}
	if err != nil {
		return domain.QuestionBank{}, fmt.Errorf("load question bank: %w", err)
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return domain.QuestionBank{}, fmt.Errorf("unmarshal question bank: %w", err)
	}
	return domain.QuestionBank{ID: bankID, Name: name, Questions: questions}, nil
}

// SaveQuestionBank inserts or replaces a bank.
func (l *BankLoader) SaveQuestionBank(ctx context.Context, bank domain.QuestionBank) error {
	raw, err := json.Marshal(bank.Questions)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO question_banks (id, name, data) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, data = EXCLUDED.data, updated_at = now()`,
		bank.ID, bank.Name, raw)
	if err != nil {
		return fmt.Errorf("save question bank: %w", err)
	}
	return nil
}
