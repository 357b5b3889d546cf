package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"trivia-live-service/internal/domain"
)

func TestQuestionBankRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		BankLoader: NewStaticBankLoader(map[string]domain.QuestionBank{
			"bank-1": sampleBank(),
		}),
	}
	repo := NewQuestionBankRepository(loader, time.Minute)

	if _, err := repo.GetQuestionBank(context.Background(), "bank-1"); err != nil {
		t.Fatalf("get bank: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls.Load())
	}

	bank, err := repo.GetQuestionBank(context.Background(), "bank-1")
	if err != nil {
		t.Fatalf("get bank 2: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls.Load())
	}
	if len(bank.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(bank.Questions))
	}
}

func TestQuestionBankRepositoryExpires(t *testing.T) {
	loader := &countingLoader{
		BankLoader: NewStaticBankLoader(map[string]domain.QuestionBank{"bank-1": sampleBank()}),
	}
	repo := NewQuestionBankRepository(loader, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return now }

	_, _ = repo.GetQuestionBank(context.Background(), "bank-1")
	now = now.Add(2 * time.Minute)
	_, _ = repo.GetQuestionBank(context.Background(), "bank-1")
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after ttl, loader calls %d", loader.calls.Load())
	}
}

func TestQuestionBankRepositoryMissing(t *testing.T) {
	repo := NewQuestionBankRepository(NewStaticBankLoader(nil), time.Minute)
	_, err := repo.GetQuestionBank(context.Background(), "nope")
	if !errors.Is(err, domain.ErrQuestionBankNotFound) {
		t.Fatalf("expected bank not found, got %v", err)
	}
}

type countingLoader struct {
	BankLoader
	calls atomic.Int32
}

func (l *countingLoader) LoadQuestionBank(ctx context.Context, bankID string) (domain.QuestionBank, error) {
	l.calls.Add(1)
	return l.BankLoader.LoadQuestionBank(ctx, bankID)
}

func sampleBank() domain.QuestionBank {
	return domain.QuestionBank{
		ID:   "bank-1",
		Name: "General knowledge",
		Questions: []domain.Question{
			{
				Question:      "What is 2 + 2?",
				Answers:       [4]string{"3", "4", "5", "22"},
				CorrectLetter: "B",
				Duration:      30,
			},
			{
				Question:      "Capital of France?",
				Answers:       [4]string{"Paris", "Rome", "Madrid", "Berlin"},
				CorrectLetter: "A",
				Duration:      20,
			},
		},
	}
}
