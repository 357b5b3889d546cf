package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"trivia-live-service/internal/domain"
	"trivia-live-service/internal/infra/memory"
)

func TestQuestionBankRepositoryCachesInRedis(t *testing.T) {
	mr, client := newMiniredis(t)

	loader := &countingLoader{BankLoader: memory.NewStaticBankLoader(map[string]domain.QuestionBank{
		"bank-1": sampleBank(),
	})}
	repo := NewQuestionBankRepository(client, loader, time.Minute)

	bank, err := repo.GetQuestionBank(context.Background(), "bank-1")
	if err != nil {
		t.Fatalf("get bank: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls.Load())
	}
	if !mr.Exists("trivia:bank:bank-1") {
		t.Fatalf("expected bank hash in redis")
	}
	if ttl := mr.TTL("trivia:bank:bank-1"); ttl < time.Minute || ttl > 66*time.Second {
		t.Fatalf("expected ttl with up to 10%% jitter, got %s", ttl)
	}

	// Second call should hit cache, loader not incremented.
	cached, err := repo.GetQuestionBank(context.Background(), "bank-1")
	if err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls.Load())
	}
	if cached.Name != bank.Name || len(cached.Questions) != 2 || cached.Questions[1].CorrectLetter != "C" ||
		cached.Questions[0].Answers[1] != "4" {
		t.Fatalf("cached bank differs: %+v", cached)
	}

	if err := repo.Invalidate(context.Background(), "bank-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = repo.GetQuestionBank(context.Background(), "bank-1")
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after invalidate, calls=%d", loader.calls.Load())
	}
}

func TestQuestionBankRepositoryMissingBank(t *testing.T) {
	_, client := newMiniredis(t)
	repo := NewQuestionBankRepository(client, memory.NewStaticBankLoader(nil), time.Minute)

	if _, err := repo.GetQuestionBank(context.Background(), "nope"); !errors.Is(err, domain.ErrQuestionBankNotFound) {
		t.Fatalf("expected not found, got %v", err)
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
		Name: "General Knowledge",
		Questions: []domain.Question{
			{Question: "What is 2 + 2?", Answers: [4]string{"3", "4", "5", "6"}, CorrectLetter: "B", Duration: 20},
			{Question: "Capital of Italy?", Answers: [4]string{"Milan", "Turin", "Rome", "Naples"}, CorrectLetter: "C", Duration: 15},
		},
	}
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}
