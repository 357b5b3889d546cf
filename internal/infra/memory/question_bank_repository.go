package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"trivia-live-service/internal/domain"
)

// BankLoader fetches question banks from a backing store.
type BankLoader interface {
	LoadQuestionBank(ctx context.Context, bankID string) (domain.QuestionBank, error)
}

// QuestionBankRepository caches question banks with TTL to avoid repeated DB
// hits while a game reads the same bank on every transition.
type QuestionBankRepository struct {
	loader BankLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedBank
}

type cachedBank struct {
	bank      domain.QuestionBank
	expiresAt time.Time
}

func NewQuestionBankRepository(loader BankLoader, ttl time.Duration) *QuestionBankRepository {
	return &QuestionBankRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedBank),
	}
}

func (r *QuestionBankRepository) GetQuestionBank(ctx context.Context, bankID string) (domain.QuestionBank, error) {
	if bank, ok := r.cached(bankID); ok {
		return bank, nil
	}

	result, err, _ := r.sf.Do(bankID, func() (interface{}, error) {
		if bank, ok := r.cached(bankID); ok {
			return bank, nil
		}

		bank, err := r.loader.LoadQuestionBank(ctx, bankID)
		if err != nil {
			return domain.QuestionBank{}, err
		}

		r.mu.Lock()
		r.cache[bankID] = cachedBank{
			bank:      bank,
			expiresAt: r.clock().Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return bank, nil
	})
	if err != nil {
		return domain.QuestionBank{}, err
	}
	return result.(domain.QuestionBank), nil
}

func (r *QuestionBankRepository) cached(bankID string) (domain.QuestionBank, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.cache[bankID]; ok && entry.expiresAt.After(r.clock()) {
		return entry.bank, true
	}
	return domain.QuestionBank{}, false
}

func (r *QuestionBankRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticBankLoader is a loader backed by an in-memory map (useful for tests/demos).
type StaticBankLoader struct {
	mu    sync.RWMutex
	banks map[string]domain.QuestionBank
}

func NewStaticBankLoader(banks map[string]domain.QuestionBank) *StaticBankLoader {
	if banks == nil {
		banks = make(map[string]domain.QuestionBank)
	}
	return &StaticBankLoader{banks: banks}
}

func (l *StaticBankLoader) LoadQuestionBank(_ context.Context, bankID string) (domain.QuestionBank, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bank, ok := l.banks[bankID]; ok {
		return bank, nil
	}
	return domain.QuestionBank{}, domain.ErrQuestionBankNotFound
}

// GetQuestionBank lets the loader serve directly as an uncached repository.
func (l *StaticBankLoader) GetQuestionBank(ctx context.Context, bankID string) (domain.QuestionBank, error) {
	return l.LoadQuestionBank(ctx, bankID)
}

// Put adds or replaces a bank.
func (l *StaticBankLoader) Put(bank domain.QuestionBank) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.banks[bank.ID] = bank
}
