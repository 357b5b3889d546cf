package redis

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"trivia-live-service/internal/domain"
)

// BankLoader fetches question banks from the backing store.
type BankLoader interface {
	LoadQuestionBank(ctx context.Context, bankID string) (domain.QuestionBank, error)
}

// QuestionBankRepository caches question banks in Redis and falls back to a
// loader on cache miss. A bank is stored as one hash:
//
//	HSET trivia:bank:{id} name {name} count {n} q:0 {question json} ... q:{n-1} {...}
type QuestionBankRepository struct {
	client *redis.Client
	loader BankLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuestionBankRepository(client *redis.Client, loader BankLoader, ttl time.Duration) *QuestionBankRepository {
	return &QuestionBankRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionBankRepository) GetQuestionBank(ctx context.Context, bankID string) (domain.QuestionBank, error) {
	if bank, ok := r.cached(ctx, bankID); ok {
		return bank, nil
	}

	result, err, _ := r.sf.Do(bankID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if bank, ok := r.cached(ctx, bankID); ok {
			return bank, nil
		}
		bank, err := r.loader.LoadQuestionBank(ctx, bankID)
		if err != nil {
			return domain.QuestionBank{}, err
		}
		r.store(ctx, bank)
		return bank, nil
	})
	if err != nil {
		return domain.QuestionBank{}, err
	}
	return result.(domain.QuestionBank), nil
}

// Invalidate drops the cached copy so the next read goes to the loader.
func (r *QuestionBankRepository) Invalidate(ctx context.Context, bankID string) error {
	return r.client.Del(ctx, bankKey(bankID)).Err()
}

func (r *QuestionBankRepository) cached(ctx context.Context, bankID string) (domain.QuestionBank, bool) {
	fields, err := r.client.HGetAll(ctx, bankKey(bankID)).Result()
	if err != nil || len(fields) == 0 {
		return domain.QuestionBank{}, false
	}
	count, err := strconv.Atoi(fields["count"])
	if err != nil || count < 0 {
		return domain.QuestionBank{}, false
	}

	bank := domain.QuestionBank{ID: bankID, Name: fields["name"], Questions: make([]domain.Question, 0, count)}
	for i := 0; i < count; i++ {
		raw, ok := fields["q:"+strconv.Itoa(i)]
		if !ok {
			return domain.QuestionBank{}, false
		}
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return domain.QuestionBank{}, false
		}
		bank.Questions = append(bank.Questions, q)
	}
	return bank, true
}

// store is best-effort; a failed write only costs another load.
func (r *QuestionBankRepository) store(ctx context.Context, bank domain.QuestionBank) {
	key := bankKey(bank.ID)
	values := []interface{}{"name", bank.Name, "count", len(bank.Questions)}
	for i, q := range bank.Questions {
		data, err := json.Marshal(q)
		if err != nil {
			return
		}
		values = append(values, "q:"+strconv.Itoa(i), data)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, values...)
	if ttl := r.ttlWithJitter(); ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, _ = pipe.Exec(ctx)
}

func (r *QuestionBankRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
