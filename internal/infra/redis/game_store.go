package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"trivia-live-service/internal/domain"
)

// maxTxRetries bounds optimistic transaction retries on a contended key.
const maxTxRetries = 100

var errContention = errors.New("redis: transaction retries exhausted")

// GameStore keeps session, player and answer documents in Redis. Every
// document is a JSON string; conditional writes use WATCH/MULTI so concurrent
// writers never lose an update. Each write publishes on the affected topics,
// which makes the store its own change feed.
type GameStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewGameStore returns a store whose keys expire ttl after the session is
// created. ttl <= 0 keeps them forever.
func NewGameStore(client *redis.Client, ttl time.Duration) *GameStore {
	return &GameStore{client: client, ttl: ttl}
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readDoc[T any](ctx context.Context, c getter, key string, missing error) (T, error) {
	var doc T
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return doc, missing
	}
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("decode %s: %w", key, err)
	}
	return doc, nil
}

// watch runs fn in an optimistic transaction over keys, retrying when another
// client modified one of them first.
func (s *GameStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return errContention
}

func (s *GameStore) expire(ctx context.Context, pipe redis.Pipeliner, keys ...string) {
	if s.ttl <= 0 {
		return
	}
	for _, key := range keys {
		pipe.Expire(ctx, key, s.ttl)
	}
}

func (s *GameStore) CreateSession(ctx context.Context, session domain.GameSession) error {
	session.Version = 1
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	claimed, err := s.client.SetNX(ctx, pinKey(session.GamePinUpper), session.ID, s.ttl).Result()
	if err != nil {
		return err
	}
	if !claimed {
		return domain.ErrPinTaken
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.ID), data, s.ttl)
		publish(ctx, pipe, domain.SessionTopic(session.ID))
		return nil
	})
	return err
}

func (s *GameStore) GetSession(ctx context.Context, sessionID string) (domain.GameSession, error) {
	return readDoc[domain.GameSession](ctx, s.client, sessionKey(sessionID), domain.ErrSessionNotFound)
}

func (s *GameStore) FindSessionByPin(ctx context.Context, pinUpper string) (domain.GameSession, error) {
	id, err := s.client.Get(ctx, pinKey(pinUpper)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.GameSession{}, err
	}
	return s.GetSession(ctx, id)
}

func (s *GameStore) UpdateSession(ctx context.Context, sessionID string, fn func(*domain.GameSession) error) (domain.GameSession, error) {
	key := sessionKey(sessionID)
	var result domain.GameSession
	err := s.watch(ctx, func(tx *redis.Tx) error {
		current, err := readDoc[domain.GameSession](ctx, tx, key, domain.ErrSessionNotFound)
		if err != nil {
			return err
		}
		draft := current
		if err := fn(&draft); err != nil {
			result = current
			return err
		}
		draft.ID = current.ID
		draft.Version = current.Version + 1
		data, err := json.Marshal(draft)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			publish(ctx, pipe, domain.SessionTopic(sessionID))
			return nil
		})
		if err == nil {
			result = draft
		}
		return err
	}, key)
	return result, err
}

func (s *GameStore) DeleteSession(ctx context.Context, sessionID string) error {
	key, order := sessionKey(sessionID), joinOrderKey(sessionID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		session, err := readDoc[domain.GameSession](ctx, tx, key, domain.ErrSessionNotFound)
		if err != nil {
			return err
		}
		playerIDs, err := tx.LRange(ctx, order, 0, -1).Result()
		if err != nil {
			return err
		}
		answered, err := tx.SMembers(ctx, answeredKey(sessionID)).Result()
		if err != nil {
			return err
		}

		keys := []string{key, order, nicknamesKey(sessionID), answeredKey(sessionID), pinKey(session.GamePinUpper)}
		topics := []string{domain.SessionTopic(sessionID), domain.PlayersTopic(sessionID)}
		for _, id := range playerIDs {
			keys = append(keys, playerKey(sessionID, id))
			topics = append(topics, domain.PlayerTopic(sessionID, id))
		}
		for _, raw := range answered {
			if idx, err := strconv.Atoi(raw); err == nil {
				keys = append(keys, answersKey(sessionID, idx))
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, keys...)
			publish(ctx, pipe, topics...)
			return nil
		})
		return err
	}, key, order)
}

func (s *GameStore) CreatePlayer(ctx context.Context, sessionID string, player domain.Player) error {
	player.Version = 1
	data, err := json.Marshal(player)
	if err != nil {
		return err
	}
	sKey, pKey, nKey, oKey := sessionKey(sessionID), playerKey(sessionID, player.ID), nicknamesKey(sessionID), joinOrderKey(sessionID)

	return s.watch(ctx, func(tx *redis.Tx) error {
		if n, err := tx.Exists(ctx, sKey).Result(); err != nil {
			return err
		} else if n == 0 {
			return domain.ErrSessionNotFound
		}
		if n, err := tx.Exists(ctx, pKey).Result(); err != nil {
			return err
		} else if n > 0 {
			return domain.ErrAlreadyJoined
		}
		taken, err := tx.HExists(ctx, nKey, player.Nickname).Result()
		if err != nil {
			return err
		}
		if taken {
			return domain.ErrNicknameTaken
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, pKey, data, s.ttl)
			pipe.HSet(ctx, nKey, player.Nickname, player.ID)
			pipe.RPush(ctx, oKey, player.ID)
			s.expire(ctx, pipe, nKey, oKey)
			publish(ctx, pipe, domain.PlayersTopic(sessionID), domain.PlayerTopic(sessionID, player.ID))
			return nil
		})
		return err
	}, sKey, pKey, nKey)
}

func (s *GameStore) GetPlayer(ctx context.Context, sessionID, playerID string) (domain.Player, error) {
	player, err := readDoc[domain.Player](ctx, s.client, playerKey(sessionID, playerID), domain.ErrPlayerNotFound)
	if errors.Is(err, domain.ErrPlayerNotFound) {
		if err := s.requireSession(ctx, sessionID); err != nil {
			return domain.Player{}, err
		}
	}
	return player, err
}

func (s *GameStore) requireSession(ctx context.Context, sessionID string) error {
	n, err := s.client.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *GameStore) ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	if err := s.requireSession(ctx, sessionID); err != nil {
		return nil, err
	}
	ids, err := s.client.LRange(ctx, joinOrderKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	players := make([]domain.Player, 0, len(ids))
	if len(ids) == 0 {
		return players, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = playerKey(sessionID, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var p domain.Player
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		players = append(players, p)
	}
	return players, nil
}

func (s *GameStore) UpdatePlayer(ctx context.Context, sessionID, playerID string, fn func(*domain.Player) error) (domain.Player, error) {
	var result domain.Player
	err := s.mutatePlayer(ctx, sessionID, playerID, func(p *domain.Player) (bool, error) {
		current := *p
		if err := fn(p); err != nil {
			result = current
			return false, err
		}
		p.ID = current.ID
		return true, nil
	}, &result)
	return result, err
}

func (s *GameStore) ApplyScore(ctx context.Context, sessionID, playerID string, award domain.ScoreAward) (bool, error) {
	var applied bool
	err := s.mutatePlayer(ctx, sessionID, playerID, func(p *domain.Player) (bool, error) {
		if p.LastScoredQuestion >= award.QuestionIndex {
			applied = false
			return false, nil
		}
		p.Score += award.Points
		if award.Correct {
			p.QuestionsCorrect++
			p.TotalAnswerTimeMs += award.AnswerTimeMs
		}
		p.LastScoredQuestion = award.QuestionIndex
		applied = true
		return true, nil
	}, nil)
	return applied, err
}

// mutatePlayer applies fn to the player document under WATCH. fn reports
// whether the document should be written back.
func (s *GameStore) mutatePlayer(ctx context.Context, sessionID, playerID string, fn func(*domain.Player) (bool, error), out *domain.Player) error {
	key := playerKey(sessionID, playerID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		current, err := readDoc[domain.Player](ctx, tx, key, domain.ErrPlayerNotFound)
		if errors.Is(err, domain.ErrPlayerNotFound) {
			if sErr := s.requireSession(ctx, sessionID); sErr != nil {
				return sErr
			}
		}
		if err != nil {
			return err
		}

		draft := current
		write, err := fn(&draft)
		if err != nil || !write {
			return err
		}
		draft.Version = current.Version + 1
		data, err := json.Marshal(draft)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			publish(ctx, pipe, domain.PlayersTopic(sessionID), domain.PlayerTopic(sessionID, playerID))
			return nil
		})
		if err == nil && out != nil {
			*out = draft
		}
		return err
	}, key)
}

func (s *GameStore) PutAnswer(ctx context.Context, sessionID string, answer domain.Answer) error {
	if err := s.requireSession(ctx, sessionID); err != nil {
		return err
	}
	data, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	aKey, idxKey := answersKey(sessionID, answer.QuestionIndex), answeredKey(sessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, aKey, answer.PlayerID, data)
		pipe.SAdd(ctx, idxKey, answer.QuestionIndex)
		s.expire(ctx, pipe, aKey, idxKey)
		return nil
	})
	return err
}

func (s *GameStore) ListAnswers(ctx context.Context, sessionID string, questionIndex int) ([]domain.Answer, error) {
	if err := s.requireSession(ctx, sessionID); err != nil {
		return nil, err
	}
	values, err := s.client.HVals(ctx, answersKey(sessionID, questionIndex)).Result()
	if err != nil {
		return nil, err
	}
	answers := make([]domain.Answer, 0, len(values))
	for _, raw := range values {
		var a domain.Answer
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode answer: %w", err)
		}
		answers = append(answers, a)
	}
	sort.Slice(answers, func(i, j int) bool {
		return answers[i].SubmittedAt.Before(answers[j].SubmittedAt)
	})
	return answers, nil
}

// Watch subscribes to topic. The subscription is confirmed before Watch
// returns, so any write that commits afterwards produces a signal. Signals
// coalesce into a buffer of one.
func (s *GameStore) Watch(ctx context.Context, topic string) (<-chan struct{}, func(), error) {
	pubsub := s.client.Subscribe(ctx, feedChannel(topic))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		for range pubsub.Channel() {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = pubsub.Close()
			<-done
		})
	}
	return out, cancel, nil
}
