package memory

import (
	"context"
	"sort"
	"sync"

	"trivia-live-service/internal/domain"
)

// GameStore is an in-memory implementation of app.GameStore and app.ChangeFeed.
// A single mutex serialises all writes, which gives every update the
// check-and-set semantics the document store provides in production.
type GameStore struct {
	*Feed

	mu       sync.RWMutex
	sessions map[string]*sessionDoc
	pins     map[string]string
}

type sessionDoc struct {
	session   domain.GameSession
	players   map[string]*domain.Player
	joinOrder []string
	answers   map[string]domain.Answer
}

func NewGameStore() *GameStore {
	return &GameStore{
		Feed:     NewFeed(),
		sessions: make(map[string]*sessionDoc),
		pins:     make(map[string]string),
	}
}

func (s *GameStore) CreateSession(_ context.Context, session domain.GameSession) error {
	s.mu.Lock()
	if _, ok := s.pins[session.GamePinUpper]; ok {
		s.mu.Unlock()
		return domain.ErrPinTaken
	}
	session.Version = 1
	s.sessions[session.ID] = &sessionDoc{
		session: session,
		players: make(map[string]*domain.Player),
		answers: make(map[string]domain.Answer),
	}
	s.pins[session.GamePinUpper] = session.ID
	s.mu.Unlock()

	s.Publish(domain.SessionTopic(session.ID))
	return nil
}

func (s *GameStore) GetSession(_ context.Context, sessionID string) (domain.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.sessions[sessionID]
	if !ok {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	return doc.session, nil
}

func (s *GameStore) FindSessionByPin(ctx context.Context, pinUpper string) (domain.GameSession, error) {
	s.mu.RLock()
	id, ok := s.pins[pinUpper]
	s.mu.RUnlock()
	if !ok {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	return s.GetSession(ctx, id)
}

func (s *GameStore) UpdateSession(_ context.Context, sessionID string, fn func(*domain.GameSession) error) (domain.GameSession, error) {
	s.mu.Lock()
	doc, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	draft := doc.session
	if err := fn(&draft); err != nil {
		s.mu.Unlock()
		return doc.session, err
	}
	draft.ID = doc.session.ID
	draft.Version = doc.session.Version + 1
	doc.session = draft
	s.mu.Unlock()

	s.Publish(domain.SessionTopic(sessionID))
	return draft, nil
}

func (s *GameStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	doc, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	delete(s.pins, doc.session.GamePinUpper)
	delete(s.sessions, sessionID)
	topics := []string{domain.SessionTopic(sessionID), domain.PlayersTopic(sessionID)}
	for _, id := range doc.joinOrder {
		topics = append(topics, domain.PlayerTopic(sessionID, id))
	}
	s.mu.Unlock()

	s.Publish(topics...)
	return nil
}

func (s *GameStore) CreatePlayer(_ context.Context, sessionID string, player domain.Player) error {
	s.mu.Lock()
	doc, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	if _, exists := doc.players[player.ID]; exists {
		s.mu.Unlock()
		return domain.ErrAlreadyJoined
	}
	for _, other := range doc.players {
		if other.Nickname == player.Nickname {
			s.mu.Unlock()
			return domain.ErrNicknameTaken
		}
	}
	player.Version = 1
	doc.players[player.ID] = &player
	doc.joinOrder = append(doc.joinOrder, player.ID)
	s.mu.Unlock()

	s.Publish(domain.PlayersTopic(sessionID), domain.PlayerTopic(sessionID, player.ID))
	return nil
}

func (s *GameStore) GetPlayer(_ context.Context, sessionID, playerID string) (domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.sessions[sessionID]
	if !ok {
		return domain.Player{}, domain.ErrSessionNotFound
	}
	player, ok := doc.players[playerID]
	if !ok {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	return *player, nil
}

func (s *GameStore) ListPlayers(_ context.Context, sessionID string) ([]domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	players := make([]domain.Player, 0, len(doc.joinOrder))
	for _, id := range doc.joinOrder {
		players = append(players, *doc.players[id])
	}
	return players, nil
}

func (s *GameStore) UpdatePlayer(_ context.Context, sessionID, playerID string, fn func(*domain.Player) error) (domain.Player, error) {
	s.mu.Lock()
	player, err := s.playerLocked(sessionID, playerID)
	if err != nil {
		s.mu.Unlock()
		return domain.Player{}, err
	}
	draft := *player
	if err := fn(&draft); err != nil {
		s.mu.Unlock()
		return *player, err
	}
	draft.ID = player.ID
	draft.Version = player.Version + 1
	*player = draft
	s.mu.Unlock()

	s.Publish(domain.PlayersTopic(sessionID), domain.PlayerTopic(sessionID, playerID))
	return draft, nil
}

func (s *GameStore) ApplyScore(_ context.Context, sessionID, playerID string, award domain.ScoreAward) (bool, error) {
	s.mu.Lock()
	player, err := s.playerLocked(sessionID, playerID)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	if player.LastScoredQuestion >= award.QuestionIndex {
		s.mu.Unlock()
		return false, nil
	}
	player.Score += award.Points
	if award.Correct {
		player.QuestionsCorrect++
		player.TotalAnswerTimeMs += award.AnswerTimeMs
	}
	player.LastScoredQuestion = award.QuestionIndex
	player.Version++
	s.mu.Unlock()

	s.Publish(domain.PlayersTopic(sessionID), domain.PlayerTopic(sessionID, playerID))
	return true, nil
}

func (s *GameStore) playerLocked(sessionID, playerID string) (*domain.Player, error) {
	doc, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	player, ok := doc.players[playerID]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	return player, nil
}

func (s *GameStore) PutAnswer(_ context.Context, sessionID string, answer domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	doc.answers[answer.Key()] = answer
	return nil
}

func (s *GameStore) ListAnswers(_ context.Context, sessionID string, questionIndex int) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	answers := make([]domain.Answer, 0)
	for _, a := range doc.answers {
		if a.QuestionIndex == questionIndex {
			answers = append(answers, a)
		}
	}
	sort.Slice(answers, func(i, j int) bool {
		return answers[i].SubmittedAt.Before(answers[j].SubmittedAt)
	})
	return answers, nil
}
