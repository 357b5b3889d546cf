package memory

import (
	"context"
	"sync"

	"trivia-live-service/internal/domain"
)

// ProfileRepository keeps profiles in process memory.
type ProfileRepository struct {
	mu       sync.RWMutex
	profiles map[string]*domain.Profile
}

func NewProfileRepository() *ProfileRepository {
	return &ProfileRepository{profiles: make(map[string]*domain.Profile)}
}

func (r *ProfileRepository) RecordMatch(_ context.Context, userID string, entry domain.MatchHistory) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile := r.profileLocked(userID)
	if _, exists := profile.MatchHistory[entry.GameID]; exists {
		return false, nil
	}
	profile.MatchHistory[entry.GameID] = entry
	profile.Stats.GamesPlayed++
	profile.Stats.TotalQuestionsCorrect += entry.QuestionsCorrect
	profile.Stats.TotalAnswerTimeMs += entry.TotalAnswerTimeMs
	return true, nil
}

func (r *ProfileRepository) GetProfile(_ context.Context, userID string) (domain.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile := r.profileLocked(userID)
	history := make(map[string]domain.MatchHistory, len(profile.MatchHistory))
	for k, v := range profile.MatchHistory {
		history[k] = v
	}
	return domain.Profile{UserID: userID, Stats: profile.Stats, MatchHistory: history}, nil
}

// profileLocked creates the profile lazily on first access.
func (r *ProfileRepository) profileLocked(userID string) *domain.Profile {
	profile, ok := r.profiles[userID]
	if !ok {
		profile = &domain.Profile{UserID: userID, MatchHistory: make(map[string]domain.MatchHistory)}
		r.profiles[userID] = profile
	}
	return profile
}
