package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trivia-live-service/internal/domain"
	"trivia-live-service/internal/infra/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	svc      *GameService
	store    *memory.GameStore
	profiles *memory.ProfileRepository
	clock    *fakeClock
	session  domain.GameSession
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:    memory.NewGameStore(),
		profiles: memory.NewProfileRepository(),
		clock:    newFakeClock(),
	}
	banks := memory.NewStaticBankLoader(map[string]domain.QuestionBank{"bank-1": sampleBank()})
	opts = append([]Option{WithClock(h.clock.Now)}, opts...)
	h.svc = NewGameService(h.store, banks, h.profiles, opts...)

	session, err := h.svc.CreateSession(context.Background(), "admin-1", "bank-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	h.session = session
	return h
}

func sampleBank() domain.QuestionBank {
	return domain.QuestionBank{
		ID:   "bank-1",
		Name: "Friday Trivia",
		Questions: []domain.Question{
			{Question: "2 + 2?", Answers: [4]string{"3", "4", "5", "6"}, CorrectLetter: "B", Duration: 10},
			{Question: "Capital of Italy?", Answers: [4]string{"Milan", "Turin", "Rome", "Naples"}, CorrectLetter: "C", Duration: 20},
		},
	}
}

func (h *harness) join(t *testing.T, userID, nickname string, anonymous bool) {
	t.Helper()
	if _, err := h.svc.JoinGame(context.Background(), h.session.ID, userID, nickname, anonymous); err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
}

func (h *harness) answer(t *testing.T, playerID string, index int, letter string) {
	t.Helper()
	if _, err := h.svc.SubmitAnswer(context.Background(), h.session.ID, playerID, index, letter, false); err != nil {
		t.Fatalf("answer %s: %v", playerID, err)
	}
}

func (h *harness) player(t *testing.T, playerID string) domain.Player {
	t.Helper()
	p, err := h.svc.GetPlayer(context.Background(), h.session.ID, playerID)
	if err != nil {
		t.Fatalf("get player %s: %v", playerID, err)
	}
	return p
}

func TestGameFlowEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.session.ID

	h.join(t, "u1", "Alice", false)
	h.join(t, "u2", "Bob", false)
	h.join(t, "guest-1", "Guest", true)

	if _, err := h.svc.ShowQuestion(ctx, id); err != nil {
		t.Fatalf("show q0: %v", err)
	}
	h.clock.Advance(2 * time.Second)
	h.answer(t, "u1", 0, "b")
	h.clock.Advance(3 * time.Second)
	h.answer(t, "u2", 0, "B")
	h.answer(t, "guest-1", 0, "A")

	result, err := h.svc.RevealAnswer(ctx, id)
	if err != nil {
		t.Fatalf("reveal q0: %v", err)
	}
	if result.Session.State != domain.StateAnswerRevealed {
		t.Fatalf("expected answerrevealed, got %s", result.Session.State)
	}
	if result.Awards["u1"] != 140 || result.Awards["u2"] != 100 || len(result.Awards) != 2 {
		t.Fatalf("unexpected awards %v", result.Awards)
	}

	if _, err := h.svc.ShowLeaderboard(ctx, id); err != nil {
		t.Fatalf("show leaderboard: %v", err)
	}
	board, err := h.svc.Leaderboard(ctx, id, 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if board[0].PlayerID != "u1" || board[1].PlayerID != "u2" || board[2].PlayerID != "guest-1" {
		t.Fatalf("unexpected leaderboard %+v", board)
	}

	session, err := h.svc.ShowQuestion(ctx, id)
	if err != nil {
		t.Fatalf("show q1: %v", err)
	}
	if session.CurrentQuestionIndex != 1 || session.QuestionDuration != 20 {
		t.Fatalf("expected question 1 with 20s, got %+v", session)
	}
	h.clock.Advance(time.Second)
	h.answer(t, "u2", 1, "C")
	h.answer(t, "u1", 1, "A")
	if _, err := h.svc.RevealAnswer(ctx, id); err != nil {
		t.Fatalf("reveal q1: %v", err)
	}

	end, err := h.svc.EndGame(ctx, id, "")
	if err != nil {
		t.Fatalf("end game: %v", err)
	}
	if end.Session.State != domain.StateFinished {
		t.Fatalf("expected finished, got %s", end.Session.State)
	}
	if end.Migration != (MigrationReport{Migrated: 2, Skipped: 1}) {
		t.Fatalf("unexpected migration report %+v", end.Migration)
	}

	bob, err := h.svc.GetProfile(ctx, "u2")
	if err != nil {
		t.Fatalf("profile u2: %v", err)
	}
	entry, ok := bob.MatchHistory[id]
	if !ok {
		t.Fatalf("expected match history for %s, got %+v", id, bob.MatchHistory)
	}
	if entry.FinalRank != 1 || entry.FinalScore != 200 || entry.QuestionsCorrect != 2 ||
		entry.TotalAnswerTimeMs != 6000 || entry.AvgAnswerTimeMs != 3000 || entry.GameName != "Friday Trivia" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	alice, _ := h.svc.GetProfile(ctx, "u1")
	if alice.MatchHistory[id].FinalRank != 2 || alice.Stats.TotalAnswerTimeMs != 2000 {
		t.Fatalf("unexpected alice profile %+v", alice)
	}
	if guest, _ := h.svc.GetProfile(ctx, "guest-1"); len(guest.MatchHistory) != 0 {
		t.Fatalf("anonymous player must not get history, got %+v", guest.MatchHistory)
	}

	if _, err := h.svc.ShowQuestion(ctx, id); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("finished game must not accept commands, got %v", err)
	}
}

func TestShowQuestionProgression(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.session.ID

	if h.session.State != domain.StateWaiting || h.session.CurrentQuestionIndex != 0 {
		t.Fatalf("unexpected initial session %+v", h.session)
	}

	first, err := h.svc.ShowQuestion(ctx, id)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if first.State != domain.StateQuestionActive || first.CurrentQuestionIndex != 0 {
		t.Fatalf("expected question 0 active, got %+v", first)
	}
	again, err := h.svc.ShowQuestion(ctx, id)
	if err != nil {
		t.Fatalf("repeat show: %v", err)
	}
	if again.Version != first.Version {
		t.Fatalf("showing an active question must not write, versions %d -> %d", first.Version, again.Version)
	}

	if _, err := h.svc.ShowLeaderboard(ctx, id); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("leaderboard during a question should be rejected, got %v", err)
	}

	if _, err := h.svc.RevealAnswer(ctx, id); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	second, err := h.svc.ShowQuestion(ctx, id)
	if err != nil {
		t.Fatalf("show second: %v", err)
	}
	if second.CurrentQuestionIndex != 1 {
		t.Fatalf("expected index 1, got %d", second.CurrentQuestionIndex)
	}
	if _, err := h.svc.RevealAnswer(ctx, id); err != nil {
		t.Fatalf("reveal second: %v", err)
	}

	if _, err := h.svc.ShowQuestion(ctx, id); !errors.Is(err, domain.ErrNoMoreQuestions) {
		t.Fatalf("expected no more questions, got %v", err)
	}
	current, _ := h.svc.GetSession(ctx, id)
	if current.State != domain.StateAnswerRevealed || current.CurrentQuestionIndex != 1 {
		t.Fatalf("exhausted bank must leave state alone, got %+v", current)
	}

	if _, err := h.svc.ShowLeaderboard(ctx, id); err != nil {
		t.Fatalf("show leaderboard: %v", err)
	}
	hidden, err := h.svc.HideLeaderboard(ctx, id)
	if err != nil {
		t.Fatalf("hide leaderboard: %v", err)
	}
	if hidden.State != domain.StateAnswerRevealed {
		t.Fatalf("expected answerrevealed after hide, got %s", hidden.State)
	}
}

func TestResubmitReplacesEarlierAnswer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.join(t, "u1", "Alice", false)
	h.join(t, "u2", "Bob", false)

	if _, err := h.svc.ShowQuestion(ctx, h.session.ID); err != nil {
		t.Fatalf("show: %v", err)
	}
	h.answer(t, "u1", 0, "A")
	h.answer(t, "u1", 0, "B")
	h.answer(t, "u2", 0, "B")
	h.answer(t, "u2", 0, "D")

	result, err := h.svc.RevealAnswer(ctx, h.session.ID)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if result.Awards["u1"] != 100 || len(result.Awards) != 1 {
		t.Fatalf("only the final answer counts, awards %v", result.Awards)
	}
	if p := h.player(t, "u2"); p.Score != 0 || p.QuestionsCorrect != 0 {
		t.Fatalf("overwritten correct answer must not score, got %+v", p)
	}
}

func TestSubmitAnswerGuards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.session.ID
	h.join(t, "u1", "Alice", false)

	if _, err := h.svc.SubmitAnswer(ctx, id, "u1", 0, "A", false); !errors.Is(err, domain.ErrAnswerClosed) {
		t.Fatalf("answers before the first question should be closed, got %v", err)
	}
	if _, err := h.svc.ShowQuestion(ctx, id); err != nil {
		t.Fatalf("show: %v", err)
	}
	if _, err := h.svc.SubmitAnswer(ctx, id, "u1", 0, "E", false); !errors.Is(err, domain.ErrInvalidAnswer) {
		t.Fatalf("expected invalid answer, got %v", err)
	}
	if _, err := h.svc.SubmitAnswer(ctx, id, "u1", 1, "A", false); !errors.Is(err, domain.ErrAnswerClosed) {
		t.Fatalf("answer for another question should be rejected, got %v", err)
	}
	if _, err := h.svc.SubmitAnswer(ctx, id, "nobody", 0, "A", false); !errors.Is(err, domain.ErrPlayerNotFound) {
		t.Fatalf("expected player not found, got %v", err)
	}
	if _, err := h.svc.RevealAnswer(ctx, id); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if _, err := h.svc.SubmitAnswer(ctx, id, "u1", 0, "B", true); !errors.Is(err, domain.ErrAnswerClosed) {
		t.Fatalf("late answer should be rejected, got %v", err)
	}
	if p := h.player(t, "u1"); p.Score != 0 {
		t.Fatalf("late answer must not score, got %d", p.Score)
	}
}

func TestCorrectnessComesFromTheBank(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.join(t, "u1", "Alice", false)

	if _, err := h.svc.ShowQuestion(ctx, h.session.ID); err != nil {
		t.Fatalf("show: %v", err)
	}
	if _, err := h.svc.SubmitAnswer(ctx, h.session.ID, "u1", 0, "D", true); err != nil {
		t.Fatalf("submit: %v", err)
	}
	result, err := h.svc.RevealAnswer(ctx, h.session.ID)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if len(result.Awards) != 0 {
		t.Fatalf("a wrong letter flagged correct by the client must not score, got %v", result.Awards)
	}
}

func TestRevealNeverDoubleScores(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.join(t, "u1", "Alice", false)

	if _, err := h.svc.ShowQuestion(ctx, h.session.ID); err != nil {
		t.Fatalf("show: %v", err)
	}
	h.answer(t, "u1", 0, "B")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.RevealAnswer(ctx, h.session.ID)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("unexpected reveal error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one reveal to win, got %d", successes)
	}
	if p := h.player(t, "u1"); p.Score != 100 || p.QuestionsCorrect != 1 {
		t.Fatalf("expected a single award, got %+v", p)
	}
	if _, err := h.svc.RevealAnswer(ctx, h.session.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("reveal after reveal should be rejected, got %v", err)
	}
}

func TestKickedPlayerIsNotScored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.join(t, "u1", "Alice", false)
	h.join(t, "u2", "Bob", false)

	if _, err := h.svc.ShowQuestion(ctx, h.session.ID); err != nil {
		t.Fatalf("show: %v", err)
	}
	h.answer(t, "u1", 0, "B")
	h.answer(t, "u2", 0, "B")
	if _, err := h.svc.KickPlayer(ctx, h.session.ID, "u2"); err != nil {
		t.Fatalf("kick: %v", err)
	}
	result, err := h.svc.RevealAnswer(ctx, h.session.ID)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if _, scored := result.Awards["u2"]; scored {
		t.Fatalf("kicked player must not be scored, awards %v", result.Awards)
	}

	board, _ := h.svc.Leaderboard(ctx, h.session.ID, 0)
	if len(board) != 1 || board[0].PlayerID != "u1" {
		t.Fatalf("kicked player must not appear on the leaderboard, got %+v", board)
	}
}

func TestDeleteSessionRequiresOwner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	if err := h.svc.DeleteSession(ctx, h.session.ID, "someone-else"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := h.svc.DeleteSession(ctx, h.session.ID, "admin-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.svc.GetSession(ctx, h.session.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}
}

func TestBroadcastSetsSessionMessage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	session, err := h.svc.Broadcast(ctx, h.session.ID, "five minutes left")
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if session.BroadcastMessage == nil || session.BroadcastMessage.Text != "five minutes left" ||
		session.BroadcastMessage.Kind != domain.MessageBroadcast {
		t.Fatalf("unexpected message %+v", session.BroadcastMessage)
	}
}
