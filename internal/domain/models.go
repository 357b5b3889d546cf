package domain

import (
	"fmt"
	"strings"
	"time"
)

// GameSession is the shared document every client of a live game observes.
type GameSession struct {
	ID                   string    `json:"id"`
	AdminID              string    `json:"adminId"`
	QuestionBankID       string    `json:"questionBankId"`
	Name                 string    `json:"name"`
	GamePin              string    `json:"gamePin"`
	GamePinUpper         string    `json:"gamePinUpper"`
	State                GameState `json:"state"`
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	QuestionStartTime    time.Time `json:"questionStartTime"`
	QuestionDuration     int       `json:"questionDuration"`
	BroadcastMessage     *Message  `json:"broadcastMessage,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
	// Version increases by one on every write to the document.
	Version int64 `json:"version"`
}

// QuestionDeadline is the instant the active question stops accepting answers.
func (s GameSession) QuestionDeadline() time.Time {
	return s.QuestionStartTime.Add(time.Duration(s.QuestionDuration) * time.Second)
}

// Player is one joined user inside a session, keyed by the user's identity.
type Player struct {
	ID                 string    `json:"id"`
	Nickname           string    `json:"nickname"`
	Score              int       `json:"score"`
	QuestionsCorrect   int       `json:"questionsCorrect"`
	TotalAnswerTimeMs  int64     `json:"totalAnswerTimeMs"`
	LastScoredQuestion int       `json:"lastScoredQuestion"`
	IsAnonymous        bool      `json:"isAnonymous"`
	IsKicked           bool      `json:"isKicked"`
	HasExited          bool      `json:"hasExited"`
	DirectMessage      *Message  `json:"directMessage,omitempty"`
	JoinedAt           time.Time `json:"joinedAt"`
	Version            int64     `json:"version"`
}

// Active reports whether the player may still answer and be scored.
func (p Player) Active() bool {
	return !p.IsKicked && !p.HasExited
}

// NoQuestionScored is the LastScoredQuestion value of a player that has never been scored.
const NoQuestionScored = -1

// Answer is a single submission for one question.
type Answer struct {
	PlayerID      string    `json:"playerId"`
	QuestionIndex int       `json:"questionIndex"`
	Answer        string    `json:"answer"`
	Correct       bool      `json:"correct"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// AnswerKey is the deterministic document key of an answer.
func AnswerKey(playerID string, questionIndex int) string {
	return fmt.Sprintf("%s_q%d", playerID, questionIndex)
}

// Key returns the deterministic document key of the answer.
func (a Answer) Key() string {
	return AnswerKey(a.PlayerID, a.QuestionIndex)
}

// ScoreAward is the increment applied to a player when a question is revealed.
type ScoreAward struct {
	QuestionIndex int   `json:"questionIndex"`
	Points        int   `json:"points"`
	Correct       bool  `json:"correct"`
	AnswerTimeMs  int64 `json:"answerTimeMs"`
}

// Profile holds the cumulative, session-independent stats of a registered user.
type Profile struct {
	UserID       string                  `json:"userId"`
	Stats        ProfileStats            `json:"stats"`
	MatchHistory map[string]MatchHistory `json:"matchHistory"`
}

// ProfileStats are only ever incremented.
type ProfileStats struct {
	GamesPlayed           int   `json:"gamesPlayed"`
	TotalQuestionsCorrect int   `json:"totalQuestionsCorrect"`
	TotalAnswerTimeMs     int64 `json:"totalAnswerTimeMs"`
}

// MatchHistory is the immutable per-game snapshot stored on a profile.
type MatchHistory struct {
	GameID            string    `json:"gameId"`
	GameName          string    `json:"gameName"`
	FinalRank         int       `json:"finalRank"`
	FinalScore        int       `json:"finalScore"`
	QuestionsCorrect  int       `json:"questionsCorrect"`
	AvgAnswerTimeMs   int64     `json:"avgAnswerTime"`
	TotalAnswerTimeMs int64     `json:"totalAnswerTimeMs"`
	GameDate          time.Time `json:"gameDate"`
}

// Question is a single entry of a question bank.
type Question struct {
	Question      string    `json:"question"`
	Answers       [4]string `json:"answers"`
	CorrectLetter string    `json:"correctLetter"`
	Duration      int       `json:"duration"`
}

// IsCorrect compares a selected letter with the stored correct letter.
func (q Question) IsCorrect(letter string) bool {
	return q.CorrectLetter != "" && strings.EqualFold(strings.TrimSpace(letter), q.CorrectLetter)
}

// QuestionBank is an ordered, externally populated list of questions.
type QuestionBank struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Questions []Question `json:"questions"`
}

// Question returns the question at index, if any.
func (b QuestionBank) Question(index int) (Question, bool) {
	if index < 0 || index >= len(b.Questions) {
		return Question{}, false
	}
	return b.Questions[index], true
}

// AnswerLetters are the accepted answer selections.
var AnswerLetters = []string{"A", "B", "C", "D"}

// ValidAnswerLetter reports whether letter names one of the four options.
func ValidAnswerLetter(letter string) bool {
	for _, l := range AnswerLetters {
		if l == letter {
			return true
		}
	}
	return false
}

// LeaderboardEntry is a snapshot-friendly view of a player.
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname"`
	Score    int    `json:"score"`
}
