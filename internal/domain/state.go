package domain

import "fmt"

// GameState is the lifecycle field of a GameSession.
type GameState string

const (
	StateWaiting        GameState = "waiting"
	StateQuestionActive GameState = "questionactive"
	StateAnswerRevealed GameState = "answerrevealed"
	StateLeaderboard    GameState = "leaderboard"
	StateFinished       GameState = "finished"
)

// Valid reports whether s is one of the known states.
func (s GameState) Valid() bool {
	switch s {
	case StateWaiting, StateQuestionActive, StateAnswerRevealed, StateLeaderboard, StateFinished:
		return true
	}
	return false
}

// Action is an admin-driven operation on the session lifecycle.
type Action string

const (
	ActionShowQuestion    Action = "showQuestion"
	ActionRevealAnswer    Action = "revealAnswer"
	ActionShowLeaderboard Action = "showLeaderboard"
	ActionHideLeaderboard Action = "hideLeaderboard"
	ActionEndGame         Action = "endGame"
)

var transitions = map[GameState]map[Action]GameState{
	StateWaiting: {
		ActionShowQuestion: StateQuestionActive,
		ActionEndGame:      StateFinished,
	},
	StateQuestionActive: {
		ActionRevealAnswer: StateAnswerRevealed,
		ActionEndGame:      StateFinished,
	},
	StateAnswerRevealed: {
		ActionShowQuestion:    StateQuestionActive,
		ActionShowLeaderboard: StateLeaderboard,
		ActionEndGame:         StateFinished,
	},
	StateLeaderboard: {
		ActionShowQuestion:    StateQuestionActive,
		ActionShowLeaderboard: StateLeaderboard,
		ActionHideLeaderboard: StateAnswerRevealed,
		ActionEndGame:         StateFinished,
	},
	StateFinished: {},
}

// Transition returns the state reached by applying action in from.
// Any pair missing from the table yields a *TransitionError.
func Transition(from GameState, action Action) (GameState, error) {
	to, ok := transitions[from][action]
	if !ok {
		return from, &TransitionError{From: from, Action: action}
	}
	return to, nil
}

// TransitionError reports an action that is not allowed in the current state.
type TransitionError struct {
	From   GameState
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while game is %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
