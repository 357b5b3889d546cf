package domain

import "errors"

var (
	// ErrSessionNotFound is returned when the game session document does not exist.
	ErrSessionNotFound = errors.New("game session not found")
	// ErrPlayerNotFound is returned when a user acts before joining.
	ErrPlayerNotFound = errors.New("player not found in game")
	// ErrQuestionBankNotFound indicates the question bank could not be loaded.
	ErrQuestionBankNotFound = errors.New("question bank not found")
)

var (
	ErrNicknameTaken   = errors.New("nickname is already taken in this game")
	ErrAlreadyJoined   = errors.New("already joined this game")
	ErrPlayerRemoved   = errors.New("player has left or was removed from this game")
	ErrInvalidNickname = errors.New("nickname must not be empty")
	ErrInvalidAnswer   = errors.New("answer must be one of A, B, C or D")
	ErrAnswerClosed    = errors.New("answers are closed for this question")
	ErrNotAnonymous    = errors.New("player is not anonymous")
	ErrForbidden       = errors.New("not allowed to manage this game")
	ErrPinTaken        = errors.New("game pin already in use")
	ErrInvalidUserID   = errors.New("user id must not be empty")
)

var (
	// ErrInvalidTransition is wrapped by every *TransitionError.
	ErrInvalidTransition = errors.New("invalid game state transition")
	// ErrNoMoreQuestions is returned when showing a question past the end of the bank.
	ErrNoMoreQuestions = errors.New("no more questions in this game")
)

var userErrors = []error{
	ErrNicknameTaken, ErrAlreadyJoined, ErrPlayerRemoved, ErrInvalidNickname,
	ErrInvalidAnswer, ErrAnswerClosed, ErrNotAnonymous, ErrForbidden,
	ErrInvalidTransition, ErrNoMoreQuestions, ErrInvalidUserID,
}

// IsUserError reports whether err is a user-actionable rejection rather than an
// infrastructure failure.
func IsUserError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err means a referenced document does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrQuestionBankNotFound)
}
