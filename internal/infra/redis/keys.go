package redis

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "trivia:"

func sessionKey(sessionID string) string {
	return keyPrefix + "session:" + sessionID
}

func pinKey(pinUpper string) string {
	return keyPrefix + "pin:" + pinUpper
}

func playerKey(sessionID, playerID string) string {
	return sessionKey(sessionID) + ":player:" + playerID
}

// joinOrderKey is a list of player IDs in the order they joined.
func joinOrderKey(sessionID string) string {
	return sessionKey(sessionID) + ":players"
}

// nicknamesKey maps nickname -> player ID.
func nicknamesKey(sessionID string) string {
	return sessionKey(sessionID) + ":nicknames"
}

// answersKey is a hash of player ID -> answer for one question.
func answersKey(sessionID string, questionIndex int) string {
	return sessionKey(sessionID) + ":answers:" + strconv.Itoa(questionIndex)
}

// answeredKey is the set of question indexes that have an answers hash.
func answeredKey(sessionID string) string {
	return sessionKey(sessionID) + ":answered"
}

func bankKey(bankID string) string {
	return keyPrefix + "bank:" + bankID
}

func feedChannel(topic string) string {
	return keyPrefix + "feed:" + topic
}

func publish(ctx context.Context, pipe redis.Pipeliner, topics ...string) {
	for _, topic := range topics {
		pipe.Publish(ctx, feedChannel(topic), "")
	}
}
