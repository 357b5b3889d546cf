package domain

// Change-feed topics. Writers publish to the topic of every document they
// touch; the players topic fires on any player write in the session.

func SessionTopic(sessionID string) string {
	return "session:" + sessionID
}

func PlayersTopic(sessionID string) string {
	return "session:" + sessionID + ":players"
}

func PlayerTopic(sessionID, playerID string) string {
	return "session:" + sessionID + ":player:" + playerID
}
