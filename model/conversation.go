package models

type Conversation struct {
	ID             string               `json:"id"`
	ParticipantIDs []string             `json:"participantIds"`
	Participants   []ParticipantSummary `json:"participants"`
	LastMessage    string               `json:"lastMessage"`
	LastSenderID   string               `json:"lastSenderId"`
	Timestamp      int64                `json:"timestamp"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Other returns the summary of the participant who is not userID.
func (c *Conversation) Other(userID string) (ParticipantSummary, bool) {
	for _, p := range c.Participants {
		if p.ID != userID {
			return p, true
		}
	}
	return ParticipantSummary{}, false
}

type Message struct {
	ID        string `json:"id"`
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}
