package model

const ConversationTableName = "conversations"

// Conversation 中继只关心会话的参与者集合
type Conversation struct {
	ID           string   `bson:"_id" json:"id"`
	Name         string   `bson:"name,omitempty" json:"name,omitempty"`
	IsGroup      bool     `bson:"is_group" json:"isGroup"`
	Participants []string `bson:"participants" json:"participants"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
