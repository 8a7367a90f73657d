package gateway

import (
	"encoding/json"
	"time"

	"github.com/turflads/crazy-bids-sub000/go/internal/store"
)

// Message is the wire envelope every WebSocket frame carries, in both
// directions.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// MessageType identifies what the Data payload holds.
type MessageType string

const (
	MessageTypeAuctionUpdate MessageType = "auction_update"
	MessageTypeTeamUpdate    MessageType = "team_update"
	MessageTypeChatMessage   MessageType = "chat_message"
	MessageTypeChatReaction  MessageType = "chat_reaction"
)

// DocumentKind maps a message type onto the document it replaces. Chat
// messages carry no document; they are fan-out only.
func DocumentKind(t MessageType) (store.Kind, bool) {
	switch t {
	case MessageTypeAuctionUpdate:
		return store.KindAuction, true
	case MessageTypeTeamUpdate:
		return store.KindTeams, true
	default:
		return "", false
	}
}

// MessageTypeForKind is the inverse of DocumentKind, used when the server
// originates a message itself (snapshot seeding, REST writes).
func MessageTypeForKind(kind store.Kind) MessageType {
	if kind == store.KindTeams {
		return MessageTypeTeamUpdate
	}
	return MessageTypeAuctionUpdate
}

func isKnownType(t MessageType) bool {
	switch t {
	case MessageTypeAuctionUpdate, MessageTypeTeamUpdate, MessageTypeChatMessage, MessageTypeChatReaction:
		return true
	default:
		return false
	}
}
