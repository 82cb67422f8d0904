package types

import (
	"encoding/json"
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	IsPresent    bool      `json:"is_present,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Room struct {
	Id          int       `json:"id"`
	Name        string    `json:"name"`
	ExternalId  string    `json:"external_id"`
	Description string    `json:"description"`
	SeqId       int       `json:"seq_id"`
	OwnerId     int       `json:"owner_id,omitempty"`
	Members     []User    `json:"members,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Reactions maps an emoji to the set of user ids which toggled it on.
// An emoji key with an empty user set is never kept.
type Reactions map[string][]int

type Message struct {
	SeqId     int       `json:"seq_id"`
	RoomId    int       `json:"room_id"`
	UserId    int       `json:"user_id"`
	Content   string    `json:"content"`
	Reactions Reactions `json:"reactions,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type DirectMessage struct {
	Id          int       `json:"id"`
	SenderId    int       `json:"sender_id"`
	RecipientId int       `json:"recipient_id"`
	Content     string    `json:"content"`
	Read        bool      `json:"read"`
	Timestamp   time.Time `json:"timestamp"`
}

type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"
)

func (st SignalType) Valid() bool {
	switch st {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	}
	return false
}

// SignalEnvelope carries one opaque WebRTC negotiation payload. A nil
// TargetUserId means the envelope is addressed to the whole room.
type SignalEnvelope struct {
	Id           int64           `json:"id"`
	RoomId       string          `json:"room_id"`
	SenderId     int             `json:"sender_id"`
	TargetUserId *int            `json:"target_user_id,omitempty"`
	SignalType   SignalType      `json:"signal_type"`
	SignalData   json.RawMessage `json:"signal_data"`
	CreatedAt    time.Time       `json:"created_at"`
}

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

type PresenceRecord struct {
	UserId   int            `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	Activity string         `json:"activity,omitempty"`
	RoomId   string         `json:"room_id,omitempty"`
	LastSeen time.Time      `json:"last_seen"`
}
