package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type Room struct {
	Id          int
	Name        string
	ExternalId  string
	Description string
	SeqId       int
	OwnerId     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Memberships []Membership
}

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Membership struct {
	Id            int
	LastReadSeqId int
	Room          Room
	AccountId     int
	Username      string
	RoomId        int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Reactions is stored as a JSONB column mapping emoji to the set of
// user ids which toggled it on.
type Reactions map[string][]int

func (r Reactions) Value() (driver.Value, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r)
}

func (r *Reactions) Scan(src any) error {
	if src == nil {
		*r = Reactions{}
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported reactions column type %T", src)
	}

	return json.Unmarshal(data, r)
}

type Message struct {
	Id        int
	SeqId     int
	RoomId    int
	UserId    int
	Content   string
	Reactions Reactions
	// Version is bumped on every reaction write and guards the
	// read-modify-write toggle cycle.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DirectMessage struct {
	Id          int
	SenderId    int
	RecipientId int
	Content     string
	Read        bool
	CreatedAt   time.Time
}

type SignalEnvelope struct {
	Id           int64
	RoomId       string
	SenderId     int
	TargetUserId *int
	SignalType   string
	SignalData   []byte
	CreatedAt    time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	Name        string
	Description string
	OwnerId     int
	ExternalId  string
}
