package database

import "time"

type WyaRepository interface {
	Ping() error
	CreateAccount(accountParams CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	GetRoomByExternalId(externalId string) (Room, error)
	GetRoomWithMembers(roomId int) (*Room, error)
	CreateRoom(params CreateRoomParams) (Room, error)
	DeleteRoom(id int) error
	CreateMembership(accountId, roomId int) (Membership, error)
	MembershipExists(accountId, roomId int) bool
	DeleteMembership(accountId, roomId int) error
	UpdateLastReadSeqId(accountId, roomId, seqId int) error
	IsBannedFromRoom(accountId, roomId int) (bool, error)
	IsBlocked(blockerId, blockedId int) (bool, error)
	CreateMessage(msg Message) error
	GetMessages(roomId, after, before, limit int) ([]Message, error)
	ToggleReaction(roomId, seqId, userId int, emoji string) (Reactions, error)
	CreateDirectMessage(msg DirectMessage) (DirectMessage, error)
	GetDirectThread(viewerId, peerId, limit int) ([]DirectMessage, error)
	MarkThreadRead(recipientId, senderId int) error
	CreateSignal(sig SignalEnvelope) (SignalEnvelope, error)
	GetSignalsSince(roomId string, requesterId int, sinceId int64, window time.Duration) ([]SignalEnvelope, int64, error)
}
