package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockWyaRepository struct {
	mock.Mock
}

func (m *MockWyaRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockWyaRepository) CreateAccount(accountParams CreateAccountParams) (User, error) {
	args := m.Called(accountParams)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockWyaRepository) GetAccountById(userId int) (User, error) {
	args := m.Called(userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockWyaRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockWyaRepository) GetRoomByExternalId(externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockWyaRepository) GetRoomWithMembers(roomId int) (*Room, error) {
	args := m.Called(roomId)
	if room, ok := args.Get(0).(*Room); ok {
		return room, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockWyaRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockWyaRepository) DeleteRoom(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockWyaRepository) CreateMembership(accountId, roomId int) (Membership, error) {
	args := m.Called(accountId, roomId)
	return args.Get(0).(Membership), args.Error(1)
}
func (m *MockWyaRepository) MembershipExists(accountId, roomId int) bool {
	args := m.Called(accountId, roomId)
	return args.Bool(0)
}
func (m *MockWyaRepository) DeleteMembership(accountId, roomId int) error {
	args := m.Called(accountId, roomId)
	return args.Error(0)
}
func (m *MockWyaRepository) UpdateLastReadSeqId(accountId, roomId, seqId int) error {
	args := m.Called(accountId, roomId, seqId)
	return args.Error(0)
}
func (m *MockWyaRepository) IsBannedFromRoom(accountId, roomId int) (bool, error) {
	args := m.Called(accountId, roomId)
	return args.Bool(0), args.Error(1)
}
func (m *MockWyaRepository) IsBlocked(blockerId, blockedId int) (bool, error) {
	args := m.Called(blockerId, blockedId)
	return args.Bool(0), args.Error(1)
}
func (m *MockWyaRepository) CreateMessage(msg Message) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockWyaRepository) GetMessages(roomId, after, before, limit int) ([]Message, error) {
	args := m.Called(roomId, after, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockWyaRepository) ToggleReaction(roomId, seqId, userId int, emoji string) (Reactions, error) {
	args := m.Called(roomId, seqId, userId, emoji)
	if reactions, ok := args.Get(0).(Reactions); ok {
		return reactions, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockWyaRepository) CreateDirectMessage(msg DirectMessage) (DirectMessage, error) {
	args := m.Called(msg)
	return args.Get(0).(DirectMessage), args.Error(1)
}
func (m *MockWyaRepository) GetDirectThread(viewerId, peerId, limit int) ([]DirectMessage, error) {
	args := m.Called(viewerId, peerId, limit)
	return args.Get(0).([]DirectMessage), args.Error(1)
}
func (m *MockWyaRepository) MarkThreadRead(recipientId, senderId int) error {
	args := m.Called(recipientId, senderId)
	return args.Error(0)
}
func (m *MockWyaRepository) CreateSignal(sig SignalEnvelope) (SignalEnvelope, error) {
	args := m.Called(sig)
	return args.Get(0).(SignalEnvelope), args.Error(1)
}
func (m *MockWyaRepository) GetSignalsSince(roomId string, requesterId int, sinceId int64, window time.Duration) ([]SignalEnvelope, int64, error) {
	args := m.Called(roomId, requesterId, sinceId, window)
	if signals, ok := args.Get(0).([]SignalEnvelope); ok {
		return signals, args.Get(1).(int64), args.Error(2)
	}
	return nil, args.Get(1).(int64), args.Error(2)
}
