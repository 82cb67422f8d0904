package presence

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/wya-app/realtime/internal/types"
)

type MockTracker struct {
	mock.Mock
}

func (m *MockTracker) SetPresence(ctx context.Context, userId int, status types.PresenceStatus, activity, roomId string) error {
	args := m.Called(ctx, userId, status, activity, roomId)
	return args.Error(0)
}
func (m *MockTracker) SetStatus(ctx context.Context, userId int, status types.PresenceStatus) error {
	args := m.Called(ctx, userId, status)
	return args.Error(0)
}
func (m *MockTracker) ClearRoom(ctx context.Context, userId int, roomId string) error {
	args := m.Called(ctx, userId, roomId)
	return args.Error(0)
}
func (m *MockTracker) GetPresence(ctx context.Context, userId int) (types.PresenceRecord, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(types.PresenceRecord), args.Error(1)
}
func (m *MockTracker) Heartbeat(ctx context.Context, userId int) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}
