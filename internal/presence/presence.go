package presence

import (
	"context"

	"github.com/wya-app/realtime/internal/types"
)

// Tracker records each user's online status, activity label and current
// room. All writes are idempotent under retry.
type Tracker interface {
	SetPresence(ctx context.Context, userId int, status types.PresenceStatus, activity, roomId string) error
	// SetStatus updates only the status field. Connection-level writes
	// use it so they never clobber a room claim held by another session.
	SetStatus(ctx context.Context, userId int, status types.PresenceStatus) error
	// ClearRoom nulls the user's current room only if it still equals
	// roomId, so a stale clear racing a newer join is a no-op.
	ClearRoom(ctx context.Context, userId int, roomId string) error
	GetPresence(ctx context.Context, userId int) (types.PresenceRecord, error)
	Heartbeat(ctx context.Context, userId int) error
}
