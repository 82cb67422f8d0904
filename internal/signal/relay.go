package signal

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/wya-app/realtime/internal/database"
	"github.com/wya-app/realtime/internal/stats"
	"github.com/wya-app/realtime/internal/types"
)

// ErrInvalidSignal is returned when a publish request is missing a
// required field or carries an unknown signal type.
var ErrInvalidSignal = errors.New("invalid signal")

const (
	// DefaultPollWindow bounds how far back a poll without a watermark
	// reaches.
	DefaultPollWindow = 30 * time.Second

	subscriberBuffer = 64
)

// Subscription is one live per-room consumer. Envelopes arrive on C
// already filtered: never the subscriber's own, never one targeted at
// somebody else.
type Subscription struct {
	userId int
	roomId string
	C      chan types.SignalEnvelope

	relay  *Relay
	cancel sync.Once
}

func (s *Subscription) Cancel() {
	s.cancel.Do(func() {
		s.relay.unsubscribe(s)
	})
}

// Relay exchanges opaque WebRTC negotiation payloads between peers. It
// never interprets payload contents. Live subscribers get pushed copies;
// the table-backed poll path serves the HTTP fallback.
type Relay struct {
	log   *log.Logger
	db    database.WyaRepository
	stats stats.StatsProvider

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func NewRelay(logger *log.Logger, db database.WyaRepository, sp stats.StatsProvider) *Relay {
	sp.RegisterMetric(stats.SignalsDelivered)

	return &Relay{
		log:   logger,
		db:    db,
		stats: sp,
		subs:  make(map[string]map[*Subscription]struct{}),
	}
}

// Publish validates and stores an envelope, then pushes it to the
// room's live subscribers.
func (r *Relay) Publish(senderId int, roomId string, targetUserId *int, signalType types.SignalType, payload json.RawMessage) (types.SignalEnvelope, error) {
	if senderId <= 0 || roomId == "" || !signalType.Valid() || len(payload) == 0 {
		return types.SignalEnvelope{}, ErrInvalidSignal
	}

	stored, err := r.db.CreateSignal(database.SignalEnvelope{
		RoomId:       roomId,
		SenderId:     senderId,
		TargetUserId: targetUserId,
		SignalType:   string(signalType),
		SignalData:   payload,
	})
	if err != nil {
		return types.SignalEnvelope{}, err
	}

	env := envelopeFromRecord(stored)
	r.fanOut(env)
	r.stats.Incr(stats.SignalsDelivered)

	return env, nil
}

// Poll returns the envelopes in roomId newer than the since watermark,
// excluding the requester's own envelopes and envelopes targeted at a
// different user, plus the watermark for the next poll. A zero since
// falls back to the rolling time window; with a watermark the id bound
// alone decides, so a slow poller never skips envelopes.
func (r *Relay) Poll(requesterId int, roomId string, since int64) ([]types.SignalEnvelope, int64, error) {
	if requesterId <= 0 || roomId == "" {
		return nil, 0, ErrInvalidSignal
	}

	window := time.Duration(0)
	if since == 0 {
		window = DefaultPollWindow
	}

	records, watermark, err := r.db.GetSignalsSince(roomId, requesterId, since, window)
	if err != nil {
		return nil, 0, err
	}

	envelopes := make([]types.SignalEnvelope, len(records))
	for i, rec := range records {
		envelopes[i] = envelopeFromRecord(rec)
	}

	return envelopes, watermark, nil
}

// Subscribe registers a live consumer for roomId's envelopes.
func (r *Relay) Subscribe(roomId string, userId int) *Subscription {
	sub := &Subscription{
		userId: userId,
		roomId: roomId,
		C:      make(chan types.SignalEnvelope, subscriberBuffer),
		relay:  r,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subs[roomId] == nil {
		r.subs[roomId] = make(map[*Subscription]struct{})
	}
	r.subs[roomId][sub] = struct{}{}

	return sub
}

func (r *Relay) unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dropLocked(sub)
}

func (r *Relay) dropLocked(sub *Subscription) {
	if room, ok := r.subs[sub.roomId]; ok {
		if _, ok := room[sub]; ok {
			delete(room, sub)
			close(sub.C)
			if len(room) == 0 {
				delete(r.subs, sub.roomId)
			}
		}
	}
}

// fanOut pushes env to the room's subscribers, applying the same
// visibility filter the poll path uses. A subscriber whose buffer is
// full is dropped so it never blocks publishers.
func (r *Relay) fanOut(env types.SignalEnvelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for sub := range r.subs[env.RoomId] {
		if sub.userId == env.SenderId {
			continue
		}
		if env.TargetUserId != nil && *env.TargetUserId != sub.userId {
			continue
		}

		select {
		case sub.C <- env:
		default:
			r.log.Printf("signal subscriber for user %d in room %q is stalled, dropping", sub.userId, sub.roomId)
			r.dropLocked(sub)
		}
	}
}

func envelopeFromRecord(rec database.SignalEnvelope) types.SignalEnvelope {
	return types.SignalEnvelope{
		Id:           rec.Id,
		RoomId:       rec.RoomId,
		SenderId:     rec.SenderId,
		TargetUserId: rec.TargetUserId,
		SignalType:   types.SignalType(rec.SignalType),
		SignalData:   rec.SignalData,
		CreatedAt:    rec.CreatedAt,
	}
}
