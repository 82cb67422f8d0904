package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/wya-app/realtime/internal/database"
	"github.com/wya-app/realtime/internal/presence"
	"github.com/wya-app/realtime/internal/stats"
	"github.com/wya-app/realtime/internal/types"
)

func TestNewClient(t *testing.T) {
	gw := newTestGateway(t, &database.MockWyaRepository{}, &presence.MockTracker{}, &stats.MockStatsUpdater{})
	user := types.User{Id: 1, Username: "testuser"}

	c := NewClient(user, nil, gw, gw.log, &stats.MockStatsUpdater{})
	assert.NotNil(t, c, "expected client to be non-nil")
	assert.Equal(t, user, c.user, "expected user to be set")
	assert.Equal(t, gw, c.gateway, "expected gateway to be set")
	assert.NotNil(t, c.send, "expected send channel to be initialized")
	assert.NotNil(t, c.rooms, "expected rooms map to be initialized")
	assert.NotNil(t, c.stop, "expected stop channel to be initialized")
}

func Test_queueMessage(t *testing.T) {
	t.Run("queues message", func(t *testing.T) {
		c := &Client{send: make(chan *ServerMessage, 1)}

		ok := c.queueMessage(&ServerMessage{})
		assert.True(t, ok, "expected message to be queued")
		assert.Len(t, c.send, 1, "expected 1 message in send queue")
	})

	t.Run("full queue drops the client", func(t *testing.T) {
		gw := newTestGateway(t, &database.MockWyaRepository{}, &presence.MockTracker{}, &stats.MockStatsUpdater{})

		su := &stats.MockStatsUpdater{}
		su.On("Incr", stats.DroppedClients).Once()
		defer su.AssertExpectations(t)

		c := &Client{
			user:  types.User{Id: 1, Username: "slowpoke"},
			send:  make(chan *ServerMessage, 1),
			stop:  make(chan struct{}),
			stats: su,
			log:   gw.log,
		}

		c.send <- &ServerMessage{} // fill the queue

		ok := c.queueMessage(&ServerMessage{})
		assert.False(t, ok, "expected message to be dropped")

		select {
		case <-c.stop:
			// stop channel closed, client is being torn down
		default:
			t.Error("expected client stop channel to be closed")
		}
	})
}

func Test_dispatch(t *testing.T) {
	gw := newTestGateway(t, &database.MockWyaRepository{}, &presence.MockTracker{}, &stats.MockStatsUpdater{})

	t.Run("join routed to gateway", func(t *testing.T) {
		c := &Client{gateway: gw, send: make(chan *ServerMessage, 1), rooms: make(map[string]*Room), log: gw.log}
		msg := &ClientMessage{Join: &Join{RoomId: "testroom"}, client: c}

		c.dispatch(msg)

		select {
		case got := <-gw.joinChan:
			assert.Equal(t, msg, got, "expected join message on gateway joinChan")
		default:
			t.Error("expected join message to be sent to gateway")
		}
	})

	t.Run("publish routed to joined room", func(t *testing.T) {
		room := newTestRoom(gw, 1, "testroom")
		room.clientMsgChan = make(chan *ClientMessage, 1)

		c := &Client{gateway: gw, send: make(chan *ServerMessage, 1), rooms: map[string]*Room{room.externalId: room}, log: gw.log}
		msg := &ClientMessage{Publish: &Publish{RoomId: room.externalId, Content: "hi"}, client: c}

		c.dispatch(msg)

		select {
		case got := <-room.clientMsgChan:
			assert.Equal(t, msg, got, "expected publish message on room channel")
		default:
			t.Error("expected publish message to be sent to room")
		}
	})

	t.Run("publish to unjoined room returns not found", func(t *testing.T) {
		c := &Client{gateway: gw, send: make(chan *ServerMessage, 1), rooms: make(map[string]*Room), log: gw.log}

		c.dispatch(&ClientMessage{
			BaseMessage: BaseMessage{Id: 3},
			Publish:     &Publish{RoomId: "nowhere", Content: "hi"},
			client:      c,
		})

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg.Response, "expected response message")
			assert.Equal(t, 404, msg.Response.ResponseCode, "expected response code 404")
		default:
			t.Error("expected not found response to be queued")
		}
	})

	t.Run("direct routed to gateway", func(t *testing.T) {
		c := &Client{gateway: gw, send: make(chan *ServerMessage, 1), rooms: make(map[string]*Room), log: gw.log}
		msg := &ClientMessage{Direct: &Direct{UserId: 2, Content: "psst"}, client: c}

		c.dispatch(msg)

		select {
		case got := <-gw.directChan:
			assert.Equal(t, msg, got, "expected direct message on gateway directChan")
		default:
			t.Error("expected direct message to be sent to gateway")
		}
	})

	t.Run("empty message returns invalid message", func(t *testing.T) {
		c := &Client{gateway: gw, send: make(chan *ServerMessage, 1), rooms: make(map[string]*Room), log: gw.log}

		c.dispatch(&ClientMessage{BaseMessage: BaseMessage{Id: 9}, client: c})

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg.Response, "expected response message")
			assert.Equal(t, 400, msg.Response.ResponseCode, "expected response code 400")
		default:
			t.Error("expected invalid message response to be queued")
		}
	})
}

func Test_touchPresence(t *testing.T) {
	tracker := &presence.MockTracker{}
	// the heartbeat runs on the read pump, so it must carry a deadline
	tracker.On("Heartbeat", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), 1).Return(nil).Once()
	defer tracker.AssertExpectations(t)

	gw := newTestGateway(t, &database.MockWyaRepository{}, tracker, &stats.MockStatsUpdater{})
	c := &Client{gateway: gw, user: types.User{Id: 1, Username: "testuser"}, log: gw.log}

	c.touchPresence()
}

func Test_addRoom_getRoom_delRoom(t *testing.T) {
	gw := newTestGateway(t, &database.MockWyaRepository{}, &presence.MockTracker{}, &stats.MockStatsUpdater{})
	room := newTestRoom(gw, 1, "testroom")

	c := &Client{rooms: make(map[string]*Room)}

	c.addRoom(room)
	assert.Equal(t, room, c.getRoom(room.externalId), "expected room to be retrievable after add")

	c.delRoom(room.externalId)
	assert.Nil(t, c.getRoom(room.externalId), "expected room to be gone after delete")
}
