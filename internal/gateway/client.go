package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wya-app/realtime/internal/stats"
	"github.com/wya-app/realtime/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendQueueSize  = 256
)

type Client struct {
	id        uuid.UUID
	conn      *websocket.Conn
	gateway   *Gateway
	log       *log.Logger
	stats     stats.StatsProvider
	user      types.User
	send      chan *ServerMessage
	rooms     map[string]*Room
	roomsLock sync.RWMutex
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, gw *Gateway, l *log.Logger, sp stats.StatsProvider) *Client {
	return &Client{
		id:      uuid.New(),
		conn:    conn,
		gateway: gw,
		log:     l,
		stats:   sp,
		user:    user,
		send:    make(chan *ServerMessage, sendQueueSize),
		rooms:   make(map[string]*Room),
		stop:    make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touchPresence()
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.UserId = c.user.Id
		msg.Timestamp = Now()

		c.dispatch(&msg)
	}
}

// touchPresence keeps the presence record from expiring while the
// connection is alive. The deadline keeps a slow presence store from
// stalling the read pump.
func (c *Client) touchPresence() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.gateway.presence.Heartbeat(ctx, c.user.Id); err != nil {
		c.log.Printf("presence heartbeat for user %d: %v", c.user.Id, err)
	}
}

// dispatch routes one inbound message. Room-scoped messages flow through
// the room's single channel so a sender's messages keep their submission
// order.
func (c *Client) dispatch(msg *ClientMessage) {
	switch {
	case msg.Join != nil:
		c.joinRoom(msg)
	case msg.Leave != nil:
		c.leaveRoom(msg)
	case msg.Publish != nil:
		c.forwardToRoom(msg, msg.Publish.RoomId)
	case msg.React != nil:
		c.forwardToRoom(msg, msg.React.RoomId)
	case msg.Typing != nil:
		c.forwardToRoom(msg, msg.Typing.RoomId)
	case msg.Read != nil:
		c.forwardToRoom(msg, msg.Read.RoomId)
	case msg.Direct != nil:
		select {
		case c.gateway.directChan <- msg:
		default:
			c.queueMessage(ErrServiceUnavailable(msg.Id))
			c.log.Println("directChan full")
		}
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) forwardToRoom(msg *ClientMessage, roomId string) {
	r := c.getRoom(roomId)
	if r == nil {
		c.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	select {
	case r.clientMsgChan <- msg:
	default:
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		c.log.Printf("clientMsgChan full for room %q", r.externalId)
	}
}

// queueMessage enqueues msg for delivery. A client whose queue is full is
// disconnected rather than allowed to stall fan-out for everyone else.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("send queue full for %q, dropping client", c.user.Username)
		c.stats.Incr(stats.DroppedClients)
		c.stopClient()
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.leaveAllRooms()
	c.gateway.DeregisterClient(c)
	c.stopClient()
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	for _, room := range c.rooms {
		select {
		case room.leaveChan <- &ClientMessage{
			Leave:  &Leave{RoomId: room.externalId},
			UserId: c.user.Id,
			client: c,
		}:
		default:
			c.log.Printf("leaveChan full for room %q during cleanup", room.externalId)
		}
	}
}

func (c *Client) joinRoom(msg *ClientMessage) {
	select {
	case c.gateway.joinChan <- msg:
	default:
		c.log.Printf("joinChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) leaveRoom(msg *ClientMessage) {
	r := c.getRoom(msg.Leave.RoomId)
	if r == nil {
		c.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	select {
	case r.leaveChan <- msg:
	default:
		c.log.Printf("leaveChan full for room %q", r.externalId)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.externalId] = r
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	if room, ok := c.rooms[id]; ok {
		return room
	}

	return nil
}
