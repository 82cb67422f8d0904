package gateway

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/wya-app/realtime/internal/database"
	"github.com/wya-app/realtime/internal/presence"
	"github.com/wya-app/realtime/internal/signal"
	"github.com/wya-app/realtime/internal/stats"
	"github.com/wya-app/realtime/internal/types"
)

type unloadRoomRequest struct {
	roomId  string
	deleted bool
}

type stopRequest struct {
	done chan struct{}
}

// Gateway owns connection registration, room lifecycle and user-level
// fan-out. Each inbound connection is handled independently; no global
// lock serializes different rooms.
type Gateway struct {
	log            *log.Logger
	db             database.WyaRepository
	presence       presence.Tracker
	relay          *signal.Relay
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	userMap        map[int]map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	directChan     chan *ClientMessage
	registerChan   chan *Client
	deregisterChan chan *Client
	unloadRoomChan chan unloadRoomRequest
	rooms          map[string]*Room
	stop           chan stopRequest
}

func NewGateway(logger *log.Logger, db database.WyaRepository, tracker presence.Tracker, relay *signal.Relay, sp stats.StatsProvider) (*Gateway, error) {
	gw := &Gateway{
		log:            logger,
		db:             db,
		presence:       tracker,
		relay:          relay,
		stats:          sp,
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[int]map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		directChan:     make(chan *ClientMessage, 256),
		registerChan:   make(chan *Client, 256),
		deregisterChan: make(chan *Client, 256),
		unloadRoomChan: make(chan unloadRoomRequest, 256),
		rooms:          make(map[string]*Room),
		stop:           make(chan stopRequest),
	}

	sp.RegisterMetric(stats.ActiveConnections)
	sp.RegisterMetric(stats.ActiveRooms)
	sp.RegisterMetric(stats.MessagesDelivered)
	sp.RegisterMetric(stats.DroppedClients)

	return gw, nil
}

func (gw *Gateway) Run() {
	for {
		select {
		case joinMsg := <-gw.joinChan:
			gw.handleJoin(joinMsg)
		case msg := <-gw.directChan:
			gw.handleDirect(msg)
		case client := <-gw.registerChan:
			gw.addClient(client)
		case client := <-gw.deregisterChan:
			gw.removeClient(client)
		case req := <-gw.unloadRoomChan:
			gw.handleUnloadRoom(req)
		case req := <-gw.stop:
			gw.log.Println("shutting down rooms")
			for _, r := range gw.rooms {
				done := make(chan string)
				r.exit <- exitReq{done: done}
				<-done
			}

			close(req.done)
			return
		}
	}
}

func (gw *Gateway) handleJoin(joinMsg *ClientMessage) {
	if room, ok := gw.rooms[joinMsg.Join.RoomId]; ok {
		select {
		case room.joinChan <- joinMsg:
		default:
			gw.log.Printf("join channel full on room %q", room.externalId)
			joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
		}
		return
	}

	dbRoom, err := gw.db.GetRoomByExternalId(joinMsg.Join.RoomId)
	if err != nil {
		joinMsg.client.queueMessage(ErrRoomNotFound(joinMsg.Id))
		return
	}

	room := &Room{
		id:            dbRoom.Id,
		externalId:    dbRoom.ExternalId,
		gateway:       gw,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		seqId:         dbRoom.SeqId,
		clients:       make(map[*Client]struct{}),
		userMap:       make(map[int]map[*Client]struct{}),
		signalSubs:    make(map[*Client]*signal.Subscription),
		log:           gw.log,
		exit:          make(chan exitReq),
	}

	gw.rooms[room.externalId] = room
	gw.stats.Incr(stats.ActiveRooms)
	room.joinChan <- joinMsg

	go room.start()
}

// handleDirect validates, persists and fans out one direct message to
// every connected session of both parties.
func (gw *Gateway) handleDirect(msg *ClientMessage) {
	sender := msg.client
	recipientId := msg.Direct.UserId

	if _, err := gw.db.GetAccountById(recipientId); err != nil {
		sender.queueMessage(ErrUserNotFound(msg.Id))
		return
	}

	blocked, err := gw.db.IsBlocked(recipientId, msg.UserId)
	if err != nil {
		gw.log.Println("IsBlocked:", err)
		sender.queueMessage(ErrInternalError(msg.Id))
		return
	}
	if blocked {
		sender.queueMessage(ErrForbidden(msg.Id))
		return
	}

	var dm database.DirectMessage
	err = withRetry(storeWriteAttempts, storeWriteBackoff, func() error {
		var err error
		dm, err = gw.db.CreateDirectMessage(database.DirectMessage{
			SenderId:    msg.UserId,
			RecipientId: recipientId,
			Content:     msg.Direct.Content,
			CreatedAt:   msg.Timestamp,
		})
		return err
	})
	if err != nil {
		gw.log.Println("error saving direct message:", err)
		sender.queueMessage(ErrDeliveryFailed(msg.Id))
		return
	}

	sender.queueMessage(NoErrAccepted(msg.Id))

	out := &types.DirectMessage{
		Id:          dm.Id,
		SenderId:    dm.SenderId,
		RecipientId: dm.RecipientId,
		Content:     dm.Content,
		Timestamp:   dm.CreatedAt,
	}
	for _, userId := range []int{dm.SenderId, dm.RecipientId} {
		gw.routeToUser(&ServerMessage{
			BaseMessage: BaseMessage{
				Timestamp: dm.CreatedAt,
			},
			Direct: out,
			UserId: userId,
		})
	}

	gw.stats.Incr(stats.MessagesDelivered)
}

// routeToUser delivers msg to every session of msg.UserId.
func (gw *Gateway) routeToUser(msg *ServerMessage) {
	gw.clientsLock.Lock()
	defer gw.clientsLock.Unlock()

	for client := range gw.userMap[msg.UserId] {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}

func (gw *Gateway) handleUnloadRoom(req unloadRoomRequest) {
	r, ok := gw.rooms[req.roomId]
	if !ok {
		return
	}

	delete(gw.rooms, req.roomId)
	gw.stats.Decr(stats.ActiveRooms)

	done := make(chan string)
	r.exit <- exitReq{deleted: req.deleted, done: done}
	<-done
}

// RegisterClient adds a new connection to the gateway.
func (gw *Gateway) RegisterClient(c *Client) {
	gw.registerChan <- c
}

// DeregisterClient removes a connection; fan-out to it stops as soon as
// the registration is processed.
func (gw *Gateway) DeregisterClient(c *Client) {
	gw.deregisterChan <- c
}

// RemoveRoom unloads a deleted room and notifies its clients.
func (gw *Gateway) RemoveRoom(externalId string) {
	gw.unloadRoomChan <- unloadRoomRequest{roomId: externalId, deleted: true}
}

func (gw *Gateway) addClient(c *Client) {
	gw.clientsLock.Lock()
	defer gw.clientsLock.Unlock()

	gw.log.Printf("adding connection from %q", c.user.Username)
	gw.clients[c] = struct{}{}
	if gw.userMap[c.user.Id] == nil {
		gw.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	gw.userMap[c.user.Id][c] = struct{}{}

	gw.stats.Incr(stats.ActiveConnections)
	gw.markOnline(c.user.Id)
}

func (gw *Gateway) removeClient(c *Client) {
	gw.clientsLock.Lock()
	defer gw.clientsLock.Unlock()

	if _, ok := gw.clients[c]; !ok {
		return
	}

	gw.log.Printf("removing connection from %q", c.user.Username)
	delete(gw.clients, c)
	gw.stats.Decr(stats.ActiveConnections)

	if userClients, ok := gw.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(gw.userMap, c.user.Id)
			gw.markOffline(c.user.Id)
		}
	}
}

// markOnline and markOffline touch only the status field. A second
// session registering must not wipe the room the first session joined.
func (gw *Gateway) markOnline(userId int) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := gw.presence.SetStatus(ctx, userId, types.PresenceOnline); err != nil {
		gw.log.Println("SetStatus:", err)
	}
}

func (gw *Gateway) markOffline(userId int) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := gw.presence.SetStatus(ctx, userId, types.PresenceOffline); err != nil {
		gw.log.Println("SetStatus:", err)
	}
}

// Shutdown stops every client and waits for all rooms to drain, or for
// ctx to expire.
func (gw *Gateway) Shutdown(ctx context.Context) error {
	gw.clientsLock.Lock()
	for c := range gw.clients {
		c.stopClient()
	}
	gw.clientsLock.Unlock()

	req := stopRequest{done: make(chan struct{})}
	select {
	case gw.stop <- req:
	case <-ctx.Done():
		return fmt.Errorf("gateway shutdown: %w", ctx.Err())
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gateway shutdown: %w", ctx.Err())
	}
}
