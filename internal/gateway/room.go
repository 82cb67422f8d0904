package gateway

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/wya-app/realtime/internal/database"
	"github.com/wya-app/realtime/internal/signal"
	"github.com/wya-app/realtime/internal/stats"
	"github.com/wya-app/realtime/internal/types"
)

const idleRoomTimeout = time.Minute

type exitReq struct {
	deleted bool
	done    chan string
}

type Room struct {
	id            int
	externalId    string
	gateway       *Gateway
	joinChan      chan *ClientMessage
	leaveChan     chan *ClientMessage
	clientMsgChan chan *ClientMessage
	seqId         int
	clients       map[*Client]struct{}
	userMap       map[int]map[*Client]struct{}
	signalSubs    map[*Client]*signal.Subscription
	clientLock    sync.RWMutex
	log           *log.Logger
	// killTimer unloads the room once it has been idle with no clients.
	killTimer *time.Timer
	exit      chan exitReq
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.externalId)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.clientMsgChan:
			switch {
			case msg.Publish != nil:
				r.saveAndBroadcast(msg)
			case msg.React != nil:
				r.handleReact(msg)
			case msg.Typing != nil:
				r.handleTyping(msg)
			case msg.Read != nil:
				r.handleRead(msg)
			}
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.externalId)
	select {
	case r.gateway.unloadRoomChan <- unloadRoomRequest{roomId: r.externalId}:
	default:
		// try again on the next idle period
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.externalId)
	if e.deleted {
		r.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{
				Timestamp: Now(),
			},
			Notification: &Notification{
				RoomDeleted: &RoomDeleted{RoomId: r.externalId},
			},
		})
	}

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.externalId)
	}
	for c, sub := range r.signalSubs {
		sub.Cancel()
		delete(r.signalSubs, c)
	}
	r.clientLock.Unlock()

	if e.done != nil {
		e.done <- r.externalId
	}
}

func (r *Room) handleJoin(join *ClientMessage) {
	// a new client arrived, hold off unloading
	r.killTimer.Stop()

	c := join.client

	banned, err := r.gateway.db.IsBannedFromRoom(c.user.Id, r.id)
	if err != nil {
		r.log.Println("IsBannedFromRoom:", err)
		r.resetTimerIfEmpty()
		c.queueMessage(ErrInternalError(join.Id))
		return
	}
	if banned {
		r.resetTimerIfEmpty()
		c.queueMessage(ErrForbidden(join.Id))
		return
	}

	if !r.gateway.db.MembershipExists(c.user.Id, r.id) {
		r.log.Printf("creating membership for user %q in room %q", c.user.Username, r.externalId)
		member, err := r.gateway.db.CreateMembership(c.user.Id, r.id)
		if err != nil {
			r.resetTimerIfEmpty()
			r.log.Println("CreateMembership:", err)
			c.queueMessage(ErrInternalError(join.Id))
			return
		}

		r.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{
				Timestamp: Now(),
			},
			Notification: &Notification{
				MembershipChange: &MembershipChange{
					RoomId: r.externalId,
					Joined: true,
					User: types.User{
						Id:       member.AccountId,
						Username: member.Username,
					},
				},
			},
		})
	}

	dbRoom, err := r.gateway.db.GetRoomWithMembers(r.id)
	if err != nil {
		r.log.Println("GetRoomWithMembers:", err)
		r.resetTimerIfEmpty()
		c.queueMessage(ErrInternalError(join.Id))
		return
	}

	r.addClient(c)
	r.setPresence(c.user.Id)

	roomInfo := types.Room{
		Id:          dbRoom.Id,
		Name:        dbRoom.Name,
		ExternalId:  dbRoom.ExternalId,
		Description: dbRoom.Description,
		SeqId:       r.seqId,
		OwnerId:     dbRoom.OwnerId,
		Members: func() []types.User {
			members := make([]types.User, len(dbRoom.Memberships))
			for i, m := range dbRoom.Memberships {
				members[i] = types.User{
					Id:        m.AccountId,
					Username:  m.Username,
					IsPresent: r.userMap[m.AccountId] != nil,
				}
			}
			return members
		}(),
		CreatedAt: dbRoom.CreatedAt,
		UpdatedAt: dbRoom.UpdatedAt,
	}

	c.queueMessage(NoErrOK(join.Id, map[string]any{"room": roomInfo}))

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Presence: &PresenceNote{
				Present: true,
				RoomId:  r.externalId,
				UserId:  c.user.Id,
			},
		},
		SkipClient: c,
	})
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	client := leaveMsg.client
	r.removeClient(client)

	if leaveMsg.Leave.Unsub {
		if err := r.gateway.db.DeleteMembership(client.user.Id, r.id); err != nil {
			r.log.Println("DeleteMembership:", err)
			client.queueMessage(ErrInternalError(leaveMsg.Id))
			return
		}

		r.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{
				Timestamp: Now(),
			},
			Notification: &Notification{
				MembershipChange: &MembershipChange{
					RoomId: r.externalId,
					Joined: false,
					User: types.User{
						Id:       client.user.Id,
						Username: client.user.Username,
					},
				},
			},
		})
	}

	if leaveMsg.Id != 0 {
		client.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}

	// notify peers only once the user's last session is gone
	if r.userMap[client.user.Id] == nil {
		r.clearPresence(client.user.Id)

		r.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{
				Timestamp: Now(),
			},
			Notification: &Notification{
				Presence: &PresenceNote{
					Present: false,
					RoomId:  r.externalId,
					UserId:  client.user.Id,
				},
			},
			SkipClient: client,
		})
	}
}

func (r *Room) handleRead(msg *ClientMessage) {
	if err := r.gateway.db.UpdateLastReadSeqId(msg.UserId, r.id, msg.Read.SeqId); err != nil {
		r.log.Println("UpdateLastReadSeqId:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	msg.client.queueMessage(NoErrOK(msg.Id, nil))
}

func (r *Room) handleTyping(msg *ClientMessage) {
	// ephemeral, nothing persisted
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: msg.Timestamp,
		},
		Notification: &Notification{
			Typing: &TypingNote{
				RoomId: r.externalId,
				UserId: msg.UserId,
			},
		},
		SkipClient: msg.client,
	})
}

func (r *Room) handleReact(msg *ClientMessage) {
	reactions, err := r.gateway.db.ToggleReaction(r.id, msg.React.SeqId, msg.UserId, msg.React.Emoji)
	if err != nil {
		if errors.Is(err, database.ErrConflict) {
			msg.client.queueMessage(ErrConflict(msg.Id))
		} else {
			r.log.Println("ToggleReaction:", err)
			msg.client.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	msg.client.queueMessage(NoErrOK(msg.Id, nil))

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Reaction: &ReactionNote{
				RoomId:    r.externalId,
				SeqId:     msg.React.SeqId,
				Reactions: types.Reactions(reactions),
			},
		},
	})
}

func (r *Room) saveAndBroadcast(msg *ClientMessage) {
	record := database.Message{
		SeqId:     r.seqId + 1,
		RoomId:    r.id,
		UserId:    msg.client.user.Id,
		Content:   msg.Publish.Content,
		CreatedAt: msg.Timestamp,
	}

	err := withRetry(storeWriteAttempts, storeWriteBackoff, func() error {
		return r.gateway.db.CreateMessage(record)
	})
	if err != nil {
		// the caller must learn the message did not land
		r.log.Println("error saving message:", err)
		msg.client.queueMessage(ErrDeliveryFailed(msg.Id))
		return
	}

	r.seqId++
	msg.client.queueMessage(NoErrAccepted(msg.Id))
	r.gateway.stats.Incr(stats.MessagesDelivered)

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Id:        msg.Id,
			Timestamp: msg.Timestamp,
		},
		Message: &types.Message{
			SeqId:     r.seqId,
			RoomId:    r.id,
			UserId:    msg.UserId,
			Content:   msg.Publish.Content,
			Timestamp: msg.Timestamp,
		},
	})
}

func (r *Room) resetTimerIfEmpty() {
	if len(r.clients) == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) setPresence(userId int) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.gateway.presence.SetPresence(ctx, userId, types.PresenceOnline, "chatting", r.externalId); err != nil {
		r.log.Println("SetPresence:", err)
	}
}

func (r *Room) clearPresence(userId int) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.gateway.presence.ClearRoom(ctx, userId, r.externalId); err != nil {
		r.log.Println("ClearRoom:", err)
	}
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	if r.gateway.relay != nil {
		sub := r.gateway.relay.Subscribe(r.externalId, c.user.Id)
		r.signalSubs[c] = sub
		go forwardSignals(c, sub)
	}

	c.addRoom(r)
}

// forwardSignals pumps relay envelopes into the client's send queue until
// the subscription is cancelled.
func forwardSignals(c *Client, sub *signal.Subscription) {
	for env := range sub.C {
		e := env
		c.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{
				Timestamp: e.CreatedAt,
			},
			Signal: &e,
		})
	}
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.delRoom(r.externalId)

	if sub, ok := r.signalSubs[c]; ok {
		sub.Cancel()
		delete(r.signalSubs, c)
	}

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.externalId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) getClient(c *Client) (*Client, bool) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	_, ok := r.clients[c]
	if !ok {
		return nil, false
	}

	return c, true
}

// broadcast fans msg out to every client in the room except SkipClient.
// A slow client is dropped by its own queueMessage, never blocking the
// others.
func (r *Room) broadcast(msg *ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
