package gateway

import (
	"net/http"
	"time"

	"github.com/wya-app/realtime/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Join    *Join    `json:"join,omitempty"`
	Leave   *Leave   `json:"leave,omitempty"`
	Publish *Publish `json:"publish,omitempty"`
	React   *React   `json:"react,omitempty"`
	Direct  *Direct  `json:"direct,omitempty"`
	Typing  *Typing  `json:"typing,omitempty"`
	Read    *Read    `json:"read,omitempty"`
	UserId  int      `json:"-"`
	client  *Client  `json:"-"`
}

func (cm *ClientMessage) GetUserId() int {
	if cm.UserId != 0 {
		return cm.UserId
	}

	if cm.client != nil {
		return cm.client.user.Id
	}

	return 0
}

type Join struct {
	RoomId string `json:"room_id"`
}

type Leave struct {
	RoomId string `json:"room_id"`
	// Unsub also removes the user's membership, so the room no longer
	// appears in their subscriptions.
	Unsub bool `json:"unsub,omitempty"`
}

type Publish struct {
	RoomId  string `json:"room_id"`
	Content string `json:"content"`
}

type React struct {
	RoomId string `json:"room_id"`
	SeqId  int    `json:"seq_id"`
	Emoji  string `json:"emoji"`
}

type Direct struct {
	UserId  int    `json:"user_id"`
	Content string `json:"content"`
}

type Typing struct {
	RoomId string `json:"room_id"`
}

type Read struct {
	RoomId string `json:"room_id"`
	SeqId  int    `json:"seq_id"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response             `json:"response,omitempty"`
	Message      *types.Message        `json:"message,omitempty"`
	Direct       *types.DirectMessage  `json:"direct,omitempty"`
	Signal       *types.SignalEnvelope `json:"signal,omitempty"`
	Notification *Notification         `json:"notification,omitempty"`
	// UserId routes user-level broadcasts to every session of one user.
	UserId     int     `json:"-"`
	SkipClient *Client `json:"-"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

type Notification struct {
	Presence         *PresenceNote     `json:"presence,omitempty"`
	Typing           *TypingNote       `json:"typing,omitempty"`
	Reaction         *ReactionNote     `json:"reaction,omitempty"`
	MembershipChange *MembershipChange `json:"membership_change,omitempty"`
	RoomDeleted      *RoomDeleted      `json:"room_deleted,omitempty"`
}

type PresenceNote struct {
	Present bool   `json:"present"`
	UserId  int    `json:"user_id"`
	RoomId  string `json:"room_id"`
}

type TypingNote struct {
	RoomId string `json:"room_id"`
	UserId int    `json:"user_id"`
}

type ReactionNote struct {
	RoomId    string          `json:"room_id"`
	SeqId     int             `json:"seq_id"`
	Reactions types.Reactions `json:"reactions"`
}

type MembershipChange struct {
	RoomId string     `json:"room_id"`
	Joined bool       `json:"joined"`
	User   types.User `json:"user"`
}

type RoomDeleted struct {
	RoomId string `json:"room_id"`
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func errResponse(id, code int, msg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        msg,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return errResponse(id, http.StatusNotFound, "room not found")
}

func ErrUserNotFound(id int) *ServerMessage {
	return errResponse(id, http.StatusNotFound, "user not found")
}

func ErrForbidden(id int) *ServerMessage {
	return errResponse(id, http.StatusForbidden, "forbidden")
}

func ErrConflict(id int) *ServerMessage {
	return errResponse(id, http.StatusConflict, "conflicting update, retry")
}

// ErrDeliveryFailed tells the caller their message did not land; it is
// never silently dropped.
func ErrDeliveryFailed(id int) *ServerMessage {
	return errResponse(id, http.StatusInternalServerError, "delivery failed")
}

func ErrInternalError(id int) *ServerMessage {
	return errResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return errResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := errResponse(0, http.StatusBadRequest, "invalid message format")
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
