package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
	"github.com/wya-app/realtime/internal/database"
	"github.com/wya-app/realtime/internal/gateway"
	"github.com/wya-app/realtime/internal/signal"
	"github.com/wya-app/realtime/internal/types"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type PublishSignalRequest struct {
	RoomId       string          `json:"room_id"`
	TargetUserId *int            `json:"target_user_id,omitempty"`
	SignalType   string          `json:"signal_type"`
	SignalData   json.RawMessage `json:"signal_data"`
}

type PollSignalsResponse struct {
	Signals   []types.SignalEnvelope `json:"signals"`
	Watermark int64                  `json:"watermark"`
}

func (s *WyaApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *WyaApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	}

	newUser, err := s.db.CreateAccount(params)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.User{
		Id:           newUser.Id,
		Username:     newUser.Username,
		EmailAddress: newUser.EmailAddress,
		CreatedAt:    newUser.CreatedAt,
		UpdatedAt:    newUser.UpdatedAt,
	})
}

func (s *WyaApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(lr.Email)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.createJwtForSession(dbUser.Id, defaultExp)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultExp))

	s.writeJson(w, http.StatusOK, types.User{
		Id:           dbUser.Id,
		Username:     dbUser.Username,
		EmailAddress: dbUser.EmailAddress,
		CreatedAt:    dbUser.CreatedAt,
		UpdatedAt:    dbUser.UpdatedAt,
	})
}

func (s *WyaApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	})
}

func (s *WyaApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", 0))
	w.WriteHeader(http.StatusNoContent)
}

func (s *WyaApp) createRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId, err := shortid.Generate()
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.CreateRoom(database.CreateRoomParams{
		Name:        req.Name,
		Description: req.Description,
		OwnerId:     userId,
		ExternalId:  externalId,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.Room{
		Id:          room.Id,
		Name:        room.Name,
		ExternalId:  room.ExternalId,
		Description: room.Description,
		SeqId:       room.SeqId,
		OwnerId:     room.OwnerId,
		CreatedAt:   room.CreatedAt,
		UpdatedAt:   room.UpdatedAt,
	})
}

func (s *WyaApp) getRoom(w http.ResponseWriter, r *http.Request) {
	externalId := r.URL.Query().Get("room_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbRoom, err := s.db.GetRoomWithMembers(room.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	members := make([]types.User, len(dbRoom.Memberships))
	for i, m := range dbRoom.Memberships {
		members[i] = types.User{
			Id:       m.AccountId,
			Username: m.Username,
		}
	}

	s.writeJson(w, http.StatusOK, types.Room{
		Id:          dbRoom.Id,
		Name:        dbRoom.Name,
		ExternalId:  dbRoom.ExternalId,
		Description: dbRoom.Description,
		SeqId:       dbRoom.SeqId,
		OwnerId:     dbRoom.OwnerId,
		Members:     members,
		CreatedAt:   dbRoom.CreatedAt,
		UpdatedAt:   dbRoom.UpdatedAt,
	})
}

func (s *WyaApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("room_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if room.OwnerId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteRoom(room.Id); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.gw.RemoveRoom(room.ExternalId)

	w.WriteHeader(http.StatusNoContent)
}

func (s *WyaApp) getMessages(w http.ResponseWriter, r *http.Request) {
	externalId := r.URL.Query().Get("room_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	after, ok := queryInt(r, "after")
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	before, ok := queryInt(r, "before")
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	limit, ok := queryInt(r, "limit")
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages, err := s.db.GetMessages(room.Id, after, before, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var userMessages []types.Message
	for _, msg := range messages {
		userMessages = append(userMessages, types.Message{
			SeqId:     msg.SeqId,
			UserId:    msg.UserId,
			RoomId:    msg.RoomId,
			Content:   msg.Content,
			Reactions: types.Reactions(msg.Reactions),
			Timestamp: msg.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, userMessages)
}

// getDirectThread returns the viewer's conversation with a peer. Fetching
// as the recipient marks the peer's messages read first, so the response
// reflects the new state.
func (s *WyaApp) getDirectThread(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	peerId, ok := queryInt(r, "user_id")
	if !ok || peerId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit, ok := queryInt(r, "limit")
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.MarkThreadRead(userId, peerId); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	thread, err := s.db.GetDirectThread(userId, peerId, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var messages []types.DirectMessage
	for _, dm := range thread {
		messages = append(messages, types.DirectMessage{
			Id:          dm.Id,
			SenderId:    dm.SenderId,
			RecipientId: dm.RecipientId,
			Content:     dm.Content,
			Read:        dm.Read,
			Timestamp:   dm.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *WyaApp) getPresence(w http.ResponseWriter, r *http.Request) {
	userId, ok := queryInt(r, "user_id")
	if !ok || userId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	record, err := s.presence.GetPresence(r.Context(), userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, record)
}

func (s *WyaApp) publishSignal(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req PublishSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	env, err := s.relay.Publish(userId, req.RoomId, req.TargetUserId, types.SignalType(req.SignalType), req.SignalData)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, signal.ErrInvalidSignal) {
			errResp = NewInvalidSignalError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, env)
}

func (s *WyaApp) pollSignals(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := r.URL.Query().Get("room_id")
	if roomId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var since int64
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		var err error
		since, err = strconv.ParseInt(sinceStr, 10, 64)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	signals, watermark, err := s.relay.Poll(userId, roomId, since)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, signal.ErrInvalidSignal) {
			errResp = NewInvalidSignalError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if signals == nil {
		signals = []types.SignalEnvelope{}
	}

	s.writeJson(w, http.StatusOK, PollSignalsResponse{
		Signals:   signals,
		Watermark: watermark,
	})
}

// legacyChat answers the pre-websocket chat endpoint: callers must
// upgrade to the realtime transport.
func (s *WyaApp) legacyChat(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Upgrade", "websocket")
	errResp := NewUpgradeRequiredError()
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *WyaApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := gateway.NewClient(types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}, conn, s.gw, s.log, s.stats)

	s.gw.RegisterClient(client)
	go client.Write()
	go client.Read()
}

func queryInt(r *http.Request, key string) (int, bool) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return 0, true
	}

	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}

	return n, true
}
