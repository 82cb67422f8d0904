package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrConflict is returned when the optimistic reaction toggle exhausts
// its retries without observing a stable message version.
var ErrConflict = errors.New("conflicting concurrent write")

const (
	createMembershipQuery = "INSERT INTO memberships (account_id, room_id, created_at, updated_at) " +
		"VALUES ($1, $2, $3, $4) RETURNING id, account_id, room_id"

	toggleReactionAttempts = 3
)

func (db *PgWyaRepository) CreateAccount(accountParams CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, username, email, created_at, updated_at",
		accountParams.Username,
		accountParams.EmailAddress,
		accountParams.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgWyaRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgWyaRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgWyaRepository) GetRoomByExternalId(externalId string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, description, seq_id, owner_id FROM rooms "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.Description,
		&room.SeqId,
		&room.OwnerId,
	)

	return room, err
}

func (db *PgWyaRepository) GetRoomWithMembers(roomId int) (*Room, error) {
	query := `
		SELECT
				r.id AS room_id,
				r.external_id,
				r.name AS room_name,
				r.description,
				r.seq_id,
				r.owner_id,
				r.created_at AS room_created_at,
				r.updated_at AS room_updated_at,
				m.id,
				m.account_id,
				a.username
		FROM rooms r
		LEFT JOIN memberships m ON r.id = m.room_id
		LEFT JOIN accounts a ON m.account_id = a.id
		WHERE r.id = $1;
`

	rows, err := db.conn.Query(query, roomId)
	if err != nil {
		return nil, fmt.Errorf("fetch room with members: %w", err)
	}
	defer rows.Close()

	var room *Room
	for rows.Next() {
		var (
			id            int
			externalId    string
			roomName      string
			description   string
			seqId         int
			ownerId       int
			roomCreatedAt time.Time
			roomUpdatedAt time.Time
			membershipId  sql.NullInt64
			accountId     sql.NullInt64
			username      sql.NullString
		)

		err := rows.Scan(
			&id,
			&externalId,
			&roomName,
			&description,
			&seqId,
			&ownerId,
			&roomCreatedAt,
			&roomUpdatedAt,
			&membershipId,
			&accountId,
			&username,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if room == nil {
			room = &Room{
				Id:          id,
				ExternalId:  externalId,
				Name:        roomName,
				Description: description,
				SeqId:       seqId,
				OwnerId:     ownerId,
				CreatedAt:   roomCreatedAt,
				UpdatedAt:   roomUpdatedAt,
				Memberships: make([]Membership, 0),
			}
		}

		if accountId.Valid && username.Valid {
			room.Memberships = append(room.Memberships, Membership{
				Id:        int(membershipId.Int64),
				AccountId: int(accountId.Int64),
				Username:  username.String,
				RoomId:    id,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if room == nil {
		return nil, sql.ErrNoRows
	}

	return room, nil
}

func (db *PgWyaRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRow(
		"INSERT INTO rooms (name, external_id, description, owner_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING id, name, external_id, description, seq_id, owner_id, created_at, updated_at",
		params.Name,
		params.ExternalId,
		params.Description,
		params.OwnerId,
		time.Now().UTC(),
	)

	var room Room
	err = res.Scan(
		&room.Id,
		&room.Name,
		&room.ExternalId,
		&room.Description,
		&room.SeqId,
		&room.OwnerId,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		return Room{}, err
	}

	_, err = tx.Exec(
		createMembershipQuery,
		params.OwnerId,
		room.Id,
		time.Now().UTC(),
		time.Now().UTC(),
	)
	if err != nil {
		return Room{}, err
	}

	if err = tx.Commit(); err != nil {
		return Room{}, err
	}

	return room, err
}

func (db *PgWyaRepository) DeleteRoom(id int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM memberships WHERE room_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM messages WHERE room_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM rooms WHERE id = $1", id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgWyaRepository) CreateMembership(accountId, roomId int) (Membership, error) {
	res := db.conn.QueryRow(
		createMembershipQuery,
		accountId,
		roomId,
		time.Now().UTC(),
		time.Now().UTC(),
	)

	var m Membership
	if err := res.Scan(&m.Id, &m.AccountId, &m.RoomId); err != nil {
		return Membership{}, err
	}

	row := db.conn.QueryRow("SELECT username FROM accounts WHERE id = $1", accountId)
	if err := row.Scan(&m.Username); err != nil {
		return Membership{}, err
	}

	return m, nil
}

func (db *PgWyaRepository) MembershipExists(accountId, roomId int) bool {
	row := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM memberships WHERE account_id = $1 AND room_id = $2)",
		accountId,
		roomId,
	)

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false
	}

	return exists
}

func (db *PgWyaRepository) DeleteMembership(accountId, roomId int) error {
	_, err := db.conn.Exec(
		"DELETE FROM memberships WHERE account_id = $1 AND room_id = $2",
		accountId,
		roomId,
	)

	return err
}

func (db *PgWyaRepository) UpdateLastReadSeqId(accountId, roomId, seqId int) error {
	_, err := db.conn.Exec(
		"UPDATE memberships SET last_read_seq_id = $3, updated_at = $4 "+
			"WHERE account_id = $1 AND room_id = $2 AND last_read_seq_id < $3",
		accountId,
		roomId,
		seqId,
		time.Now().UTC(),
	)

	return err
}

func (db *PgWyaRepository) IsBannedFromRoom(accountId, roomId int) (bool, error) {
	row := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM room_bans WHERE account_id = $1 AND room_id = $2)",
		accountId,
		roomId,
	)

	var banned bool
	err := row.Scan(&banned)
	return banned, err
}

func (db *PgWyaRepository) IsBlocked(blockerId, blockedId int) (bool, error) {
	row := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM user_blocks WHERE blocker_id = $1 AND blocked_id = $2)",
		blockerId,
		blockedId,
	)

	var blocked bool
	err := row.Scan(&blocked)
	return blocked, err
}

func (db *PgWyaRepository) CreateMessage(msg Message) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		"INSERT INTO messages (seq_id, room_id, account_id, content, reactions, version, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, '{}', 0, $5, $5)",
		msg.SeqId,
		msg.RoomId,
		msg.UserId,
		msg.Content,
		msg.CreatedAt,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(
		"UPDATE rooms SET seq_id = $2, updated_at = $3 WHERE id = $1",
		msg.RoomId,
		msg.SeqId,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgWyaRepository) GetMessages(roomId, after, before, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if before <= 0 {
		before = int(^uint(0) >> 1)
	}

	rows, err := db.conn.Query(
		"SELECT id, seq_id, room_id, account_id, content, reactions, created_at FROM messages "+
			"WHERE room_id = $1 AND seq_id > $2 AND seq_id < $3 "+
			"ORDER BY seq_id ASC LIMIT $4",
		roomId,
		after,
		before,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		err := rows.Scan(
			&msg.Id,
			&msg.SeqId,
			&msg.RoomId,
			&msg.UserId,
			&msg.Content,
			&msg.Reactions,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// ToggleReaction toggles userId's membership in emoji's user set on the
// message identified by (roomId, seqId). The read-modify-write cycle is
// guarded by the message version column: if another writer bumped the
// version between read and write, the cycle is retried on a fresh read.
func (db *PgWyaRepository) ToggleReaction(roomId, seqId, userId int, emoji string) (Reactions, error) {
	for attempt := 0; attempt < toggleReactionAttempts; attempt++ {
		row := db.conn.QueryRow(
			"SELECT id, reactions, version FROM messages WHERE room_id = $1 AND seq_id = $2 LIMIT 1",
			roomId,
			seqId,
		)

		var (
			id        int
			reactions Reactions
			version   int
		)
		if err := row.Scan(&id, &reactions, &version); err != nil {
			return nil, err
		}

		updated := ToggleReaction(reactions, emoji, userId)

		res, err := db.conn.Exec(
			"UPDATE messages SET reactions = $2, version = $3, updated_at = $4 "+
				"WHERE id = $1 AND version = $5",
			id,
			updated,
			version+1,
			time.Now().UTC(),
			version,
		)
		if err != nil {
			return nil, err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}

		if n == 1 {
			return updated, nil
		}
	}

	return nil, ErrConflict
}

func (db *PgWyaRepository) CreateDirectMessage(msg DirectMessage) (DirectMessage, error) {
	res := db.conn.QueryRow(
		"INSERT INTO direct_messages (sender_id, recipient_id, content, read, created_at) "+
			"VALUES ($1, $2, $3, false, $4) RETURNING id, sender_id, recipient_id, content, read, created_at",
		msg.SenderId,
		msg.RecipientId,
		msg.Content,
		msg.CreatedAt,
	)

	var dm DirectMessage
	err := res.Scan(
		&dm.Id,
		&dm.SenderId,
		&dm.RecipientId,
		&dm.Content,
		&dm.Read,
		&dm.CreatedAt,
	)

	return dm, err
}

func (db *PgWyaRepository) GetDirectThread(viewerId, peerId, limit int) ([]DirectMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.Query(
		"SELECT id, sender_id, recipient_id, content, read, created_at FROM direct_messages "+
			"WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1) "+
			"ORDER BY id ASC LIMIT $3",
		viewerId,
		peerId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []DirectMessage
	for rows.Next() {
		var dm DirectMessage
		err := rows.Scan(
			&dm.Id,
			&dm.SenderId,
			&dm.RecipientId,
			&dm.Content,
			&dm.Read,
			&dm.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		messages = append(messages, dm)
	}

	return messages, rows.Err()
}

// MarkThreadRead flips unread messages from senderId to recipientId to
// read. The flag never transitions back.
func (db *PgWyaRepository) MarkThreadRead(recipientId, senderId int) error {
	_, err := db.conn.Exec(
		"UPDATE direct_messages SET read = true "+
			"WHERE recipient_id = $1 AND sender_id = $2 AND read = false",
		recipientId,
		senderId,
	)

	return err
}

func (db *PgWyaRepository) CreateSignal(sig SignalEnvelope) (SignalEnvelope, error) {
	res := db.conn.QueryRow(
		"INSERT INTO signals (room_id, sender_id, target_user_id, signal_type, signal_data, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at",
		sig.RoomId,
		sig.SenderId,
		sig.TargetUserId,
		sig.SignalType,
		sig.SignalData,
		time.Now().UTC(),
	)

	err := res.Scan(&sig.Id, &sig.CreatedAt)
	return sig, err
}

// GetSignalsSince returns the envelopes in roomId with id greater than
// sinceId, excluding the requester's own envelopes and envelopes targeted
// at a different user, plus the room's current high watermark. A zero
// window disables the time bound; callers pass one only when no sinceId
// exists, otherwise rows older than the window would be skipped while
// the watermark still advances past them.
func (db *PgWyaRepository) GetSignalsSince(roomId string, requesterId int, sinceId int64, window time.Duration) ([]SignalEnvelope, int64, error) {
	query := "SELECT id, room_id, sender_id, target_user_id, signal_type, signal_data, created_at FROM signals " +
		"WHERE room_id = $1 AND id > $2 " +
		"AND sender_id != $3 AND (target_user_id IS NULL OR target_user_id = $3) "
	args := []any{roomId, sinceId, requesterId}

	if window > 0 {
		query += "AND created_at > $4 "
		args = append(args, time.Now().UTC().Add(-window))
	}
	query += "ORDER BY id ASC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var signals []SignalEnvelope
	for rows.Next() {
		var (
			sig    SignalEnvelope
			target sql.NullInt64
		)
		err := rows.Scan(
			&sig.Id,
			&sig.RoomId,
			&sig.SenderId,
			&target,
			&sig.SignalType,
			&sig.SignalData,
			&sig.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}

		if target.Valid {
			t := int(target.Int64)
			sig.TargetUserId = &t
		}

		signals = append(signals, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	watermark := sinceId
	row := db.conn.QueryRow("SELECT COALESCE(MAX(id), $2) FROM signals WHERE room_id = $1", roomId, sinceId)
	if err := row.Scan(&watermark); err != nil {
		return nil, 0, err
	}

	return signals, watermark, nil
}
