package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/wpp-archive/internal/chat"
)

// RemoteDialog is a conversation seen on the chat service.
type RemoteDialog struct {
	ID            int64
	JID           string
	Title         string
	Type          chat.DialogType
	UnreadCount   int
	LastMessageAt int64
}

// RemoteMessage is a cached chat service message. Payload holds the
// service's own encoding so media can be fetched later.
type RemoteMessage struct {
	ID        int64
	DialogID  int64
	MsgID     string
	SenderJID string
	Timestamp int64
	Body      string
	AlbumKey  string
	Payload   []byte
	Deleted   bool
}

// Inbound is a message received from the chat service with the dialog it
// belongs to. Message.DialogID is assigned on ingestion.
type Inbound struct {
	Dialog  RemoteDialog
	Message RemoteMessage
}

// Revoke identifies a message deleted upstream.
type Revoke struct {
	DialogJID string
	MsgID     string
}

// RemoteQuery bounds a cached message listing. Bounds are exclusive and
// compare by (timestamp, id).
type RemoteQuery struct {
	MinID   int64
	MaxID   int64
	Reverse bool
	Search  string
	Limit   int
}

// UpsertRemoteDialog creates or updates a cached dialog keyed by JID and
// returns its id. Empty titles never overwrite known ones.
func (db *DB) UpsertRemoteDialog(ctx context.Context, d *RemoteDialog) (int64, error) {
	return upsertRemoteDialog(ctx, db, d)
}

// UpsertRemoteDialog is the transactional form of DB.UpsertRemoteDialog.
func (tx *Tx) UpsertRemoteDialog(d *RemoteDialog) (int64, error) {
	return upsertRemoteDialog(tx.ctx, tx.tx, d)
}

func upsertRemoteDialog(ctx context.Context, q querier, d *RemoteDialog) (int64, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO remote_dialogs (jid, title, dialog_type_id, unread_count, last_message_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE remote_dialogs.title END,
			dialog_type_id = CASE WHEN excluded.dialog_type_id != 4 THEN excluded.dialog_type_id ELSE remote_dialogs.dialog_type_id END,
			unread_count = MAX(remote_dialogs.unread_count, excluded.unread_count),
			last_message_at = MAX(remote_dialogs.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		d.JID, d.Title, int(chat.DialogTypeByID(int(d.Type))), d.UnreadCount, d.LastMessageAt, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("upsert remote dialog: %w", err)
	}

	var id int64
	if err := q.QueryRowContext(ctx, `SELECT id FROM remote_dialogs WHERE jid = ?`, d.JID).Scan(&id); err != nil {
		return 0, fmt.Errorf("remote dialog id: %w", err)
	}
	d.ID = id
	return id, nil
}

// UpsertRemoteMessage caches a message (idempotent on dialog + msg id).
func (db *DB) UpsertRemoteMessage(ctx context.Context, m *RemoteMessage) (int64, error) {
	return upsertRemoteMessage(ctx, db, m)
}

// UpsertRemoteMessage is the transactional form of DB.UpsertRemoteMessage.
func (tx *Tx) UpsertRemoteMessage(m *RemoteMessage) (int64, error) {
	return upsertRemoteMessage(tx.ctx, tx.tx, m)
}

func upsertRemoteMessage(ctx context.Context, q querier, m *RemoteMessage) (int64, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO remote_messages (dialog_id, msg_id, sender_jid, timestamp, body, album_key, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dialog_id, msg_id) DO UPDATE SET
			body = excluded.body,
			album_key = CASE WHEN excluded.album_key != '' THEN excluded.album_key ELSE remote_messages.album_key END,
			payload = CASE WHEN length(excluded.payload) > 0 THEN excluded.payload ELSE remote_messages.payload END`,
		m.DialogID, m.MsgID, m.SenderJID, m.Timestamp, m.Body, m.AlbumKey, m.Payload, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("upsert remote message: %w", err)
	}

	var id int64
	if err := q.QueryRowContext(ctx, `SELECT id FROM remote_messages WHERE dialog_id = ? AND msg_id = ?`, m.DialogID, m.MsgID).Scan(&id); err != nil {
		return 0, fmt.Errorf("remote message id: %w", err)
	}
	m.ID = id
	return id, nil
}

// MarkRemoteDeleted flags a cached message as revoked upstream.
func (db *DB) MarkRemoteDeleted(ctx context.Context, dialogJID, msgID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE remote_messages SET deleted = 1
		WHERE msg_id = ? AND dialog_id = (SELECT id FROM remote_dialogs WHERE jid = ?)`, msgID, dialogJID)
	if err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	return nil
}

// RemoteDialogs lists every cached dialog.
func (db *DB) RemoteDialogs(ctx context.Context) ([]RemoteDialog, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, jid, title, dialog_type_id, unread_count, last_message_at
		FROM remote_dialogs ORDER BY last_message_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("remote dialogs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RemoteDialog
	for rows.Next() {
		var d RemoteDialog
		var typeID int
		if err := rows.Scan(&d.ID, &d.JID, &d.Title, &typeID, &d.UnreadCount, &d.LastMessageAt); err != nil {
			return nil, err
		}
		d.Type = chat.DialogTypeByID(typeID)
		out = append(out, d)
	}
	return out, rows.Err()
}

// RemoteDialog returns a cached dialog by id or ErrNotFound.
func (db *DB) RemoteDialog(ctx context.Context, id int64) (*RemoteDialog, error) {
	var d RemoteDialog
	var typeID int
	err := db.QueryRowContext(ctx, `
		SELECT id, jid, title, dialog_type_id, unread_count, last_message_at
		FROM remote_dialogs WHERE id = ?`, id).
		Scan(&d.ID, &d.JID, &d.Title, &typeID, &d.UnreadCount, &d.LastMessageAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("remote dialog %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	d.Type = chat.DialogTypeByID(typeID)
	return &d, nil
}

const remoteMessageColumns = `id, dialog_id, msg_id, sender_jid, timestamp, body, album_key, payload, deleted`

func scanRemoteMessages(rows *sql.Rows) ([]RemoteMessage, error) {
	defer func() { _ = rows.Close() }()

	var out []RemoteMessage
	for rows.Next() {
		var m RemoteMessage
		if err := rows.Scan(&m.ID, &m.DialogID, &m.MsgID, &m.SenderJID, &m.Timestamp, &m.Body, &m.AlbumKey, &m.Payload, &m.Deleted); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RemoteMessages lists live cached messages of a dialog, oldest first unless
// q.Reverse is set.
func (db *DB) RemoteMessages(ctx context.Context, dialogID int64, q RemoteQuery) ([]RemoteMessage, error) {
	conds := []string{"dialog_id = ?", "deleted = 0"}
	args := []any{dialogID}
	if q.MinID > 0 {
		conds = append(conds, "(timestamp, id) > (SELECT timestamp, id FROM remote_messages WHERE id = ?)")
		args = append(args, q.MinID)
	}
	if q.MaxID > 0 {
		conds = append(conds, "(timestamp, id) < (SELECT timestamp, id FROM remote_messages WHERE id = ?)")
		args = append(args, q.MaxID)
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		conds = append(conds, "body LIKE '%' || ? || '%'")
		args = append(args, search)
	}

	query := `SELECT ` + remoteMessageColumns + ` FROM remote_messages WHERE ` + strings.Join(conds, " AND ")
	if q.Reverse {
		query += " ORDER BY timestamp DESC, id DESC"
	} else {
		query += " ORDER BY timestamp ASC, id ASC"
	}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("remote messages: %w", err)
	}
	return scanRemoteMessages(rows)
}

// RemoteMessagesByID returns the live cached messages of a dialog with the given ids.
func (db *DB) RemoteMessagesByID(ctx context.Context, dialogID int64, ids []int64) ([]RemoteMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := []any{dialogID}
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := db.QueryContext(ctx, `SELECT `+remoteMessageColumns+` FROM remote_messages
		WHERE dialog_id = ? AND deleted = 0 AND id IN (`+strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")+`)
		ORDER BY timestamp, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("remote messages by id: %w", err)
	}
	return scanRemoteMessages(rows)
}

// RemoteMessageIDAt returns the id of the last message before ts, or of the
// first message at or after ts when after is set. It returns 0 if none exists.
func (db *DB) RemoteMessageIDAt(ctx context.Context, dialogID, ts int64, after bool) (int64, error) {
	query := `SELECT id FROM remote_messages WHERE dialog_id = ? AND timestamp < ? ORDER BY timestamp DESC, id DESC LIMIT 1`
	if after {
		query = `SELECT id FROM remote_messages WHERE dialog_id = ? AND timestamp >= ? ORDER BY timestamp ASC, id ASC LIMIT 1`
	}
	var id int64
	err := db.QueryRowContext(ctx, query, dialogID, ts).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("message id at: %w", err)
	}
	return id, nil
}

// SetCheckpoint stores a sync checkpoint value.
func (db *DB) SetCheckpoint(ctx context.Context, key, value string) error {
	return setCheckpoint(ctx, db, key, value)
}

// SetCheckpoint is the transactional form of DB.SetCheckpoint.
func (tx *Tx) SetCheckpoint(key, value string) error {
	return setCheckpoint(tx.ctx, tx.tx, key, value)
}

func setCheckpoint(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set checkpoint %s: %w", key, err)
	}
	return nil
}

// Checkpoint returns a sync checkpoint value, or "" if unset.
func (db *DB) Checkpoint(ctx context.Context, key string) (string, error) {
	return checkpoint(ctx, db, key)
}

// Checkpoint is the transactional form of DB.Checkpoint.
func (tx *Tx) Checkpoint(key string) (string, error) {
	return checkpoint(tx.ctx, tx.tx, key)
}

func checkpoint(ctx context.Context, q querier, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("checkpoint %s: %w", key, err)
	}
	return value, nil
}
