package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, conversation_id, sender_id, content, attachments, reply_to_id,
    forward_info, mentions, status, is_edited, edit_history, is_pinned, created_at, edited_at`

// MessageRepository abstracts message persistence and read tracking.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, []models.InboxTarget, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	ListMessages(ctx context.Context, conversationID int, limit int, offset int, ascending bool) ([]models.Message, int, error)
	MessageContext(ctx context.Context, conversationID int, messageID int, radius int) ([]models.Message, error)
	UpdateContent(ctx context.Context, messageID int, content string) (models.Message, error)
	Retract(ctx context.Context, messageID int) (models.Message, error)
	MarkDelivered(ctx context.Context, messageID int) error
	MarkRead(ctx context.Context, conversationID int, userID int, upTo int) (int, int, error)
	AddReaction(ctx context.Context, messageID int, userID int, emoji string) ([]models.Reaction, error)
	RemoveReaction(ctx context.Context, messageID int, userID int, emoji string) ([]models.Reaction, error)
	SetPinned(ctx context.Context, messageID int, pinned bool) (models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message and applies every side effect of a send in one
// transaction: conversation preview and counters, one unread increment per
// recipient, and the sender's read pointer. Returns the stored message plus the
// per-recipient mute state used for notification filtering.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, []models.InboxTarget, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = tx.QueryRowxContext(ctx, `INSERT INTO messages
        (conversation_id, sender_id, content, attachments, reply_to_id, forward_info, mentions, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, status, is_edited, is_pinned, created_at`,
		msg.ConversationID, msg.SenderID, msg.Content, msg.Attachments, msg.ReplyToID, msg.ForwardInfo, msg.Mentions, models.MessageSent).
		Scan(&msg.ID, &msg.Status, &msg.IsEdited, &msg.IsPinned, &msg.CreatedAt); err != nil {
		return models.Message{}, nil, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE conversations
        SET last_message_id=$2, total_messages=total_messages+1, last_activity=$3
        WHERE id=$1`, msg.ConversationID, msg.ID, msg.CreatedAt); err != nil {
		return models.Message{}, nil, err
	}

	// one unread per recipient, entries created on demand
	if _, err = tx.ExecContext(ctx, `INSERT INTO inbox_entries (user_id, conversation_id, unread_count)
        SELECT user_id, $1, 1 FROM conversation_members WHERE conversation_id=$1 AND user_id <> $2
        ON CONFLICT (user_id, conversation_id) DO UPDATE SET unread_count = inbox_entries.unread_count + 1`,
		msg.ConversationID, msg.SenderID); err != nil {
		return models.Message{}, nil, err
	}

	// the sender has read everything up to their own message
	if _, err = tx.ExecContext(ctx, `INSERT INTO inbox_entries (user_id, conversation_id, unread_count, last_read_message_id)
        VALUES ($2, $1, 0, $3)
        ON CONFLICT (user_id, conversation_id) DO UPDATE SET unread_count = 0, last_read_message_id = $3`,
		msg.ConversationID, msg.SenderID, msg.ID); err != nil {
		return models.Message{}, nil, err
	}

	var targets []models.InboxTarget
	if err = tx.SelectContext(ctx, &targets, `SELECT user_id, is_muted, muted_until FROM inbox_entries
        WHERE conversation_id=$1 AND user_id <> $2 ORDER BY user_id`, msg.ConversationID, msg.SenderID); err != nil {
		return models.Message{}, nil, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, nil, err
	}
	return msg, targets, nil
}

// GetMessage retrieves a single message with its reactions and read receipts.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	one := []models.Message{msg}
	if err := r.hydrate(ctx, one); err != nil {
		return models.Message{}, err
	}
	return one[0], nil
}

// ListMessages returns one page of conversation messages and the total count.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID int, limit int, offset int, ascending bool) ([]models.Message, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages WHERE conversation_id=$1`, conversationID); err != nil {
		return nil, 0, err
	}

	order := "DESC"
	if ascending {
		order = "ASC"
	}
	var msgs []models.Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id=$1 ORDER BY id ` + order + ` LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &msgs, query, conversationID, limit, offset); err != nil {
		return nil, 0, err
	}
	if err := r.hydrate(ctx, msgs); err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// MessageContext returns the window of messages around an anchor, oldest first.
func (r *MessageRepo) MessageContext(ctx context.Context, conversationID int, messageID int, radius int) ([]models.Message, error) {
	var before []models.Message
	if err := r.db.SelectContext(ctx, &before, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1 AND id <= $2 ORDER BY id DESC LIMIT $3`, conversationID, messageID, radius+1); err != nil {
		return nil, err
	}
	var after []models.Message
	if err := r.db.SelectContext(ctx, &after, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1 AND id > $2 ORDER BY id ASC LIMIT $3`, conversationID, messageID, radius); err != nil {
		return nil, err
	}

	msgs := make([]models.Message, 0, len(before)+len(after))
	for i := len(before) - 1; i >= 0; i-- {
		msgs = append(msgs, before[i])
	}
	msgs = append(msgs, after...)
	if err := r.hydrate(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// UpdateContent replaces the message body, pushing the previous revision onto
// the edit history.
func (r *MessageRepo) UpdateContent(ctx context.Context, messageID int, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages SET
            edit_history = edit_history || jsonb_build_array(jsonb_build_object('content', content, 'edited_at', NOW())),
            content = $2, is_edited = TRUE, edited_at = NOW()
        WHERE id=$1 AND status <> 'deleted'
        RETURNING `+messageColumns, messageID, content).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// Retract blanks a message and marks it deleted while keeping the row so
// history and ordering stay intact.
func (r *MessageRepo) Retract(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages SET
            status='deleted', content='', attachments='[]'::jsonb, mentions='[]'::jsonb,
            edit_history='[]'::jsonb, is_edited=FALSE, edited_at=NULL, is_pinned=FALSE
        WHERE id=$1 AND status <> 'deleted'
        RETURNING `+messageColumns, messageID).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkDelivered advances a freshly sent message to delivered.
func (r *MessageRepo) MarkDelivered(ctx context.Context, messageID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET status='delivered' WHERE id=$1 AND status='sent'`, messageID)
	return err
}

// MarkRead records read receipts for every unread message up to upTo (0 means
// the latest message), advances the reader's pointer and recomputes their
// unread count, all in one transaction. Returns the resolved pointer and the
// number of messages newly marked read.
func (r *MessageRepo) MarkRead(ctx context.Context, conversationID int, userID int, upTo int) (int, int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	target := upTo
	if target == 0 {
		err = tx.GetContext(ctx, &target, `SELECT COALESCE(last_message_id, 0) FROM conversations WHERE id=$1`, conversationID)
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrConversationNotFound
			return 0, 0, err
		}
		if err != nil {
			return 0, 0, err
		}
	} else {
		var exists bool
		if err = tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM messages WHERE id=$1 AND conversation_id=$2)`, target, conversationID); err != nil {
			return 0, 0, err
		}
		if !exists {
			err = ErrMessageNotFound
			return 0, 0, err
		}
	}

	readCount := 0
	if target > 0 {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id)
            SELECT id, $2 FROM messages
            WHERE conversation_id=$1 AND id <= $3 AND sender_id <> $2 AND status <> 'deleted'
            ON CONFLICT (message_id, user_id) DO NOTHING`, conversationID, userID, target)
		if err != nil {
			return 0, 0, err
		}
		var affected int64
		affected, err = res.RowsAffected()
		if err != nil {
			return 0, 0, err
		}
		readCount = int(affected)

		// flip messages every recipient has now seen
		if _, err = tx.ExecContext(ctx, `UPDATE messages m SET status='read'
            WHERE m.conversation_id=$1 AND m.id <= $2 AND m.status IN ('sent', 'delivered')
            AND NOT EXISTS (
                SELECT 1 FROM conversation_members cm
                WHERE cm.conversation_id = m.conversation_id AND cm.user_id <> m.sender_id
                AND NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id = m.id AND mr.user_id = cm.user_id))`,
			conversationID, target); err != nil {
			return 0, 0, err
		}
	}

	if _, err = tx.ExecContext(ctx, `UPDATE inbox_entries SET
            unread_count = (SELECT COUNT(*) FROM messages m
                WHERE m.conversation_id=$2 AND m.id > $3 AND m.sender_id <> $1 AND m.status <> 'deleted'),
            last_read_message_id = CASE WHEN $3 = 0 THEN last_read_message_id
                ELSE GREATEST(COALESCE(last_read_message_id, 0), $3) END
        WHERE user_id=$1 AND conversation_id=$2`, userID, conversationID, target); err != nil {
		return 0, 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, err
	}
	return target, readCount, nil
}

// AddReaction records a reaction and returns the message's aggregated reactions.
func (r *MessageRepo) AddReaction(ctx context.Context, messageID int, userID int, emoji string) ([]models.Reaction, error) {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
        ON CONFLICT DO NOTHING`, messageID, userID, emoji)
	if err != nil {
		return nil, err
	}
	return r.reactionsFor(ctx, messageID)
}

// RemoveReaction deletes a reaction and returns the message's aggregated reactions.
func (r *MessageRepo) RemoveReaction(ctx context.Context, messageID int, userID int, emoji string) ([]models.Reaction, error) {
	_, err := r.db.ExecContext(ctx, `DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3`, messageID, userID, emoji)
	if err != nil {
		return nil, err
	}
	return r.reactionsFor(ctx, messageID)
}

// SetPinned toggles the pinned flag on a message.
func (r *MessageRepo) SetPinned(ctx context.Context, messageID int, pinned bool) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages SET is_pinned=$2 WHERE id=$1 AND status <> 'deleted' RETURNING `+messageColumns,
		messageID, pinned).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

func (r *MessageRepo) reactionsFor(ctx context.Context, messageID int) ([]models.Reaction, error) {
	type row struct {
		UserID int    `db:"user_id"`
		Emoji  string `db:"emoji"`
	}
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, `SELECT user_id, emoji FROM message_reactions WHERE message_id=$1 ORDER BY emoji, user_id`, messageID); err != nil {
		return nil, err
	}
	reactions := make([]models.Reaction, 0, len(rows))
	for _, rr := range rows {
		if n := len(reactions); n > 0 && reactions[n-1].Emoji == rr.Emoji {
			reactions[n-1].UserIDs = append(reactions[n-1].UserIDs, rr.UserID)
			continue
		}
		reactions = append(reactions, models.Reaction{Emoji: rr.Emoji, UserIDs: []int{rr.UserID}})
	}
	return reactions, nil
}

func (r *MessageRepo) hydrate(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int, 0, len(msgs))
	index := make(map[int]*models.Message, len(msgs))
	for i := range msgs {
		ids = append(ids, msgs[i].ID)
		index[msgs[i].ID] = &msgs[i]
	}

	type reactionRow struct {
		MessageID int    `db:"message_id"`
		UserID    int    `db:"user_id"`
		Emoji     string `db:"emoji"`
	}
	var reactions []reactionRow
	if err := r.db.SelectContext(ctx, &reactions, `SELECT message_id, user_id, emoji FROM message_reactions
        WHERE message_id = ANY($1) ORDER BY message_id, emoji, user_id`, pq.Array(ids)); err != nil {
		return err
	}
	for _, rr := range reactions {
		msg := index[rr.MessageID]
		if n := len(msg.Reactions); n > 0 && msg.Reactions[n-1].Emoji == rr.Emoji {
			msg.Reactions[n-1].UserIDs = append(msg.Reactions[n-1].UserIDs, rr.UserID)
			continue
		}
		msg.Reactions = append(msg.Reactions, models.Reaction{Emoji: rr.Emoji, UserIDs: []int{rr.UserID}})
	}

	var reads []models.ReadReceipt
	if err := r.db.SelectContext(ctx, &reads, `SELECT message_id, user_id, read_at FROM message_reads
        WHERE message_id = ANY($1) ORDER BY message_id, read_at, user_id`, pq.Array(ids)); err != nil {
		return err
	}
	for _, rr := range reads {
		index[rr.MessageID].ReadBy = append(index[rr.MessageID].ReadBy, rr)
	}
	return nil
}
