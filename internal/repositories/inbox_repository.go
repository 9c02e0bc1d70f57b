package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/models"
)

var ErrInboxEntryNotFound = errors.New("inbox entry not found")

const inboxColumns = `user_id, conversation_id, unread_count, last_read_message_id,
    is_pinned, is_muted, muted_until, created_at`

// InboxRepository abstracts the per-user conversation projection.
type InboxRepository interface {
	ListRecent(ctx context.Context, userID int, limit int, offset int) ([]models.InboxView, int, error)
	GetEntry(ctx context.Context, userID int, conversationID int) (models.InboxEntry, error)
	UpdatePrefs(ctx context.Context, userID int, conversationID int, pinned *bool, muted *bool, mutedUntil *time.Time) (models.InboxEntry, error)
}

// InboxRepo is a sqlx implementation of InboxRepository.
type InboxRepo struct {
	db *sqlx.DB
}

// NewInboxRepo constructs an InboxRepo.
func NewInboxRepo(db *sqlx.DB) *InboxRepo {
	return &InboxRepo{db: db}
}

// ListRecent returns one page of the user's conversation list, pinned entries
// first, then most recent activity.
func (r *InboxRepo) ListRecent(ctx context.Context, userID int, limit int, offset int) ([]models.InboxView, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM inbox_entries WHERE user_id=$1`, userID); err != nil {
		return nil, 0, err
	}

	query := `SELECT ie.conversation_id, c.type, c.name, c.group_image, c.status,
            ie.unread_count, ie.last_read_message_id, ie.is_pinned, ie.is_muted, ie.muted_until,
            c.last_activity,
            m.id, m.sender_id, m.content, m.status, m.created_at
        FROM inbox_entries ie
        INNER JOIN conversations c ON c.id = ie.conversation_id
        LEFT JOIN messages m ON m.id = c.last_message_id
        WHERE ie.user_id=$1
        ORDER BY ie.is_pinned DESC, c.last_activity DESC, c.id DESC
        LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryxContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var views []models.InboxView
	for rows.Next() {
		var v models.InboxView
		var lastRead sql.NullInt64
		var mutedUntil sql.NullTime
		var pid, psender sql.NullInt64
		var pcontent, pstatus sql.NullString
		var pcreated sql.NullTime
		if err := rows.Scan(&v.ConversationID, &v.Type, &v.Name, &v.GroupImage, &v.Status,
			&v.UnreadCount, &lastRead, &v.IsPinned, &v.IsMuted, &mutedUntil,
			&v.LastActivity,
			&pid, &psender, &pcontent, &pstatus, &pcreated); err != nil {
			return nil, 0, err
		}
		if lastRead.Valid {
			id := int(lastRead.Int64)
			v.LastReadMessageID = &id
		}
		if mutedUntil.Valid {
			t := mutedUntil.Time
			v.MutedUntil = &t
		}
		if pid.Valid {
			v.LastMessage = &models.MessagePreview{
				ID:        int(pid.Int64),
				SenderID:  int(psender.Int64),
				Content:   pcontent.String,
				Status:    pstatus.String,
				CreatedAt: pcreated.Time,
			}
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if err := r.fillParticipants(ctx, views); err != nil {
		return nil, 0, err
	}
	return views, total, nil
}

// GetEntry fetches the user's inbox row for one conversation.
func (r *InboxRepo) GetEntry(ctx context.Context, userID int, conversationID int) (models.InboxEntry, error) {
	var entry models.InboxEntry
	err := r.db.GetContext(ctx, &entry, `SELECT `+inboxColumns+` FROM inbox_entries WHERE user_id=$1 AND conversation_id=$2`, userID, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.InboxEntry{}, ErrInboxEntryNotFound
	}
	return entry, err
}

// UpdatePrefs applies a partial update of pin and mute settings. Unsetting mute
// also clears muted_until.
func (r *InboxRepo) UpdatePrefs(ctx context.Context, userID int, conversationID int, pinned *bool, muted *bool, mutedUntil *time.Time) (models.InboxEntry, error) {
	var entry models.InboxEntry
	err := r.db.QueryRowxContext(ctx, `UPDATE inbox_entries SET
            is_pinned = COALESCE($3, is_pinned),
            is_muted = COALESCE($4, is_muted),
            muted_until = CASE WHEN $4 IS NULL THEN muted_until WHEN $4 = FALSE THEN NULL ELSE $5 END
        WHERE user_id=$1 AND conversation_id=$2
        RETURNING `+inboxColumns, userID, conversationID, pinned, muted, mutedUntil).StructScan(&entry)
	if errors.Is(err, sql.ErrNoRows) {
		return models.InboxEntry{}, ErrInboxEntryNotFound
	}
	return entry, err
}

func (r *InboxRepo) fillParticipants(ctx context.Context, views []models.InboxView) error {
	if len(views) == 0 {
		return nil
	}
	ids := make([]int, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.ConversationID)
	}
	type memberRow struct {
		ConversationID int `db:"conversation_id"`
		UserID         int `db:"user_id"`
	}
	var members []memberRow
	if err := r.db.SelectContext(ctx, &members, `SELECT conversation_id, user_id FROM conversation_members
        WHERE conversation_id = ANY($1) ORDER BY conversation_id, user_id`, pq.Array(ids)); err != nil {
		return err
	}
	byConv := make(map[int][]int, len(ids))
	for _, m := range members {
		byConv[m.ConversationID] = append(byConv[m.ConversationID], m.UserID)
	}
	for i := range views {
		views[i].Participants = byConv[views[i].ConversationID]
	}
	return nil
}
