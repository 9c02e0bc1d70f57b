package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotMember            = errors.New("user is not a conversation member")
)

const conversationColumns = `id, type, name, description, group_image, direct_key,
    last_message_id, total_messages, last_activity, status, created_at`

const memberColumns = `conversation_id, user_id, role, joined_at`

// ConversationRepository abstracts conversation and membership persistence.
type ConversationRepository interface {
	CreateDirect(ctx context.Context, userID int, otherID int) (models.ConversationView, bool, error)
	CreateGroup(ctx context.Context, ownerID int, name string, description string, groupImage string, memberIDs []int) (models.ConversationView, error)
	GetConversation(ctx context.Context, conversationID int) (models.Conversation, error)
	GetView(ctx context.Context, conversationID int) (models.ConversationView, error)
	ListForUser(ctx context.Context, userID int) ([]models.ConversationView, error)
	GetMember(ctx context.Context, conversationID int, userID int) (models.Member, error)
	IsMember(ctx context.Context, conversationID int, userID int) (bool, error)
	MemberIDs(ctx context.Context, conversationID int) ([]int, error)
	ConversationIDsForUser(ctx context.Context, userID int) ([]int, error)
	CoMemberIDs(ctx context.Context, userID int) ([]int, error)
	AddMembers(ctx context.Context, conversationID int, userIDs []int) ([]models.Member, error)
	RemoveMember(ctx context.Context, conversationID int, userID int) error
	SetStatus(ctx context.Context, conversationID int, status string) error
	Delete(ctx context.Context, conversationID int) ([]int, int, error)
	ClearHistory(ctx context.Context, conversationID int) (int, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// directKey builds the canonical pair key for a direct conversation.
func directKey(userID, otherID int) string {
	if otherID < userID {
		userID, otherID = otherID, userID
	}
	return fmt.Sprintf("%d:%d", userID, otherID)
}

// CreateDirect returns the direct conversation between the pair, creating it if
// absent. The second return value reports whether a new conversation was created.
func (r *ConversationRepo) CreateDirect(ctx context.Context, userID int, otherID int) (models.ConversationView, bool, error) {
	key := directKey(userID, otherID)

	existing, err := r.getByDirectKey(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.ConversationView{}, false, err
	}

	view, err := r.insertDirect(ctx, key, userID, otherID)
	if err != nil {
		// lost the race against a concurrent create for the same pair
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			existing, selErr := r.getByDirectKey(ctx, key)
			if selErr != nil {
				return models.ConversationView{}, false, selErr
			}
			return existing, false, nil
		}
		return models.ConversationView{}, false, err
	}
	return view, true, nil
}

func (r *ConversationRepo) getByDirectKey(ctx context.Context, key string) (models.ConversationView, error) {
	var conv models.Conversation
	if err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE direct_key=$1`, key); err != nil {
		return models.ConversationView{}, err
	}
	members, err := r.membersFor(ctx, []int{conv.ID})
	if err != nil {
		return models.ConversationView{}, err
	}
	return models.ConversationView{Conversation: conv, Members: members[conv.ID]}, nil
}

func (r *ConversationRepo) insertDirect(ctx context.Context, key string, userID int, otherID int) (models.ConversationView, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.ConversationView{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var conv models.Conversation
	if err = tx.QueryRowxContext(ctx, `INSERT INTO conversations (type, direct_key) VALUES ($1, $2) RETURNING `+conversationColumns,
		models.ConversationDirect, key).StructScan(&conv); err != nil {
		return models.ConversationView{}, err
	}

	view := models.ConversationView{Conversation: conv}
	for _, id := range []int{userID, otherID} {
		var m models.Member
		if err = tx.QueryRowxContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id, role) VALUES ($1, $2, $3) RETURNING `+memberColumns,
			conv.ID, id, models.RoleMember).StructScan(&m); err != nil {
			return models.ConversationView{}, err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO inbox_entries (user_id, conversation_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, conv.ID); err != nil {
			return models.ConversationView{}, err
		}
		view.Members = append(view.Members, m)
	}

	if err = tx.Commit(); err != nil {
		return models.ConversationView{}, err
	}
	return view, nil
}

// CreateGroup creates a group conversation with its members and inbox entries atomically.
func (r *ConversationRepo) CreateGroup(ctx context.Context, ownerID int, name string, description string, groupImage string, memberIDs []int) (models.ConversationView, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.ConversationView{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var conv models.Conversation
	if err = tx.QueryRowxContext(ctx, `INSERT INTO conversations (type, name, description, group_image) VALUES ($1, $2, $3, $4) RETURNING `+conversationColumns,
		models.ConversationGroup, name, description, groupImage).StructScan(&conv); err != nil {
		return models.ConversationView{}, err
	}

	// dedupe members, owner always included
	memberSet := map[int]struct{}{}
	for _, id := range memberIDs {
		if id != ownerID {
			memberSet[id] = struct{}{}
		}
	}
	ids := make([]int, 0, len(memberSet))
	for id := range memberSet {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	view := models.ConversationView{Conversation: conv}
	all := append([]int{ownerID}, ids...)
	for i, id := range all {
		role := models.RoleMember
		if i == 0 {
			role = models.RoleOwner
		}
		var m models.Member
		if err = tx.QueryRowxContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id, role) VALUES ($1, $2, $3) RETURNING `+memberColumns,
			conv.ID, id, role).StructScan(&m); err != nil {
			return models.ConversationView{}, err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO inbox_entries (user_id, conversation_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, conv.ID); err != nil {
			return models.ConversationView{}, err
		}
		view.Members = append(view.Members, m)
	}

	if err = tx.Commit(); err != nil {
		return models.ConversationView{}, err
	}
	return view, nil
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// GetView fetches a conversation together with its participant list.
func (r *ConversationRepo) GetView(ctx context.Context, conversationID int) (models.ConversationView, error) {
	conv, err := r.GetConversation(ctx, conversationID)
	if err != nil {
		return models.ConversationView{}, err
	}
	members, err := r.membersFor(ctx, []int{conv.ID})
	if err != nil {
		return models.ConversationView{}, err
	}
	return models.ConversationView{Conversation: conv, Members: members[conv.ID]}, nil
}

// ListForUser returns conversations that include the user, most recent activity first.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID int) ([]models.ConversationView, error) {
	var convs []models.Conversation
	query := `SELECT c.id, c.type, c.name, c.description, c.group_image, c.direct_key,
            c.last_message_id, c.total_messages, c.last_activity, c.status, c.created_at
        FROM conversations c
        INNER JOIN conversation_members cm ON cm.conversation_id = c.id
        WHERE cm.user_id=$1
        ORDER BY c.last_activity DESC, c.id DESC`
	if err := r.db.SelectContext(ctx, &convs, query, userID); err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	members, err := r.membersFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]models.ConversationView, 0, len(convs))
	for _, c := range convs {
		views = append(views, models.ConversationView{Conversation: c, Members: members[c.ID]})
	}
	return views, nil
}

// GetMember fetches the membership row for a user.
func (r *ConversationRepo) GetMember(ctx context.Context, conversationID int, userID int) (models.Member, error) {
	var m models.Member
	err := r.db.GetContext(ctx, &m, `SELECT `+memberColumns+` FROM conversation_members WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Member{}, ErrNotMember
	}
	return m, err
}

// IsMember checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsMember(ctx context.Context, conversationID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id=$1 AND user_id=$2)`, conversationID, userID)
	return exists, err
}

// MemberIDs returns the participant user ids of a conversation.
func (r *ConversationRepo) MemberIDs(ctx context.Context, conversationID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM conversation_members WHERE conversation_id=$1 ORDER BY user_id`, conversationID)
	return ids, err
}

// ConversationIDsForUser returns the ids of every conversation the user belongs to.
func (r *ConversationRepo) ConversationIDsForUser(ctx context.Context, userID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT conversation_id FROM conversation_members WHERE user_id=$1 ORDER BY conversation_id`, userID)
	return ids, err
}

// CoMemberIDs returns the distinct users sharing at least one conversation with userID.
func (r *ConversationRepo) CoMemberIDs(ctx context.Context, userID int) ([]int, error) {
	var ids []int
	query := `SELECT DISTINCT other.user_id FROM conversation_members own
        INNER JOIN conversation_members other ON other.conversation_id = own.conversation_id
        WHERE own.user_id=$1 AND other.user_id <> $1
        ORDER BY other.user_id`
	err := r.db.SelectContext(ctx, &ids, query, userID)
	return ids, err
}

// AddMembers inserts the given users as members, skipping existing ones, and
// returns the members that were actually added.
func (r *ConversationRepo) AddMembers(ctx context.Context, conversationID int, userIDs []int) ([]models.Member, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	added := make([]models.Member, 0, len(userIDs))
	for _, id := range userIDs {
		var m models.Member
		err = tx.QueryRowxContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id, role) VALUES ($1, $2, $3)
            ON CONFLICT (conversation_id, user_id) DO NOTHING
            RETURNING `+memberColumns, conversationID, id, models.RoleMember).StructScan(&m)
		if errors.Is(err, sql.ErrNoRows) {
			// already a member
			err = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO inbox_entries (user_id, conversation_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, conversationID); err != nil {
			return nil, err
		}
		added = append(added, m)
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return added, nil
}

// RemoveMember deletes a membership together with the user's inbox entry.
func (r *ConversationRepo) RemoveMember(ctx context.Context, conversationID int, userID int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversation_members WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		err = ErrNotMember
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM inbox_entries WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetStatus updates the conversation lifecycle status.
func (r *ConversationRepo) SetStatus(ctx context.Context, conversationID int, status string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET status=$2 WHERE id=$1`, conversationID, status)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// Delete removes the conversation and everything hanging off it. Returns the
// member ids that lost access and the number of messages purged by the cascade.
func (r *ConversationRepo) Delete(ctx context.Context, conversationID int) ([]int, int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var memberIDs []int
	if err = tx.SelectContext(ctx, &memberIDs, `SELECT user_id FROM conversation_members WHERE conversation_id=$1 ORDER BY user_id`, conversationID); err != nil {
		return nil, 0, err
	}
	var messageCount int
	if err = tx.GetContext(ctx, &messageCount, `SELECT COUNT(*) FROM messages WHERE conversation_id=$1`, conversationID); err != nil {
		return nil, 0, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, conversationID)
	if err != nil {
		return nil, 0, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return nil, 0, err
	}
	if count == 0 {
		err = ErrConversationNotFound
		return nil, 0, err
	}

	if err = tx.Commit(); err != nil {
		return nil, 0, err
	}
	return memberIDs, messageCount, nil
}

// ClearHistory deletes every message and resets counters while keeping the
// conversation and its membership intact. Returns the number of messages removed.
func (r *ConversationRepo) ClearHistory(ctx context.Context, conversationID int) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id=$1`, conversationID)
	if err != nil {
		return 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE conversations SET last_message_id=NULL, total_messages=0 WHERE id=$1`, conversationID); err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE inbox_entries SET unread_count=0, last_read_message_id=NULL WHERE conversation_id=$1`, conversationID); err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return int(removed), nil
}

func (r *ConversationRepo) membersFor(ctx context.Context, conversationIDs []int) (map[int][]models.Member, error) {
	byConv := make(map[int][]models.Member, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return byConv, nil
	}
	var rows []models.Member
	err := r.db.SelectContext(ctx, &rows, `SELECT `+memberColumns+` FROM conversation_members
        WHERE conversation_id = ANY($1) ORDER BY conversation_id, joined_at, user_id`, pq.Array(conversationIDs))
	if err != nil {
		return nil, err
	}
	for _, m := range rows {
		byConv[m.ConversationID] = append(byConv[m.ConversationID], m)
	}
	return byConv, nil
}
