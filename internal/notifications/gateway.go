package notifications

import (
	"context"
	"log"
	"time"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/telemetry"
)

// RoutingKey is the binding downstream notification consumers listen on.
const RoutingKey = "notifications.message"

const previewRunes = 140

// Job is the durable payload handed to the notification workers, which create
// notification records and push them out of band.
type Job struct {
	SchemaVersion    int       `json:"schema_version"`
	ConversationID   int       `json:"conversation_id"`
	ConversationType string    `json:"conversation_type"`
	ConversationName string    `json:"conversation_name,omitempty"`
	MessageID        int       `json:"message_id"`
	SenderID         int       `json:"sender_id"`
	Preview          string    `json:"preview"`
	Mentioned        []int     `json:"mentioned,omitempty"`
	TargetUserIDs    []int     `json:"target_user_ids"`
	SentAt           time.Time `json:"sent_at"`
}

// Gateway decides who needs an offline notification for a stored message and
// publishes one durable job for the lot. Publish failures are logged and
// counted, never surfaced to the send path.
type Gateway struct {
	tracker   presence.Tracker
	publisher telemetry.Publisher
}

// NewGateway constructs a Gateway.
func NewGateway(tracker presence.Tracker, publisher telemetry.Publisher) *Gateway {
	return &Gateway{tracker: tracker, publisher: publisher}
}

// Notify filters the recipients and queues the notification job. A recipient
// is eligible when they are offline or mentioned, and not muted; a mention
// overrides both liveness and mute.
func (g *Gateway) Notify(ctx context.Context, conv models.Conversation, msg models.Message, targets []models.InboxTarget) {
	if g == nil || g.publisher == nil || len(targets) == 0 {
		return
	}

	ids := make([]int, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.UserID)
	}
	liveness, err := g.tracker.GetMany(ctx, ids)
	if err != nil {
		// treat everyone as offline rather than dropping the job
		log.Printf("notification presence lookup failed: %v", err)
		liveness = map[int]models.Presence{}
	}

	now := time.Now().UTC()
	eligible := make([]int, 0, len(targets))
	for _, t := range targets {
		mentioned := msg.Mentions.Contains(t.UserID)
		if t.MutedAt(now) && !mentioned {
			continue
		}
		if liveness[t.UserID].Online() && !mentioned {
			continue
		}
		eligible = append(eligible, t.UserID)
	}
	if len(eligible) == 0 {
		return
	}

	job := Job{
		SchemaVersion:    1,
		ConversationID:   conv.ID,
		ConversationType: conv.Type,
		ConversationName: conv.Name,
		MessageID:        msg.ID,
		SenderID:         msg.SenderID,
		Preview:          preview(msg),
		Mentioned:        []int(msg.Mentions),
		TargetUserIDs:    eligible,
		SentAt:           msg.CreatedAt,
	}
	if err := g.publisher.Publish(ctx, RoutingKey, job); err != nil {
		log.Printf("notification publish failed: message=%d err=%v", msg.ID, err)
		return
	}
	observability.IncNotificationJob(len(eligible))
}

func preview(msg models.Message) string {
	if msg.Content != "" {
		runes := []rune(msg.Content)
		if len(runes) > previewRunes {
			return string(runes[:previewRunes])
		}
		return msg.Content
	}
	if len(msg.Attachments) > 0 {
		return "sent an attachment"
	}
	return ""
}
