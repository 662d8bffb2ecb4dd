package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Announcement status constants
const (
	AnnouncementDraft     = "draft"
	AnnouncementScheduled = "scheduled"
	AnnouncementPublished = "published"
	AnnouncementArchived  = "archived"
)

// Notification type constants
const (
	TypeAnnouncementPublished    = "announcement_published"
	TypeAnnouncementExpired      = "announcement_expired"
	TypeAnnouncementExpiringSoon = "announcement_expiring_soon"
	TypeEventExpired             = "event_expired"
	TypeEventStartingSoon        = "event_starting_soon"
	TypeEventEndingSoon          = "event_ending_soon"
)

// NotificationTypes lists every type the lifecycle jobs write.
func NotificationTypes() []string {
	return []string{
		TypeAnnouncementPublished,
		TypeAnnouncementExpired,
		TypeAnnouncementExpiringSoon,
		TypeEventExpired,
		TypeEventStartingSoon,
		TypeEventEndingSoon,
	}
}

// Entity names used as the data payload key prefix ("<entity>_id").
const (
	EntityAnnouncement = "announcement"
	EntityEvent        = "event"
)

// Announcement is a news item on the school site.
type Announcement struct {
	ID                   int64      `json:"id"`
	Title                string     `json:"title"`
	Status               string     `json:"status"`
	ScheduledPublishAt   *time.Time `json:"scheduled_publish_at,omitempty"`
	ScheduledUnpublishAt *time.Time `json:"scheduled_unpublish_at,omitempty"`
	PublishedAt          *time.Time `json:"published_at,omitempty"`
}

// Event is a calendar entry (open day, exam week, sports day...).
type Event struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	IsActive  bool      `json:"is_active"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// Notification is an admin-dashboard alert. Rows are written once and never updated.
type Notification struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// FireKey identifies one alert condition: a notification type raised for one entity.
type FireKey struct {
	Type     string
	Entity   string
	EntityID int64
}

// DataField is the payload key that references the entity, e.g. "event_id".
func (k FireKey) DataField() string {
	return k.Entity + "_id"
}

func (k FireKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.Type, k.Entity, k.EntityID)
}

// Payload builds the notification data object for this key.
func (k FireKey) Payload() json.RawMessage {
	data, _ := json.Marshal(map[string]int64{k.DataField(): k.EntityID})
	return data
}
