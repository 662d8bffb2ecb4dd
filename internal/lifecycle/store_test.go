package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/schoolcms/internal/db"
)

var ErrDatabaseError = errors.New("database error")

// memStore mirrors the SQL predicates of db.Repository over in-memory rows.
type memStore struct {
	announcements map[int64]*db.Announcement
	events        map[int64]*db.Event
	notifications []*db.Notification

	clock func() time.Time

	failSelect bool
	failCreate bool
	failUpdate bool
}

func newMemStore(clock func() time.Time) *memStore {
	return &memStore{
		announcements: make(map[int64]*db.Announcement),
		events:        make(map[int64]*db.Event),
		clock:         clock,
	}
}

func (m *memStore) addAnnouncement(a *db.Announcement) { m.announcements[a.ID] = a }
func (m *memStore) addEvent(e *db.Event)               { m.events[e.ID] = e }

func (m *memStore) sortedAnnouncements(match func(*db.Announcement) bool) ([]*db.Announcement, error) {
	if m.failSelect {
		return nil, ErrDatabaseError
	}
	var out []*db.Announcement
	for _, a := range m.announcements {
		if match(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) sortedEvents(match func(*db.Event) bool) ([]*db.Event, error) {
	if m.failSelect {
		return nil, ErrDatabaseError
	}
	var out []*db.Event
	for _, e := range m.events {
		if match(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func duePublish(a *db.Announcement, now time.Time) bool {
	return (a.Status == db.AnnouncementDraft || a.Status == db.AnnouncementScheduled) &&
		a.ScheduledPublishAt != nil && !a.ScheduledPublishAt.After(now)
}

func dueUnpublish(a *db.Announcement, now time.Time) bool {
	return a.Status == db.AnnouncementPublished &&
		a.ScheduledUnpublishAt != nil && !a.ScheduledUnpublishAt.After(now)
}

func between(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

func (m *memStore) AnnouncementsDueForPublish(ctx context.Context, now time.Time) ([]*db.Announcement, error) {
	return m.sortedAnnouncements(func(a *db.Announcement) bool { return duePublish(a, now) })
}

func (m *memStore) AnnouncementsDueForUnpublish(ctx context.Context, now time.Time) ([]*db.Announcement, error) {
	return m.sortedAnnouncements(func(a *db.Announcement) bool { return dueUnpublish(a, now) })
}

func (m *memStore) AnnouncementsExpiringBetween(ctx context.Context, from, to time.Time) ([]*db.Announcement, error) {
	return m.sortedAnnouncements(func(a *db.Announcement) bool {
		return a.Status == db.AnnouncementPublished && a.ScheduledUnpublishAt != nil && between(*a.ScheduledUnpublishAt, from, to)
	})
}

func (m *memStore) PublishAnnouncement(ctx context.Context, id int64, now time.Time) (bool, error) {
	if m.failUpdate {
		return false, ErrDatabaseError
	}
	a, ok := m.announcements[id]
	if !ok || !duePublish(a, now) {
		return false, nil
	}
	publishedAt := now
	a.Status = db.AnnouncementPublished
	a.PublishedAt = &publishedAt
	a.ScheduledPublishAt = nil
	return true, nil
}

func (m *memStore) ArchiveAnnouncement(ctx context.Context, id int64, now time.Time) (bool, error) {
	if m.failUpdate {
		return false, ErrDatabaseError
	}
	a, ok := m.announcements[id]
	if !ok || !dueUnpublish(a, now) {
		return false, nil
	}
	a.Status = db.AnnouncementArchived
	a.ScheduledUnpublishAt = nil
	return true, nil
}

func (m *memStore) ExpiredActiveEvents(ctx context.Context, now time.Time) ([]*db.Event, error) {
	return m.sortedEvents(func(e *db.Event) bool { return e.IsActive && e.EndDate.Before(now) })
}

func (m *memStore) EventsStartingBetween(ctx context.Context, from, to time.Time) ([]*db.Event, error) {
	return m.sortedEvents(func(e *db.Event) bool {
		return e.IsActive && e.StartDate.After(from) && !e.StartDate.After(to)
	})
}

func (m *memStore) EventsEndingBetween(ctx context.Context, from, to time.Time) ([]*db.Event, error) {
	return m.sortedEvents(func(e *db.Event) bool { return e.IsActive && between(e.EndDate, from, to) })
}

func (m *memStore) DeactivateEvent(ctx context.Context, id int64, now time.Time) (bool, error) {
	if m.failUpdate {
		return false, ErrDatabaseError
	}
	e, ok := m.events[id]
	if !ok || !e.IsActive || !e.EndDate.Before(now) {
		return false, nil
	}
	e.IsActive = false
	return true, nil
}

func (m *memStore) CreateNotification(ctx context.Context, typ, title, message string, data json.RawMessage) (*db.Notification, error) {
	if m.failCreate {
		return nil, ErrDatabaseError
	}
	notif := &db.Notification{
		ID:        uuid.New(),
		Type:      typ,
		Title:     title,
		Message:   message,
		Data:      data,
		CreatedAt: m.clock(),
	}
	m.notifications = append(m.notifications, notif)
	return notif, nil
}

// NotifiedSince lets the store double as a db.HistoryChecker.
func (m *memStore) NotifiedSince(ctx context.Context, key db.FireKey, since time.Time) (bool, error) {
	for _, n := range m.notifications {
		if n.Type == key.Type && string(n.Data) == string(key.Payload()) && n.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) count(typ string, key db.FireKey) int {
	n := 0
	for _, notif := range m.notifications {
		if notif.Type == typ && string(notif.Data) == string(key.Payload()) {
			n++
		}
	}
	return n
}

// memLedger is the in-process equivalent of the Redis firing ledger.
type memLedger struct {
	fired    map[string]time.Time
	released int
	fail     bool
}

func newMemLedger() *memLedger {
	return &memLedger{fired: make(map[string]time.Time)}
}

func (l *memLedger) ShouldFire(ctx context.Context, key db.FireKey, at time.Time, window time.Duration) (bool, error) {
	if l.fail {
		return false, errors.New("ledger unavailable")
	}
	if last, ok := l.fired[key.String()]; ok && at.Sub(last) < window {
		return false, nil
	}
	l.fired[key.String()] = at
	return true, nil
}

func (l *memLedger) Release(ctx context.Context, key db.FireKey) error {
	delete(l.fired, key.String())
	l.released++
	return nil
}

type recordingRelay struct {
	relayed []*db.Notification
	err     error
}

func (r *recordingRelay) Relay(ctx context.Context, notif *db.Notification) error {
	r.relayed = append(r.relayed, notif)
	return r.err
}
