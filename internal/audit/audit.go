// Package audit appends privileged control-plane mutations to a durable
// write-once log. Recording is fire-and-forget: entries are handed to a
// background writer over a buffered channel so a slow or failing log can
// never fail the action that produced the entry.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/tbellam/go-meeting/internal/database"
	"github.com/tbellam/go-meeting/internal/stats"
)

// Action kinds recorded in the audit trail.
const (
	ActionRoleChanged        = "ROLE_CHANGED"
	ActionMuteChanged        = "MUTE_CHANGED"
	ActionHandRaiseChanged   = "HAND_RAISE_CHANGED"
	ActionSpotlightChanged   = "SPOTLIGHT_CHANGED"
	ActionParticipantRemoved = "PARTICIPANT_REMOVED"
	ActionWaitingRoomAdmit   = "WAITING_ROOM_ADMITTED"
	ActionWaitingRoomReject  = "WAITING_ROOM_REJECTED"
	ActionMeetingEnded       = "MEETING_ENDED"
)

const writeTimeout = 5 * time.Second

type Recorder struct {
	log     *log.Logger
	db      database.MeetingRepository
	stats   stats.StatsProvider
	entries chan database.AuditLogEntry
	done    chan struct{}
}

func NewRecorder(logger *log.Logger, db database.MeetingRepository, sp stats.StatsProvider) *Recorder {
	sp.RegisterMetric(stats.MetricDroppedAuditEntries)

	return &Recorder{
		log:     logger,
		db:      db,
		stats:   sp,
		entries: make(chan database.AuditLogEntry, 512),
		done:    make(chan struct{}),
	}
}

// Record enqueues an entry for the background writer. It never blocks: when
// the buffer is full the entry is dropped and counted, matching the
// best-effort contract of the audit trail.
func (r *Recorder) Record(entry database.AuditLogEntry) bool {
	if entry.Id == "" {
		entry.Id = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	select {
	case r.entries <- entry:
		return true
	default:
		r.log.Printf("audit: buffer full, dropping %s entry for meeting %d", entry.Action, entry.MeetingId)
		r.stats.Incr(stats.MetricDroppedAuditEntries)
		return false
	}
}

func (r *Recorder) writeEntries() {
	defer close(r.done)

	for entry := range r.entries {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.db.CreateAuditLogEntry(ctx, entry); err != nil {
			r.log.Printf("audit: write %s entry for meeting %d: %v", entry.Action, entry.MeetingId, err)
		}
		cancel()
	}
}

func (r *Recorder) Run() {
	go r.writeEntries()
}

// Stop drains the buffer and waits for the writer to finish.
func (r *Recorder) Stop() {
	close(r.entries)
	<-r.done
}
