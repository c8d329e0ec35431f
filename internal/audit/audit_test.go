package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tbellam/go-meeting/internal/database"
	"github.com/tbellam/go-meeting/internal/stats"
	"github.com/tbellam/go-meeting/internal/testutil"
)

func newTestRecorder(t *testing.T, db database.MeetingRepository) *Recorder {
	sp := &stats.MockStatsUpdater{}
	sp.On("RegisterMetric", stats.MetricDroppedAuditEntries).Return()
	sp.On("Incr", stats.MetricDroppedAuditEntries).Return()
	return NewRecorder(testutil.TestLogger(t), db, sp)
}

func TestRecord_writesEntry(t *testing.T) {
	mockRepo := &database.MockMeetingRepository{}
	defer mockRepo.AssertExpectations(t)

	written := make(chan database.AuditLogEntry, 1)
	mockRepo.On("CreateAuditLogEntry", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			written <- args.Get(1).(database.AuditLogEntry)
		}).Return(nil).Once()

	r := newTestRecorder(t, mockRepo)
	r.Run()

	target := 7
	ok := r.Record(database.AuditLogEntry{
		MeetingId:       1,
		ActorAccountId:  2,
		Action:          ActionRoleChanged,
		TargetAccountId: &target,
		Metadata:        map[string]any{"new_role": "co-host"},
	})
	assert.True(t, ok, "expected entry to be accepted")

	r.Stop()

	select {
	case entry := <-written:
		assert.Equal(t, ActionRoleChanged, entry.Action, "expected action to be preserved")
		assert.NotEmpty(t, entry.Id, "expected an id to be assigned")
		assert.False(t, entry.CreatedAt.IsZero(), "expected a timestamp to be assigned")
	default:
		t.Error("expected entry to be written before Stop returned")
	}
}

func TestRecord_dropsWhenBufferFull(t *testing.T) {
	mockRepo := &database.MockMeetingRepository{}

	r := newTestRecorder(t, mockRepo)
	// Writer not started, so the buffer fills and the next entry drops.
	for i := 0; i < cap(r.entries); i++ {
		assert.True(t, r.Record(database.AuditLogEntry{Action: ActionMuteChanged}), "expected entry %d to be buffered", i)
	}

	ok := r.Record(database.AuditLogEntry{Action: ActionMuteChanged})
	assert.False(t, ok, "expected entry to be dropped when buffer is full")
}

func TestRecord_writeFailureDoesNotStopWriter(t *testing.T) {
	mockRepo := &database.MockMeetingRepository{}
	defer mockRepo.AssertExpectations(t)

	mockRepo.On("CreateAuditLogEntry", mock.Anything, mock.Anything).
		Return(errors.New("db unavailable")).Once()
	mockRepo.On("CreateAuditLogEntry", mock.Anything, mock.Anything).
		Return(nil).Once()

	r := newTestRecorder(t, mockRepo)
	r.Run()

	r.Record(database.AuditLogEntry{Action: ActionSpotlightChanged, CreatedAt: time.Now()})
	r.Record(database.AuditLogEntry{Action: ActionSpotlightChanged, CreatedAt: time.Now()})
	r.Stop()
}
