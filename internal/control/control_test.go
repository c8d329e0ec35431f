package control

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tbellam/go-meeting/internal/broadcast"
	"github.com/tbellam/go-meeting/internal/database"
	"github.com/tbellam/go-meeting/internal/policy"
	"github.com/tbellam/go-meeting/internal/ratelimit"
	"github.com/tbellam/go-meeting/internal/stats"
	"github.com/tbellam/go-meeting/internal/testutil"
	"github.com/tbellam/go-meeting/internal/types"
)

type fakeLimiter struct {
	allowed   bool
	resetAt   time.Time
	keys      []string
	deadlines []bool
}

func (f *fakeLimiter) Check(ctx context.Context, key string, _ ratelimit.Preset) ratelimit.Result {
	f.keys = append(f.keys, key)
	_, ok := ctx.Deadline()
	f.deadlines = append(f.deadlines, ok)
	return ratelimit.Result{Allowed: f.allowed, ResetAt: f.resetAt}
}

type fakeRecorder struct {
	entries []database.AuditLogEntry
}

func (f *fakeRecorder) Record(entry database.AuditLogEntry) bool {
	f.entries = append(f.entries, entry)
	return true
}

type fakeBroadcaster struct {
	events []*broadcast.Event
}

func (f *fakeBroadcaster) Publish(meetingId string, event *broadcast.Event) {
	event.MeetingId = meetingId
	f.events = append(f.events, event)
}

type testFixture struct {
	cp          *ControlPlane
	db          *database.MockMeetingRepository
	limiter     *fakeLimiter
	audit       *fakeRecorder
	broadcaster *fakeBroadcaster
}

func newTestControlPlane(t *testing.T) *testFixture {
	db := &database.MockMeetingRepository{}
	limiter := &fakeLimiter{allowed: true}
	recorder := &fakeRecorder{}
	broadcaster := &fakeBroadcaster{}
	sp := &stats.MockStatsUpdater{}
	sp.On("RegisterMetric", mock.Anything).Return()
	sp.On("Incr", mock.Anything).Return()

	return &testFixture{
		cp:          NewControlPlane(testutil.TestLogger(t), db, limiter, recorder, broadcaster, sp),
		db:          db,
		limiter:     limiter,
		audit:       recorder,
		broadcaster: broadcaster,
	}
}

func activeMeetingFixture() database.Meeting {
	return database.Meeting{
		Id:               1,
		ExternalId:       "abc123",
		Title:            "standup",
		Status:           "active",
		OwnerId:          10,
		RequireAdmission: true,
	}
}

func hostParticipant() database.Participant {
	return database.Participant{Id: 100, MeetingId: 1, AccountId: 10, Username: "alice", Role: "host", JoinTime: time.Now()}
}

func plainParticipant() database.Participant {
	return database.Participant{Id: 101, MeetingId: 1, AccountId: 11, Username: "bob", Role: "participant", JoinTime: time.Now()}
}

func TestSetSpotlight(t *testing.T) {
	f := newTestControlPlane(t)
	m := activeMeetingFixture()
	target := 101
	updated := m
	updated.SpotlightParticipantId = &target

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(m, nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(hostParticipant(), nil)
	f.db.On("SetSpotlight", mock.Anything, 1, &target).Return(updated, nil)

	got, err := f.cp.SetSpotlight(context.Background(), 10, "abc123", &target)
	assert.NoError(t, err)
	assert.Equal(t, &target, got.SpotlightParticipantId, "expected spotlight set on returned meeting")

	if assert.Len(t, f.audit.entries, 1, "expected one audit entry") {
		assert.Equal(t, "SPOTLIGHT_CHANGED", f.audit.entries[0].Action)
		assert.Equal(t, 10, f.audit.entries[0].ActorAccountId)
	}
	if assert.Len(t, f.broadcaster.events, 1, "expected one broadcast event") {
		assert.Equal(t, broadcast.EventSpotlightChanged, f.broadcaster.events[0].Type)
		assert.Equal(t, "abc123", f.broadcaster.events[0].MeetingId)
	}
	assert.Equal(t, []string{"rl:control:abc123:10"}, f.limiter.keys, "expected rate limit key scoped to action class, meeting and actor")
}

func TestSetSpotlight_deniedForParticipant(t *testing.T) {
	f := newTestControlPlane(t)

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 11).Return(plainParticipant(), nil)

	target := 100
	_, err := f.cp.SetSpotlight(context.Background(), 11, "abc123", &target)

	var denial *DenialError
	if assert.ErrorAs(t, err, &denial, "expected a denial") {
		assert.Equal(t, policy.ReasonNotPrivileged, denial.Reason)
	}
	assert.Empty(t, f.audit.entries, "expected no audit entry on denial")
	assert.Empty(t, f.broadcaster.events, "expected no broadcast on denial")
	f.db.AssertNotCalled(t, "SetSpotlight", mock.Anything, mock.Anything, mock.Anything)
}

func TestSetSpotlight_rateLimited(t *testing.T) {
	f := newTestControlPlane(t)
	f.limiter.allowed = false
	f.limiter.resetAt = time.Now().Add(30 * time.Second)

	target := 100
	_, err := f.cp.SetSpotlight(context.Background(), 10, "abc123", &target)

	var rle *RateLimitError
	if assert.ErrorAs(t, err, &rle, "expected a rate limit error") {
		assert.Equal(t, f.limiter.resetAt, rle.ResetAt)
	}
	f.db.AssertNotCalled(t, "GetMeetingByExternalId", mock.Anything, mock.Anything)
}

func TestSetSpotlight_limiterContextBounded(t *testing.T) {
	f := newTestControlPlane(t)
	f.limiter.allowed = false

	target := 100
	_, _ = f.cp.SetSpotlight(context.Background(), 10, "abc123", &target)

	if assert.Len(t, f.limiter.deadlines, 1) {
		assert.True(t, f.limiter.deadlines[0], "expected the limiter check to carry a deadline so a stalled store cannot hang the request")
	}
}

func TestSetSpotlight_meetingNotActive(t *testing.T) {
	f := newTestControlPlane(t)
	ended := activeMeetingFixture()
	ended.Status = "ended"

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(ended, nil)

	target := 100
	_, err := f.cp.SetSpotlight(context.Background(), 10, "abc123", &target)
	assert.ErrorIs(t, err, ErrNotFound, "expected an ended meeting to be treated as missing")
}

func TestSetSpotlight_actorNotParticipant(t *testing.T) {
	f := newTestControlPlane(t)

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 99).Return(database.Participant{}, sql.ErrNoRows)

	target := 100
	_, err := f.cp.SetSpotlight(context.Background(), 99, "abc123", &target)

	var denial *DenialError
	if assert.ErrorAs(t, err, &denial, "expected a denial") {
		assert.Equal(t, ReasonNotParticipant, denial.Reason)
	}
}

func TestChangeRole(t *testing.T) {
	f := newTestControlPlane(t)
	target := plainParticipant()
	promoted := target
	promoted.Role = "co-host"

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(hostParticipant(), nil)
	f.db.On("GetParticipantById", mock.Anything, 1, 101).Return(target, nil)
	f.db.On("CountActiveHosts", mock.Anything, 1).Return(1, nil)
	f.db.On("UpdateParticipantRole", mock.Anything, 1, 101, "co-host").Return(promoted, nil)

	got, err := f.cp.ChangeRole(context.Background(), 10, "abc123", 101, types.RoleCoHost)
	assert.NoError(t, err)
	assert.Equal(t, types.RoleCoHost, got.Role)

	if assert.Len(t, f.audit.entries, 1) {
		assert.Equal(t, "ROLE_CHANGED", f.audit.entries[0].Action)
		assert.Equal(t, &target.AccountId, f.audit.entries[0].TargetAccountId)
	}
	if assert.Len(t, f.broadcaster.events, 1) {
		assert.Equal(t, broadcast.EventRoleChanged, f.broadcaster.events[0].Type)
	}
}

func TestChangeRole_coHostDenied(t *testing.T) {
	f := newTestControlPlane(t)
	actor := plainParticipant()
	actor.Role = "co-host"

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 11).Return(actor, nil)
	f.db.On("GetParticipantById", mock.Anything, 1, 100).Return(hostParticipant(), nil)
	f.db.On("CountActiveHosts", mock.Anything, 1).Return(2, nil)

	_, err := f.cp.ChangeRole(context.Background(), 11, "abc123", 100, types.RoleParticipant)

	var denial *DenialError
	if assert.ErrorAs(t, err, &denial) {
		assert.Equal(t, policy.ReasonRoleChangeHostOnly, denial.Reason)
	}
}

func TestChangeRole_lastHost(t *testing.T) {
	f := newTestControlPlane(t)
	host := hostParticipant()

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(host, nil)
	f.db.On("GetParticipantById", mock.Anything, 1, 100).Return(host, nil)
	f.db.On("CountActiveHosts", mock.Anything, 1).Return(1, nil)

	_, err := f.cp.ChangeRole(context.Background(), 10, "abc123", 100, types.RoleParticipant)

	var denial *DenialError
	if assert.ErrorAs(t, err, &denial, "expected last-host demotion to be denied") {
		assert.Equal(t, policy.ReasonLastHost, denial.Reason)
	}
	f.db.AssertNotCalled(t, "UpdateParticipantRole", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestChangeRole_lastHostRace(t *testing.T) {
	f := newTestControlPlane(t)
	host := hostParticipant()
	otherHost := plainParticipant()
	otherHost.Role = "host"

	// The advisory count sees two hosts, but by mutation time the other
	// host has already been demoted and the conditional update refuses.
	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(host, nil)
	f.db.On("GetParticipantById", mock.Anything, 1, 100).Return(host, nil)
	f.db.On("CountActiveHosts", mock.Anything, 1).Return(2, nil)
	f.db.On("UpdateParticipantRole", mock.Anything, 1, 100, "participant").
		Return(database.Participant{}, database.ErrLastHost)

	_, err := f.cp.ChangeRole(context.Background(), 10, "abc123", 100, types.RoleParticipant)

	var denial *DenialError
	if assert.ErrorAs(t, err, &denial) {
		assert.Equal(t, policy.ReasonLastHost, denial.Reason)
	}
	assert.Empty(t, f.audit.entries, "expected no audit entry when the write was refused")
}

func TestSetMute_self(t *testing.T) {
	f := newTestControlPlane(t)
	p := plainParticipant()
	muted := p
	muted.IsMuted = true

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 11).Return(p, nil)
	f.db.On("GetParticipantById", mock.Anything, 1, 101).Return(p, nil)
	f.db.On("UpdateParticipantMute", mock.Anything, 1, 101, true).Return(muted, nil)

	got, err := f.cp.SetMute(context.Background(), 11, "abc123", 101, true)
	assert.NoError(t, err, "expected self-mute allowed for a plain participant")
	assert.True(t, got.IsMuted)
}

func TestSetMute_otherDeniedForParticipant(t *testing.T) {
	f := newTestControlPlane(t)

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 11).Return(plainParticipant(), nil)
	f.db.On("GetParticipantById", mock.Anything, 1, 100).Return(hostParticipant(), nil)

	_, err := f.cp.SetMute(context.Background(), 11, "abc123", 100, true)

	var denial *DenialError
	if assert.ErrorAs(t, err, &denial) {
		assert.Equal(t, policy.ReasonNotPrivileged, denial.Reason)
	}
}

func TestSetHandRaise_raiseOtherDenied(t *testing.T) {
	f := newTestControlPlane(t)

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(hostParticipant(), nil)
	f.db.On("GetParticipantById", mock.Anything, 1, 101).Return(plainParticipant(), nil)

	_, err := f.cp.SetHandRaise(context.Background(), 10, "abc123", 101, true)

	var denial *DenialError
	if assert.ErrorAs(t, err, &denial, "expected raising another participant's hand to be denied even for a host") {
		assert.Equal(t, policy.ReasonHandRaiseSelfOnly, denial.Reason)
	}
}

func TestSetHandRaise_hostLowersOther(t *testing.T) {
	f := newTestControlPlane(t)
	p := plainParticipant()
	raisedAt := time.Now()
	p.HandRaised = true
	p.HandRaisedAt = &raisedAt
	lowered := p
	lowered.HandRaised = false
	lowered.HandRaisedAt = nil

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(hostParticipant(), nil)
	f.db.On("GetParticipantById", mock.Anything, 1, 101).Return(p, nil)
	f.db.On("UpdateParticipantHandRaise", mock.Anything, 1, 101, false).Return(lowered, nil)

	got, err := f.cp.SetHandRaise(context.Background(), 10, "abc123", 101, false)
	assert.NoError(t, err, "expected a host to lower another participant's hand")
	assert.False(t, got.HandRaised)
}

func TestRemoveParticipant_hostTargetDenied(t *testing.T) {
	f := newTestControlPlane(t)
	coHost := plainParticipant()
	coHost.Role = "co-host"

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 11).Return(coHost, nil)
	f.db.On("GetParticipantById", mock.Anything, 1, 100).Return(hostParticipant(), nil)

	_, err := f.cp.RemoveParticipant(context.Background(), 11, "abc123", 100)

	var denial *DenialError
	if assert.ErrorAs(t, err, &denial) {
		assert.Equal(t, policy.ReasonCannotRemoveHost, denial.Reason)
	}
}

func TestRemoveParticipant(t *testing.T) {
	f := newTestControlPlane(t)
	target := plainParticipant()
	removedAt := time.Now().UTC()

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(hostParticipant(), nil)
	f.db.On("GetParticipantById", mock.Anything, 1, 101).Return(target, nil)
	f.db.On("RemoveParticipant", mock.Anything, 1, 101).Return(removedAt, nil)

	got, err := f.cp.RemoveParticipant(context.Background(), 10, "abc123", 101)
	assert.NoError(t, err)
	assert.Equal(t, removedAt, got)

	if assert.Len(t, f.broadcaster.events, 1) {
		assert.Equal(t, broadcast.EventParticipantRemoved, f.broadcaster.events[0].Type)
	}
}

func TestAdmit_missingEntry(t *testing.T) {
	f := newTestControlPlane(t)

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(hostParticipant(), nil)
	f.db.On("AdmitWaitingEntry", mock.Anything, 1, 42).Return(database.Participant{}, sql.ErrNoRows)

	_, err := f.cp.Admit(context.Background(), 10, "abc123", 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdmit(t *testing.T) {
	f := newTestControlPlane(t)
	admitted := database.Participant{Id: 102, MeetingId: 1, AccountId: 42, Role: "participant"}

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(hostParticipant(), nil)
	f.db.On("AdmitWaitingEntry", mock.Anything, 1, 42).Return(admitted, nil)

	got, err := f.cp.Admit(context.Background(), 10, "abc123", 42)
	assert.NoError(t, err)
	assert.Equal(t, 42, got.AccountId)

	if assert.Len(t, f.broadcaster.events, 2, "expected waiting room update plus joined event") {
		assert.Equal(t, broadcast.EventWaitingRoomUpdated, f.broadcaster.events[0].Type)
		assert.Equal(t, broadcast.EventParticipantJoined, f.broadcaster.events[1].Type)
	}
	if assert.Len(t, f.audit.entries, 1) {
		assert.Equal(t, "WAITING_ROOM_ADMITTED", f.audit.entries[0].Action)
	}
}

func TestAdmitAll_skipsFailures(t *testing.T) {
	f := newTestControlPlane(t)
	entries := []database.WaitingRoomEntry{
		{Id: "w1", MeetingId: 1, AccountId: 41, Status: "waiting"},
		{Id: "w2", MeetingId: 1, AccountId: 42, Status: "waiting"},
	}
	admitted := database.Participant{Id: 103, MeetingId: 1, AccountId: 42, Role: "participant"}

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(hostParticipant(), nil)
	f.db.On("ListWaitingEntries", mock.Anything, 1).Return(entries, nil)
	f.db.On("AdmitWaitingEntry", mock.Anything, 1, 41).Return(database.Participant{}, sql.ErrNoRows)
	f.db.On("AdmitWaitingEntry", mock.Anything, 1, 42).Return(admitted, nil)

	got, err := f.cp.AdmitAll(context.Background(), 10, "abc123")
	assert.NoError(t, err, "expected admit-all to tolerate individual failures")
	if assert.Len(t, got, 1) {
		assert.Equal(t, 42, got[0].AccountId)
	}
}

func TestReject(t *testing.T) {
	f := newTestControlPlane(t)

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(hostParticipant(), nil)
	f.db.On("RejectWaitingEntry", mock.Anything, 1, 42).Return(nil)

	assert.NoError(t, f.cp.Reject(context.Background(), 10, "abc123", 42))

	if assert.Len(t, f.broadcaster.events, 1) {
		assert.Equal(t, broadcast.EventWaitingRoomUpdated, f.broadcaster.events[0].Type)
		assert.Equal(t, types.WaitingRoomRejected, f.broadcaster.events[0].WaitingRoomUpdated.Status)
	}
}

func TestListWaitingRoom_deniedForParticipant(t *testing.T) {
	f := newTestControlPlane(t)

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 11).Return(plainParticipant(), nil)

	_, err := f.cp.ListWaitingRoom(context.Background(), 11, "abc123")

	var denial *DenialError
	if assert.ErrorAs(t, err, &denial) {
		assert.Equal(t, policy.ReasonNotPrivileged, denial.Reason)
	}
}

func TestJoin_openMeeting(t *testing.T) {
	f := newTestControlPlane(t)
	m := activeMeetingFixture()
	m.RequireAdmission = false
	joined := database.Participant{Id: 104, MeetingId: 1, AccountId: 11, Role: "participant"}

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(m, nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 11).Return(database.Participant{}, sql.ErrNoRows)
	f.db.On("GetAccountById", 11).Return(database.User{Id: 11, Username: "bob", EmailAddress: "bob@example.com"}, nil)
	f.db.On("CreateParticipant", mock.Anything, database.CreateParticipantParams{MeetingId: 1, AccountId: 11, Role: "participant"}).
		Return(joined, nil)

	res, err := f.cp.Join(context.Background(), 11, "abc123")
	assert.NoError(t, err)
	assert.True(t, res.Admitted, "expected direct admission when the meeting doesn't require it")
	assert.NotNil(t, res.Participant)
	assert.Nil(t, res.WaitingEntry)
}

func TestJoin_whitelistCaseInsensitive(t *testing.T) {
	f := newTestControlPlane(t)
	m := activeMeetingFixture()
	m.Whitelist = []string{"Bob@Example.COM"}
	joined := database.Participant{Id: 104, MeetingId: 1, AccountId: 11, Role: "participant"}

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(m, nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 11).Return(database.Participant{}, sql.ErrNoRows)
	f.db.On("GetAccountById", 11).Return(database.User{Id: 11, Username: "bob", EmailAddress: "bob@example.com"}, nil)
	f.db.On("CreateParticipant", mock.Anything, mock.Anything).Return(joined, nil)

	res, err := f.cp.Join(context.Background(), 11, "abc123")
	assert.NoError(t, err)
	assert.True(t, res.Admitted, "expected whitelist match regardless of case")
}

func TestJoin_waitingRoom(t *testing.T) {
	f := newTestControlPlane(t)
	entry := database.WaitingRoomEntry{Id: "w1", MeetingId: 1, AccountId: 11, DisplayName: "bob", Status: "waiting", EnqueuedAt: time.Now()}

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 11).Return(database.Participant{}, sql.ErrNoRows)
	f.db.On("GetAccountById", 11).Return(database.User{Id: 11, Username: "bob", EmailAddress: "bob@example.com"}, nil)
	f.db.On("CreateWaitingRoomEntry", mock.Anything, mock.MatchedBy(func(p database.CreateWaitingRoomEntryParams) bool {
		return p.MeetingId == 1 && p.AccountId == 11 && p.DisplayName == "bob" && p.Id != ""
	})).Return(entry, nil)

	res, err := f.cp.Join(context.Background(), 11, "abc123")
	assert.NoError(t, err)
	assert.False(t, res.Admitted)
	if assert.NotNil(t, res.WaitingEntry) {
		assert.Equal(t, types.WaitingRoomWaiting, res.WaitingEntry.Status)
	}
	if assert.Len(t, f.broadcaster.events, 1) {
		assert.Equal(t, broadcast.EventWaitingRoomUpdated, f.broadcaster.events[0].Type)
	}
}

func TestJoin_alreadyActive(t *testing.T) {
	f := newTestControlPlane(t)

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 11).Return(plainParticipant(), nil)

	res, err := f.cp.Join(context.Background(), 11, "abc123")
	assert.NoError(t, err, "expected rejoining to succeed")
	assert.True(t, res.Admitted)
	f.db.AssertNotCalled(t, "CreateParticipant", mock.Anything, mock.Anything)
	assert.Empty(t, f.broadcaster.events, "expected no joined event on an idempotent rejoin")
}

func TestJoin_enqueueRace(t *testing.T) {
	f := newTestControlPlane(t)
	entry := database.WaitingRoomEntry{Id: "w1", MeetingId: 1, AccountId: 11, DisplayName: "bob", Status: "waiting"}

	// The conditional insert matches nothing because an entry already
	// exists; Join falls back to returning the existing entry.
	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 11).Return(database.Participant{}, sql.ErrNoRows)
	f.db.On("GetAccountById", 11).Return(database.User{Id: 11, Username: "bob", EmailAddress: "bob@example.com"}, nil)
	f.db.On("CreateWaitingRoomEntry", mock.Anything, mock.Anything).Return(database.WaitingRoomEntry{}, sql.ErrNoRows)
	f.db.On("GetWaitingEntry", mock.Anything, 1, 11).Return(entry, nil)

	res, err := f.cp.Join(context.Background(), 11, "abc123")
	assert.NoError(t, err)
	assert.False(t, res.Admitted)
	if assert.NotNil(t, res.WaitingEntry) {
		assert.Equal(t, "w1", res.WaitingEntry.Id)
	}
}

func TestLeave_lastHostEndsMeeting(t *testing.T) {
	f := newTestControlPlane(t)

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(hostParticipant(), nil)
	f.db.On("CountActiveHosts", mock.Anything, 1).Return(1, nil)
	f.db.On("EndMeeting", mock.Anything, 1).Return(nil)

	assert.NoError(t, f.cp.Leave(context.Background(), 10, "abc123"))

	if assert.Len(t, f.broadcaster.events, 1) {
		assert.Equal(t, broadcast.EventMeetingEnded, f.broadcaster.events[0].Type)
	}
	if assert.Len(t, f.audit.entries, 1) {
		assert.Equal(t, "MEETING_ENDED", f.audit.entries[0].Action)
	}
	f.db.AssertNotCalled(t, "RemoveParticipant", mock.Anything, mock.Anything, mock.Anything)
}

func TestLeave_hostWithCoHostRemaining(t *testing.T) {
	f := newTestControlPlane(t)
	host := hostParticipant()

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(host, nil)
	f.db.On("CountActiveHosts", mock.Anything, 1).Return(2, nil)
	f.db.On("RemoveParticipant", mock.Anything, 1, host.Id).Return(time.Now(), nil)

	assert.NoError(t, f.cp.Leave(context.Background(), 10, "abc123"))

	if assert.Len(t, f.broadcaster.events, 1) {
		assert.Equal(t, broadcast.EventParticipantLeft, f.broadcaster.events[0].Type)
	}
	f.db.AssertNotCalled(t, "EndMeeting", mock.Anything, mock.Anything)
}

func TestLeave_concurrentHostDeparture(t *testing.T) {
	f := newTestControlPlane(t)
	host := hostParticipant()

	// The advisory count still sees two hosts, but the other host departs
	// before the removal runs and the conditional update refuses to strip
	// the last one; the meeting ends instead of staying hostless.
	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(host, nil)
	f.db.On("CountActiveHosts", mock.Anything, 1).Return(2, nil)
	f.db.On("RemoveParticipant", mock.Anything, 1, host.Id).Return(time.Time{}, database.ErrLastHost)
	f.db.On("EndMeeting", mock.Anything, 1).Return(nil)

	assert.NoError(t, f.cp.Leave(context.Background(), 10, "abc123"))

	f.db.AssertCalled(t, "EndMeeting", mock.Anything, 1)
	if assert.Len(t, f.broadcaster.events, 1) {
		assert.Equal(t, broadcast.EventMeetingEnded, f.broadcaster.events[0].Type, "expected the ended event, not a departure")
	}
	if assert.Len(t, f.audit.entries, 1) {
		assert.Equal(t, "MEETING_ENDED", f.audit.entries[0].Action)
	}
}

func TestAdmit_entryAlreadyResolved(t *testing.T) {
	f := newTestControlPlane(t)

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(hostParticipant(), nil)
	f.db.On("AdmitWaitingEntry", mock.Anything, 1, 42).Return(database.Participant{}, database.ErrEntryResolved)

	_, err := f.cp.Admit(context.Background(), 10, "abc123", 42)

	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict, "expected a conflict for an already-resolved entry")
	assert.Empty(t, f.audit.entries, "expected no audit entry")
	assert.Empty(t, f.broadcaster.events, "expected no broadcast")
}

func TestReject_entryAlreadyResolved(t *testing.T) {
	f := newTestControlPlane(t)

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(hostParticipant(), nil)
	f.db.On("RejectWaitingEntry", mock.Anything, 1, 42).Return(database.ErrEntryResolved)

	err := f.cp.Reject(context.Background(), 10, "abc123", 42)

	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict, "expected a conflict for an already-resolved entry")
	assert.Empty(t, f.broadcaster.events, "expected no broadcast")
}

func TestRemoveParticipant_targetPromotedRace(t *testing.T) {
	f := newTestControlPlane(t)
	target := plainParticipant()

	// Between the policy check and the removal the target became the sole
	// host, so the conditional update refuses.
	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(hostParticipant(), nil)
	f.db.On("GetParticipantById", mock.Anything, 1, 101).Return(target, nil)
	f.db.On("RemoveParticipant", mock.Anything, 1, 101).Return(time.Time{}, database.ErrLastHost)

	_, err := f.cp.RemoveParticipant(context.Background(), 10, "abc123", 101)

	var denial *DenialError
	if assert.ErrorAs(t, err, &denial) {
		assert.Equal(t, policy.ReasonCannotRemoveHost, denial.Reason)
	}
	assert.Empty(t, f.audit.entries, "expected no audit entry when the write was refused")
}

func TestGetMeeting_staleSpotlightCleared(t *testing.T) {
	f := newTestControlPlane(t)
	m := activeMeetingFixture()
	departed := 999
	m.SpotlightParticipantId = &departed

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(m, nil)
	f.db.On("ListActiveParticipants", mock.Anything, 1).Return([]database.Participant{hostParticipant()}, nil)

	meeting, participants, err := f.cp.GetMeeting(context.Background(), "abc123")
	assert.NoError(t, err)
	assert.Len(t, participants, 1)
	assert.Nil(t, meeting.SpotlightParticipantId, "expected a spotlight pointing at a departed participant to read as cleared")
}

func TestGetMeeting_notFound(t *testing.T) {
	f := newTestControlPlane(t)

	f.db.On("GetMeetingByExternalId", mock.Anything, "missing").Return(database.Meeting{}, sql.ErrNoRows)

	_, _, err := f.cp.GetMeeting(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetMute_storeFailure(t *testing.T) {
	f := newTestControlPlane(t)

	f.db.On("GetMeetingByExternalId", mock.Anything, "abc123").Return(activeMeetingFixture(), nil)
	f.db.On("GetActiveParticipant", mock.Anything, 1, 10).Return(hostParticipant(), nil)
	f.db.On("GetParticipantById", mock.Anything, 1, 101).Return(plainParticipant(), nil)
	f.db.On("UpdateParticipantMute", mock.Anything, 1, 101, true).
		Return(database.Participant{}, errors.New("connection reset"))

	_, err := f.cp.SetMute(context.Background(), 10, "abc123", 101, true)
	assert.Error(t, err)
	assert.Empty(t, f.audit.entries, "expected no audit entry when the mutation failed")
	assert.Empty(t, f.broadcaster.events, "expected no broadcast when the mutation failed")
}
