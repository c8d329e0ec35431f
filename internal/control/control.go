// Package control orchestrates every privileged mutation of a live
// meeting's shared state. Each action runs the same pipeline:
// rate-limit, authorize, mutate, then hand the result to the audit trail
// and the realtime broadcaster. The pipeline is stateless per request;
// correctness under concurrent actors comes from the conditional writes
// in the state store, not from in-process locks.
package control

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tbellam/go-meeting/internal/audit"
	"github.com/tbellam/go-meeting/internal/broadcast"
	"github.com/tbellam/go-meeting/internal/database"
	"github.com/tbellam/go-meeting/internal/policy"
	"github.com/tbellam/go-meeting/internal/ratelimit"
	"github.com/tbellam/go-meeting/internal/stats"
	"github.com/tbellam/go-meeting/internal/types"
)

// storeTimeout bounds each trip to the backing stores so a slow store
// degrades the individual request instead of the worker pool.
const storeTimeout = 3 * time.Second

type Broadcaster interface {
	Publish(meetingId string, event *broadcast.Event)
}

type AuditRecorder interface {
	Record(entry database.AuditLogEntry) bool
}

type RateLimiter interface {
	Check(ctx context.Context, key string, p ratelimit.Preset) ratelimit.Result
}

type ControlPlane struct {
	log         *log.Logger
	db          database.MeetingRepository
	limiter     RateLimiter
	audit       AuditRecorder
	broadcaster Broadcaster
	stats       stats.StatsProvider
}

func NewControlPlane(
	logger *log.Logger,
	db database.MeetingRepository,
	limiter RateLimiter,
	recorder AuditRecorder,
	broadcaster Broadcaster,
	sp stats.StatsProvider,
) *ControlPlane {
	sp.RegisterMetric(stats.MetricControlActions)
	sp.RegisterMetric(stats.MetricRateLimitedRequests)
	sp.RegisterMetric(stats.MetricAuthorizationDenied)

	return &ControlPlane{
		log:         logger,
		db:          db,
		limiter:     limiter,
		audit:       recorder,
		broadcaster: broadcaster,
		stats:       sp,
	}
}

func storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, storeTimeout)
}

// checkLimit runs before any store read; the key is built from
// caller-supplied identifiers so a missing meeting still consumes quota.
// The check carries its own deadline so a stalled counter backend cannot
// hold the request open.
func (cp *ControlPlane) checkLimit(ctx context.Context, class, meetingExtId string, actorAccountId int, p ratelimit.Preset) error {
	key := fmt.Sprintf("rl:%s:%s:%d", class, meetingExtId, actorAccountId)

	ctx, cancel := storeCtx(ctx)
	defer cancel()

	res := cp.limiter.Check(ctx, key, p)
	if !res.Allowed {
		cp.stats.Incr(stats.MetricRateLimitedRequests)
		return &RateLimitError{ResetAt: res.ResetAt}
	}
	return nil
}

func (cp *ControlPlane) activeMeeting(ctx context.Context, externalId string) (database.Meeting, error) {
	m, err := cp.db.GetMeetingByExternalId(ctx, externalId)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	}
	if err != nil {
		return m, fmt.Errorf("get meeting: %w", err)
	}
	if m.Status != string(types.MeetingActive) {
		return m, ErrNotFound
	}

	return m, nil
}

func (cp *ControlPlane) activeActor(ctx context.Context, meetingId, accountId int) (database.Participant, error) {
	p, err := cp.db.GetActiveParticipant(ctx, meetingId, accountId)
	if errors.Is(err, sql.ErrNoRows) {
		return p, cp.denied(policy.Decision{
			Reason:  ReasonNotParticipant,
			Message: "caller is not an active participant of this meeting",
		})
	}
	if err != nil {
		return p, fmt.Errorf("get actor: %w", err)
	}

	return p, nil
}

func (cp *ControlPlane) denied(d policy.Decision) error {
	cp.stats.Incr(stats.MetricAuthorizationDenied)
	return &DenialError{Reason: d.Reason, Message: d.Message}
}

func (cp *ControlPlane) authorize(req policy.Request) error {
	if d := policy.Decide(req); !d.Allowed {
		return cp.denied(d)
	}
	return nil
}

// finish hands the completed mutation to the audit trail and broadcaster.
// Both are non-blocking hand-offs: their latency and failures are invisible
// to the caller, whose response reflects only the mutate outcome.
func (cp *ControlPlane) finish(m database.Meeting, actorAccountId int, action string, targetAccountId *int, metadata map[string]any, event *broadcast.Event) {
	cp.stats.Incr(stats.MetricControlActions)

	cp.audit.Record(database.AuditLogEntry{
		MeetingId:       m.Id,
		ActorAccountId:  actorAccountId,
		Action:          action,
		TargetAccountId: targetAccountId,
		Metadata:        metadata,
	})

	cp.broadcaster.Publish(m.ExternalId, event)
}

// CreateMeeting creates an active meeting with the owner seated as host.
func (cp *ControlPlane) CreateMeeting(ctx context.Context, params database.CreateMeetingParams) (types.Meeting, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	m, err := cp.db.CreateMeeting(ctx, params)
	if err != nil {
		return types.Meeting{}, fmt.Errorf("create meeting: %w", err)
	}

	return toMeeting(m), nil
}

// GetMeeting returns the meeting and its active roster. The stored
// spotlight reference is weak: when it no longer points at an active
// participant it is presented as cleared rather than dereferenced.
func (cp *ControlPlane) GetMeeting(ctx context.Context, meetingExtId string) (types.Meeting, []types.Participant, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	m, err := cp.db.GetMeetingByExternalId(ctx, meetingExtId)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Meeting{}, nil, ErrNotFound
	}
	if err != nil {
		return types.Meeting{}, nil, fmt.Errorf("get meeting: %w", err)
	}

	dbParticipants, err := cp.db.ListActiveParticipants(ctx, m.Id)
	if err != nil {
		return types.Meeting{}, nil, fmt.Errorf("list participants: %w", err)
	}

	participants := make([]types.Participant, len(dbParticipants))
	spotlightActive := false
	for i, p := range dbParticipants {
		participants[i] = toParticipant(p)
		if m.SpotlightParticipantId != nil && p.Id == *m.SpotlightParticipantId {
			spotlightActive = true
		}
	}

	meeting := toMeeting(m)
	if !spotlightActive {
		meeting.SpotlightParticipantId = nil
	}

	return meeting, participants, nil
}

// SetSpotlight sets or clears the meeting's spotlighted participant. The
// state store validates a non-nil target against the active roster inside
// the write itself. The operation is idempotent.
func (cp *ControlPlane) SetSpotlight(ctx context.Context, actorAccountId int, meetingExtId string, participantId *int) (types.Meeting, error) {
	if err := cp.checkLimit(ctx, "control", meetingExtId, actorAccountId, ratelimit.GeneralAPI); err != nil {
		return types.Meeting{}, err
	}

	ctx, cancel := storeCtx(ctx)
	defer cancel()

	m, err := cp.activeMeeting(ctx, meetingExtId)
	if err != nil {
		return types.Meeting{}, err
	}

	actor, err := cp.activeActor(ctx, m.Id, actorAccountId)
	if err != nil {
		return types.Meeting{}, err
	}

	action := policy.ActionSpotlightSet
	if participantId == nil {
		action = policy.ActionSpotlightClear
	}
	if err := cp.authorize(policy.Request{ActorRole: types.Role(actor.Role), Action: action}); err != nil {
		return types.Meeting{}, err
	}

	updated, err := cp.db.SetSpotlight(ctx, m.Id, participantId)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Meeting{}, ErrNotFound
	}
	if err != nil {
		return types.Meeting{}, fmt.Errorf("set spotlight: %w", err)
	}

	meta := map[string]any{"participant_id": nil}
	if participantId != nil {
		meta["participant_id"] = *participantId
	}
	cp.finish(m, actorAccountId, audit.ActionSpotlightChanged, nil, meta, &broadcast.Event{
		Type:             broadcast.EventSpotlightChanged,
		SpotlightChanged: &broadcast.SpotlightChanged{ParticipantId: participantId},
	})

	return toMeeting(updated), nil
}

// ChangeRole changes a participant's role. The last-host invariant is
// checked twice: here against a fresh host count for a precise denial, and
// atomically inside the conditional update, which is the check that
// actually protects the invariant under concurrent demotions.
func (cp *ControlPlane) ChangeRole(ctx context.Context, actorAccountId int, meetingExtId string, participantId int, newRole types.Role) (types.Participant, error) {
	if err := cp.checkLimit(ctx, "control", meetingExtId, actorAccountId, ratelimit.GeneralAPI); err != nil {
		return types.Participant{}, err
	}

	ctx, cancel := storeCtx(ctx)
	defer cancel()

	m, err := cp.activeMeeting(ctx, meetingExtId)
	if err != nil {
		return types.Participant{}, err
	}

	actor, err := cp.activeActor(ctx, m.Id, actorAccountId)
	if err != nil {
		return types.Participant{}, err
	}

	target, err := cp.lookupActiveTarget(ctx, m.Id, participantId)
	if err != nil {
		return types.Participant{}, err
	}

	hosts, err := cp.db.CountActiveHosts(ctx, m.Id)
	if err != nil {
		return types.Participant{}, fmt.Errorf("count hosts: %w", err)
	}

	if err := cp.authorize(policy.Request{
		ActorRole:      types.Role(actor.Role),
		Action:         policy.ActionRoleChange,
		SelfTarget:     target.AccountId == actorAccountId,
		TargetRole:     types.Role(target.Role),
		NewRole:        newRole,
		RemainingHosts: hosts,
	}); err != nil {
		return types.Participant{}, err
	}

	updated, err := cp.db.UpdateParticipantRole(ctx, m.Id, participantId, string(newRole))
	if errors.Is(err, database.ErrLastHost) {
		return types.Participant{}, cp.denied(policy.Decision{
			Reason:  policy.ReasonLastHost,
			Message: "cannot demote the last host of an active meeting",
		})
	}
	if errors.Is(err, sql.ErrNoRows) {
		return types.Participant{}, ErrNotFound
	}
	if err != nil {
		return types.Participant{}, fmt.Errorf("update role: %w", err)
	}

	cp.finish(m, actorAccountId, audit.ActionRoleChanged, &target.AccountId,
		map[string]any{"participant_id": participantId, "new_role": string(newRole)},
		&broadcast.Event{
			Type: broadcast.EventRoleChanged,
			RoleChanged: &broadcast.RoleChanged{
				ParticipantId: updated.Id,
				AccountId:     updated.AccountId,
				NewRole:       types.Role(updated.Role),
			},
		})

	return toParticipant(updated), nil
}

// SetMute mutes or unmutes a participant. Muting yourself is always
// allowed; acting on another participant requires host or co-host. The
// operation is idempotent.
func (cp *ControlPlane) SetMute(ctx context.Context, actorAccountId int, meetingExtId string, participantId int, muted bool) (types.Participant, error) {
	if err := cp.checkLimit(ctx, "control", meetingExtId, actorAccountId, ratelimit.GeneralAPI); err != nil {
		return types.Participant{}, err
	}

	ctx, cancel := storeCtx(ctx)
	defer cancel()

	m, err := cp.activeMeeting(ctx, meetingExtId)
	if err != nil {
		return types.Participant{}, err
	}

	actor, err := cp.activeActor(ctx, m.Id, actorAccountId)
	if err != nil {
		return types.Participant{}, err
	}

	target, err := cp.lookupActiveTarget(ctx, m.Id, participantId)
	if err != nil {
		return types.Participant{}, err
	}

	action := policy.ActionMuteOther
	selfTarget := target.AccountId == actorAccountId
	if selfTarget {
		action = policy.ActionMuteSelf
	}
	if err := cp.authorize(policy.Request{
		ActorRole:  types.Role(actor.Role),
		Action:     action,
		SelfTarget: selfTarget,
		TargetRole: types.Role(target.Role),
	}); err != nil {
		return types.Participant{}, err
	}

	updated, err := cp.db.UpdateParticipantMute(ctx, m.Id, participantId, muted)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Participant{}, ErrNotFound
	}
	if err != nil {
		return types.Participant{}, fmt.Errorf("update mute: %w", err)
	}

	cp.finish(m, actorAccountId, audit.ActionMuteChanged, &target.AccountId,
		map[string]any{"participant_id": participantId, "muted": muted},
		&broadcast.Event{
			Type: broadcast.EventMuteChanged,
			MuteChanged: &broadcast.MuteChanged{
				ParticipantId: updated.Id,
				AccountId:     updated.AccountId,
				Muted:         updated.IsMuted,
			},
		})

	return toParticipant(updated), nil
}

// SetHandRaise raises or lowers a hand. Raising is self-only; lowering is
// self or host/co-host on another participant.
func (cp *ControlPlane) SetHandRaise(ctx context.Context, actorAccountId int, meetingExtId string, participantId int, raised bool) (types.Participant, error) {
	if err := cp.checkLimit(ctx, "control", meetingExtId, actorAccountId, ratelimit.GeneralAPI); err != nil {
		return types.Participant{}, err
	}

	ctx, cancel := storeCtx(ctx)
	defer cancel()

	m, err := cp.activeMeeting(ctx, meetingExtId)
	if err != nil {
		return types.Participant{}, err
	}

	actor, err := cp.activeActor(ctx, m.Id, actorAccountId)
	if err != nil {
		return types.Participant{}, err
	}

	target, err := cp.lookupActiveTarget(ctx, m.Id, participantId)
	if err != nil {
		return types.Participant{}, err
	}

	action := policy.ActionHandRaiseSet
	if !raised {
		action = policy.ActionHandRaiseClear
	}
	if err := cp.authorize(policy.Request{
		ActorRole:  types.Role(actor.Role),
		Action:     action,
		SelfTarget: target.AccountId == actorAccountId,
		TargetRole: types.Role(target.Role),
	}); err != nil {
		return types.Participant{}, err
	}

	updated, err := cp.db.UpdateParticipantHandRaise(ctx, m.Id, participantId, raised)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Participant{}, ErrNotFound
	}
	if err != nil {
		return types.Participant{}, fmt.Errorf("update hand raise: %w", err)
	}

	cp.finish(m, actorAccountId, audit.ActionHandRaiseChanged, &target.AccountId,
		map[string]any{"participant_id": participantId, "raised": raised},
		&broadcast.Event{
			Type: broadcast.EventHandRaiseChanged,
			HandRaiseChanged: &broadcast.HandRaiseChanged{
				ParticipantId: updated.Id,
				AccountId:     updated.AccountId,
				Raised:        updated.HandRaised,
				RaisedAt:      updated.HandRaisedAt,
			},
		})

	return toParticipant(updated), nil
}

// RemoveParticipant soft-removes a non-host participant from the meeting.
// Hosts can only leave voluntarily.
func (cp *ControlPlane) RemoveParticipant(ctx context.Context, actorAccountId int, meetingExtId string, participantId int) (time.Time, error) {
	if err := cp.checkLimit(ctx, "control", meetingExtId, actorAccountId, ratelimit.GeneralAPI); err != nil {
		return time.Time{}, err
	}

	ctx, cancel := storeCtx(ctx)
	defer cancel()

	m, err := cp.activeMeeting(ctx, meetingExtId)
	if err != nil {
		return time.Time{}, err
	}

	actor, err := cp.activeActor(ctx, m.Id, actorAccountId)
	if err != nil {
		return time.Time{}, err
	}

	target, err := cp.lookupActiveTarget(ctx, m.Id, participantId)
	if err != nil {
		return time.Time{}, err
	}

	if err := cp.authorize(policy.Request{
		ActorRole:  types.Role(actor.Role),
		Action:     policy.ActionRemoveParticipant,
		SelfTarget: target.AccountId == actorAccountId,
		TargetRole: types.Role(target.Role),
	}); err != nil {
		return time.Time{}, err
	}

	removedAt, err := cp.db.RemoveParticipant(ctx, m.Id, participantId)
	if errors.Is(err, database.ErrLastHost) {
		// The target was promoted to sole host after the policy check.
		return time.Time{}, cp.denied(policy.Decision{
			Reason:  policy.ReasonCannotRemoveHost,
			Message: "cannot remove a host from the meeting",
		})
	}
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("remove participant: %w", err)
	}

	cp.finish(m, actorAccountId, audit.ActionParticipantRemoved, &target.AccountId,
		map[string]any{"participant_id": participantId},
		&broadcast.Event{
			Type: broadcast.EventParticipantRemoved,
			ParticipantRemoved: &broadcast.ParticipantRemoved{
				ParticipantId: target.Id,
				AccountId:     target.AccountId,
				RemovedAt:     removedAt,
			},
		})

	return removedAt, nil
}

// ListWaitingRoom returns pending join requests, excluding anyone who has
// already become an active participant through another path.
func (cp *ControlPlane) ListWaitingRoom(ctx context.Context, actorAccountId int, meetingExtId string) ([]types.WaitingRoomEntry, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	m, err := cp.activeMeeting(ctx, meetingExtId)
	if err != nil {
		return nil, err
	}

	actor, err := cp.activeActor(ctx, m.Id, actorAccountId)
	if err != nil {
		return nil, err
	}

	if err := cp.authorize(policy.Request{
		ActorRole: types.Role(actor.Role),
		Action:    policy.ActionWaitingRoomView,
	}); err != nil {
		return nil, err
	}

	dbEntries, err := cp.db.ListWaitingEntries(ctx, m.Id)
	if err != nil {
		return nil, fmt.Errorf("list waiting entries: %w", err)
	}

	entries := make([]types.WaitingRoomEntry, len(dbEntries))
	for i, e := range dbEntries {
		entries[i] = toWaitingRoomEntry(e)
	}

	return entries, nil
}

// Admit moves a waiting user into the meeting. Admitting a user who has
// already become an active participant succeeds and returns that
// participant, so retries and admission races are harmless.
func (cp *ControlPlane) Admit(ctx context.Context, actorAccountId int, meetingExtId string, targetAccountId int) (types.Participant, error) {
	if err := cp.checkLimit(ctx, "waiting-room", meetingExtId, actorAccountId, ratelimit.GeneralAPI); err != nil {
		return types.Participant{}, err
	}

	ctx, cancel := storeCtx(ctx)
	defer cancel()

	m, err := cp.activeMeeting(ctx, meetingExtId)
	if err != nil {
		return types.Participant{}, err
	}

	actor, err := cp.activeActor(ctx, m.Id, actorAccountId)
	if err != nil {
		return types.Participant{}, err
	}

	if err := cp.authorize(policy.Request{
		ActorRole: types.Role(actor.Role),
		Action:    policy.ActionWaitingRoomAdmit,
	}); err != nil {
		return types.Participant{}, err
	}

	p, err := cp.db.AdmitWaitingEntry(ctx, m.Id, targetAccountId)
	if errors.Is(err, database.ErrEntryResolved) {
		return types.Participant{}, &ConflictError{Message: "join request already resolved"}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return types.Participant{}, ErrNotFound
	}
	if err != nil {
		return types.Participant{}, fmt.Errorf("admit waiting entry: %w", err)
	}

	cp.finish(m, actorAccountId, audit.ActionWaitingRoomAdmit, &targetAccountId,
		map[string]any{"participant_id": p.Id},
		&broadcast.Event{
			Type: broadcast.EventWaitingRoomUpdated,
			WaitingRoomUpdated: &broadcast.WaitingRoomUpdated{
				AccountId: targetAccountId,
				Status:    types.WaitingRoomAdmitted,
			},
		})
	cp.broadcaster.Publish(m.ExternalId, &broadcast.Event{
		Type:              broadcast.EventParticipantJoined,
		ParticipantJoined: &broadcast.ParticipantJoined{Participant: toParticipant(p)},
	})

	return toParticipant(p), nil
}

// AdmitAll admits every currently-waiting user. Individual failures are
// logged and skipped; the successfully admitted participants are returned.
func (cp *ControlPlane) AdmitAll(ctx context.Context, actorAccountId int, meetingExtId string) ([]types.Participant, error) {
	entries, err := cp.ListWaitingRoom(ctx, actorAccountId, meetingExtId)
	if err != nil {
		return nil, err
	}

	admitted := make([]types.Participant, 0, len(entries))
	for _, entry := range entries {
		p, err := cp.Admit(ctx, actorAccountId, meetingExtId, entry.AccountId)
		if err != nil {
			cp.log.Printf("admit all: account %d on meeting %q: %v", entry.AccountId, meetingExtId, err)
			continue
		}
		admitted = append(admitted, p)
	}

	return admitted, nil
}

// Reject turns down a pending join request. Unlike Admit it is strict: a
// missing waiting entry is NotFound and an already-resolved one is a
// conflict, since rejecting a request that is no longer pending usually
// signals a client-side race worth surfacing.
func (cp *ControlPlane) Reject(ctx context.Context, actorAccountId int, meetingExtId string, targetAccountId int) error {
	if err := cp.checkLimit(ctx, "waiting-room", meetingExtId, actorAccountId, ratelimit.GeneralAPI); err != nil {
		return err
	}

	ctx, cancel := storeCtx(ctx)
	defer cancel()

	m, err := cp.activeMeeting(ctx, meetingExtId)
	if err != nil {
		return err
	}

	actor, err := cp.activeActor(ctx, m.Id, actorAccountId)
	if err != nil {
		return err
	}

	if err := cp.authorize(policy.Request{
		ActorRole: types.Role(actor.Role),
		Action:    policy.ActionWaitingRoomReject,
	}); err != nil {
		return err
	}

	err = cp.db.RejectWaitingEntry(ctx, m.Id, targetAccountId)
	if errors.Is(err, database.ErrEntryResolved) {
		return &ConflictError{Message: "join request already resolved"}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reject waiting entry: %w", err)
	}

	cp.finish(m, actorAccountId, audit.ActionWaitingRoomReject, &targetAccountId, nil,
		&broadcast.Event{
			Type: broadcast.EventWaitingRoomUpdated,
			WaitingRoomUpdated: &broadcast.WaitingRoomUpdated{
				AccountId: targetAccountId,
				Status:    types.WaitingRoomRejected,
			},
		})

	return nil
}

// JoinResult reports how a join attempt resolved: seated as a participant,
// or parked in the waiting room.
type JoinResult struct {
	Admitted     bool                    `json:"admitted"`
	Participant  *types.Participant      `json:"participant,omitempty"`
	WaitingEntry *types.WaitingRoomEntry `json:"waiting_entry,omitempty"`
}

// Join seats the caller directly when the meeting doesn't require
// admission or their email is whitelisted (case-insensitive); otherwise it
// enqueues a waiting-room request. Joining twice is harmless.
func (cp *ControlPlane) Join(ctx context.Context, accountId int, meetingExtId string) (JoinResult, error) {
	if err := cp.checkLimit(ctx, "join", meetingExtId, accountId, ratelimit.GeneralAPI); err != nil {
		return JoinResult{}, err
	}

	ctx, cancel := storeCtx(ctx)
	defer cancel()

	m, err := cp.activeMeeting(ctx, meetingExtId)
	if err != nil {
		return JoinResult{}, err
	}

	if existing, err := cp.db.GetActiveParticipant(ctx, m.Id, accountId); err == nil {
		p := toParticipant(existing)
		return JoinResult{Admitted: true, Participant: &p}, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return JoinResult{}, fmt.Errorf("get participant: %w", err)
	}

	user, err := cp.db.GetAccountById(accountId)
	if err != nil {
		return JoinResult{}, fmt.Errorf("get account: %w", err)
	}

	if !m.RequireAdmission || m.OwnerId == accountId || whitelisted(m.Whitelist, user.EmailAddress) {
		p, err := cp.db.CreateParticipant(ctx, database.CreateParticipantParams{
			MeetingId: m.Id,
			AccountId: accountId,
			Role:      string(types.RoleParticipant),
		})
		if err != nil {
			return JoinResult{}, fmt.Errorf("create participant: %w", err)
		}

		joined := toParticipant(p)
		cp.broadcaster.Publish(m.ExternalId, &broadcast.Event{
			Type:              broadcast.EventParticipantJoined,
			ParticipantJoined: &broadcast.ParticipantJoined{Participant: joined},
		})

		return JoinResult{Admitted: true, Participant: &joined}, nil
	}

	entry, err := cp.db.CreateWaitingRoomEntry(ctx, database.CreateWaitingRoomEntryParams{
		Id:          uuid.NewString(),
		MeetingId:   m.Id,
		AccountId:   accountId,
		DisplayName: user.Username,
	})
	if errors.Is(err, sql.ErrNoRows) {
		// The conditional insert matched nothing: either the user was
		// admitted through another path since the check above, or a
		// waiting entry already exists.
		if p, err := cp.db.GetActiveParticipant(ctx, m.Id, accountId); err == nil {
			joined := toParticipant(p)
			return JoinResult{Admitted: true, Participant: &joined}, nil
		}

		existing, err := cp.db.GetWaitingEntry(ctx, m.Id, accountId)
		if err != nil {
			return JoinResult{}, fmt.Errorf("get waiting entry: %w", err)
		}
		waiting := toWaitingRoomEntry(existing)
		return JoinResult{WaitingEntry: &waiting}, nil
	}
	if err != nil {
		return JoinResult{}, fmt.Errorf("create waiting entry: %w", err)
	}

	waiting := toWaitingRoomEntry(entry)
	cp.broadcaster.Publish(m.ExternalId, &broadcast.Event{
		Type: broadcast.EventWaitingRoomUpdated,
		WaitingRoomUpdated: &broadcast.WaitingRoomUpdated{
			AccountId:   accountId,
			DisplayName: entry.DisplayName,
			Status:      types.WaitingRoomWaiting,
		},
	})

	return JoinResult{WaitingEntry: &waiting}, nil
}

// Leave removes the caller from the meeting. When the caller is the only
// remaining host the whole meeting ends; otherwise they just depart. The
// removal itself carries the last-host guard, so the host count read here
// is only advisory and two hosts leaving at once cannot strand an active
// meeting without one.
func (cp *ControlPlane) Leave(ctx context.Context, accountId int, meetingExtId string) error {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	m, err := cp.activeMeeting(ctx, meetingExtId)
	if err != nil {
		return err
	}

	actor, err := cp.db.GetActiveParticipant(ctx, m.Id, accountId)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get participant: %w", err)
	}

	if actor.Role == string(types.RoleHost) {
		hosts, err := cp.db.CountActiveHosts(ctx, m.Id)
		if err != nil {
			return fmt.Errorf("count hosts: %w", err)
		}
		if hosts <= 1 {
			return cp.endMeeting(ctx, m, accountId)
		}
	}

	if _, err := cp.db.RemoveParticipant(ctx, m.Id, actor.Id); err != nil {
		if errors.Is(err, database.ErrLastHost) {
			// The advisory count saw another host who has since departed;
			// the conditional removal refused, so end the meeting instead.
			return cp.endMeeting(ctx, m, accountId)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("remove participant: %w", err)
	}

	cp.broadcaster.Publish(m.ExternalId, &broadcast.Event{
		Type: broadcast.EventParticipantLeft,
		ParticipantLeft: &broadcast.ParticipantLeft{
			ParticipantId: actor.Id,
			AccountId:     actor.AccountId,
		},
	})

	return nil
}

func (cp *ControlPlane) endMeeting(ctx context.Context, m database.Meeting, accountId int) error {
	if err := cp.db.EndMeeting(ctx, m.Id); err != nil {
		return fmt.Errorf("end meeting: %w", err)
	}

	cp.finish(m, accountId, audit.ActionMeetingEnded, nil, nil, &broadcast.Event{
		Type:         broadcast.EventMeetingEnded,
		MeetingEnded: &broadcast.MeetingEnded{},
	})

	return nil
}

func (cp *ControlPlane) lookupActiveTarget(ctx context.Context, meetingId, participantId int) (database.Participant, error) {
	target, err := cp.db.GetParticipantById(ctx, meetingId, participantId)
	if errors.Is(err, sql.ErrNoRows) {
		return target, ErrNotFound
	}
	if err != nil {
		return target, fmt.Errorf("get target: %w", err)
	}
	if target.LeaveTime != nil {
		return target, ErrNotFound
	}

	return target, nil
}

func whitelisted(whitelist []string, email string) bool {
	if email == "" {
		return false
	}
	for _, entry := range whitelist {
		if strings.EqualFold(entry, email) {
			return true
		}
	}
	return false
}

func toMeeting(m database.Meeting) types.Meeting {
	return types.Meeting{
		Id:                     m.Id,
		ExternalId:             m.ExternalId,
		Title:                  m.Title,
		Status:                 types.MeetingStatus(m.Status),
		OwnerId:                m.OwnerId,
		SpotlightParticipantId: m.SpotlightParticipantId,
		Settings: types.MeetingSettings{
			ChatEnabled:        m.ChatEnabled,
			ScreenShareEnabled: m.ScreenShareEnabled,
			RequireAdmission:   m.RequireAdmission,
		},
		Whitelist: m.Whitelist,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toParticipant(p database.Participant) types.Participant {
	return types.Participant{
		Id:           p.Id,
		MeetingId:    p.MeetingId,
		AccountId:    p.AccountId,
		Username:     p.Username,
		Role:         types.Role(p.Role),
		IsMuted:      p.IsMuted,
		HandRaised:   p.HandRaised,
		HandRaisedAt: p.HandRaisedAt,
		JoinTime:     p.JoinTime,
		LeaveTime:    p.LeaveTime,
	}
}

func toWaitingRoomEntry(e database.WaitingRoomEntry) types.WaitingRoomEntry {
	return types.WaitingRoomEntry{
		Id:          e.Id,
		MeetingId:   e.MeetingId,
		AccountId:   e.AccountId,
		DisplayName: e.DisplayName,
		Status:      types.WaitingRoomStatus(e.Status),
		EnqueuedAt:  e.EnqueuedAt,
	}
}
