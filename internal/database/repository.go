package database

import (
	"context"
	"errors"
	"time"
)

// ErrLastHost is returned by UpdateParticipantRole and RemoveParticipant
// when the conditional update refused a write that would leave an active
// meeting without a host.
var ErrLastHost = errors.New("cannot remove the last host")

// ErrEntryResolved is returned by AdmitWaitingEntry and RejectWaitingEntry
// when a waiting-room entry exists but was already admitted or rejected.
var ErrEntryResolved = errors.New("waiting room entry already resolved")

type MeetingRepository interface {
	Ping() error

	CreateAccount(params CreateAccountParams) (User, error)
	UpdateAccount(params UpdateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)

	CreateMeeting(ctx context.Context, params CreateMeetingParams) (Meeting, error)
	GetMeetingByExternalId(ctx context.Context, externalId string) (Meeting, error)
	SetSpotlight(ctx context.Context, meetingId int, participantId *int) (Meeting, error)
	EndMeeting(ctx context.Context, meetingId int) error

	CreateParticipant(ctx context.Context, params CreateParticipantParams) (Participant, error)
	GetActiveParticipant(ctx context.Context, meetingId, accountId int) (Participant, error)
	GetParticipantById(ctx context.Context, meetingId, participantId int) (Participant, error)
	ListActiveParticipants(ctx context.Context, meetingId int) ([]Participant, error)
	CountActiveHosts(ctx context.Context, meetingId int) (int, error)
	UpdateParticipantRole(ctx context.Context, meetingId, participantId int, role string) (Participant, error)
	UpdateParticipantMute(ctx context.Context, meetingId, participantId int, muted bool) (Participant, error)
	UpdateParticipantHandRaise(ctx context.Context, meetingId, participantId int, raised bool) (Participant, error)
	RemoveParticipant(ctx context.Context, meetingId, participantId int) (time.Time, error)

	CreateWaitingRoomEntry(ctx context.Context, params CreateWaitingRoomEntryParams) (WaitingRoomEntry, error)
	GetWaitingEntry(ctx context.Context, meetingId, accountId int) (WaitingRoomEntry, error)
	ListWaitingEntries(ctx context.Context, meetingId int) ([]WaitingRoomEntry, error)
	AdmitWaitingEntry(ctx context.Context, meetingId, accountId int) (Participant, error)
	RejectWaitingEntry(ctx context.Context, meetingId, accountId int) error

	CreateAuditLogEntry(ctx context.Context, entry AuditLogEntry) error
}
