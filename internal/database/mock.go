package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockMeetingRepository struct {
	mock.Mock
}

func (m *MockMeetingRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockMeetingRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockMeetingRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockMeetingRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockMeetingRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockMeetingRepository) CreateMeeting(ctx context.Context, params CreateMeetingParams) (Meeting, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Meeting), args.Error(1)
}
func (m *MockMeetingRepository) GetMeetingByExternalId(ctx context.Context, externalId string) (Meeting, error) {
	args := m.Called(ctx, externalId)
	return args.Get(0).(Meeting), args.Error(1)
}
func (m *MockMeetingRepository) SetSpotlight(ctx context.Context, meetingId int, participantId *int) (Meeting, error) {
	args := m.Called(ctx, meetingId, participantId)
	return args.Get(0).(Meeting), args.Error(1)
}
func (m *MockMeetingRepository) EndMeeting(ctx context.Context, meetingId int) error {
	args := m.Called(ctx, meetingId)
	return args.Error(0)
}
func (m *MockMeetingRepository) CreateParticipant(ctx context.Context, params CreateParticipantParams) (Participant, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockMeetingRepository) GetActiveParticipant(ctx context.Context, meetingId, accountId int) (Participant, error) {
	args := m.Called(ctx, meetingId, accountId)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockMeetingRepository) GetParticipantById(ctx context.Context, meetingId, participantId int) (Participant, error) {
	args := m.Called(ctx, meetingId, participantId)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockMeetingRepository) ListActiveParticipants(ctx context.Context, meetingId int) ([]Participant, error) {
	args := m.Called(ctx, meetingId)
	return args.Get(0).([]Participant), args.Error(1)
}
func (m *MockMeetingRepository) CountActiveHosts(ctx context.Context, meetingId int) (int, error) {
	args := m.Called(ctx, meetingId)
	return args.Int(0), args.Error(1)
}
func (m *MockMeetingRepository) UpdateParticipantRole(ctx context.Context, meetingId, participantId int, role string) (Participant, error) {
	args := m.Called(ctx, meetingId, participantId, role)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockMeetingRepository) UpdateParticipantMute(ctx context.Context, meetingId, participantId int, muted bool) (Participant, error) {
	args := m.Called(ctx, meetingId, participantId, muted)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockMeetingRepository) UpdateParticipantHandRaise(ctx context.Context, meetingId, participantId int, raised bool) (Participant, error) {
	args := m.Called(ctx, meetingId, participantId, raised)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockMeetingRepository) RemoveParticipant(ctx context.Context, meetingId, participantId int) (time.Time, error) {
	args := m.Called(ctx, meetingId, participantId)
	return args.Get(0).(time.Time), args.Error(1)
}
func (m *MockMeetingRepository) CreateWaitingRoomEntry(ctx context.Context, params CreateWaitingRoomEntryParams) (WaitingRoomEntry, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(WaitingRoomEntry), args.Error(1)
}
func (m *MockMeetingRepository) GetWaitingEntry(ctx context.Context, meetingId, accountId int) (WaitingRoomEntry, error) {
	args := m.Called(ctx, meetingId, accountId)
	return args.Get(0).(WaitingRoomEntry), args.Error(1)
}
func (m *MockMeetingRepository) ListWaitingEntries(ctx context.Context, meetingId int) ([]WaitingRoomEntry, error) {
	args := m.Called(ctx, meetingId)
	return args.Get(0).([]WaitingRoomEntry), args.Error(1)
}
func (m *MockMeetingRepository) AdmitWaitingEntry(ctx context.Context, meetingId, accountId int) (Participant, error) {
	args := m.Called(ctx, meetingId, accountId)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockMeetingRepository) RejectWaitingEntry(ctx context.Context, meetingId, accountId int) error {
	args := m.Called(ctx, meetingId, accountId)
	return args.Error(0)
}
func (m *MockMeetingRepository) CreateAuditLogEntry(ctx context.Context, entry AuditLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}
