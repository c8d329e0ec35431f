package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Meeting struct {
	Id                     int
	ExternalId             string
	Title                  string
	Status                 string
	OwnerId                int
	SpotlightParticipantId *int
	ChatEnabled            bool
	ScreenShareEnabled     bool
	RequireAdmission       bool
	Whitelist              []string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type Participant struct {
	Id           int
	MeetingId    int
	AccountId    int
	Username     string
	Role         string
	IsMuted      bool
	HandRaised   bool
	HandRaisedAt *time.Time
	JoinTime     time.Time
	LeaveTime    *time.Time
}

type WaitingRoomEntry struct {
	Id          string
	MeetingId   int
	AccountId   int
	DisplayName string
	Status      string
	EnqueuedAt  time.Time
}

type AuditLogEntry struct {
	Id              string
	MeetingId       int
	ActorAccountId  int
	Action          string
	TargetAccountId *int
	Metadata        map[string]any
	CreatedAt       time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type UpdateAccountParams struct {
	UserId       int
	Username     string
	PasswordHash string
}

type CreateMeetingParams struct {
	Title              string
	ExternalId         string
	OwnerId            int
	ChatEnabled        bool
	ScreenShareEnabled bool
	RequireAdmission   bool
	Whitelist          []string
}

type CreateParticipantParams struct {
	MeetingId int
	AccountId int
	Role      string
}

type CreateWaitingRoomEntryParams struct {
	Id          string
	MeetingId   int
	AccountId   int
	DisplayName string
}
