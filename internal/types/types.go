package types

import (
	"time"
)

type Role string

const (
	RoleHost        Role = "host"
	RoleCoHost      Role = "co-host"
	RoleParticipant Role = "participant"
)

// Valid reports whether r is one of the three meeting roles.
func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleCoHost, RoleParticipant:
		return true
	}
	return false
}

// Privileged reports whether r may perform host/co-host control actions.
func (r Role) Privileged() bool {
	return r == RoleHost || r == RoleCoHost
}

type MeetingStatus string

const (
	MeetingScheduled MeetingStatus = "scheduled"
	MeetingActive    MeetingStatus = "active"
	MeetingEnded     MeetingStatus = "ended"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type MeetingSettings struct {
	ChatEnabled        bool `json:"chat_enabled"`
	ScreenShareEnabled bool `json:"screen_share_enabled"`
	RequireAdmission   bool `json:"require_admission"`
}

type Meeting struct {
	Id                     int             `json:"id"`
	ExternalId             string          `json:"external_id"`
	Title                  string          `json:"title"`
	Status                 MeetingStatus   `json:"status"`
	OwnerId                int             `json:"owner_id"`
	SpotlightParticipantId *int            `json:"spotlight_participant_id"`
	Settings               MeetingSettings `json:"settings"`
	Whitelist              []string        `json:"whitelist,omitempty"`
	CreatedAt              time.Time       `json:"created_at,omitempty"`
	UpdatedAt              time.Time       `json:"updated_at,omitempty"`
}

type Participant struct {
	Id           int        `json:"id"`
	MeetingId    int        `json:"meeting_id"`
	AccountId    int        `json:"account_id"`
	Username     string     `json:"username,omitempty"`
	Role         Role       `json:"role"`
	IsMuted      bool       `json:"is_muted"`
	HandRaised   bool       `json:"hand_raised"`
	HandRaisedAt *time.Time `json:"hand_raised_at,omitempty"`
	JoinTime     time.Time  `json:"join_time"`
	LeaveTime    *time.Time `json:"leave_time,omitempty"`
}

// Active reports whether the participant is currently in the meeting.
func (p Participant) Active() bool {
	return p.LeaveTime == nil
}

type WaitingRoomStatus string

const (
	WaitingRoomWaiting  WaitingRoomStatus = "waiting"
	WaitingRoomAdmitted WaitingRoomStatus = "admitted"
	WaitingRoomRejected WaitingRoomStatus = "rejected"
)

type WaitingRoomEntry struct {
	Id          string            `json:"id"`
	MeetingId   int               `json:"meeting_id"`
	AccountId   int               `json:"account_id"`
	DisplayName string            `json:"display_name"`
	Status      WaitingRoomStatus `json:"status"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
}
