package broadcast

import (
	"time"

	"github.com/tbellam/go-meeting/internal/types"
)

// Event type names carried on the wire. Subscribers must treat every event
// as duplicate-tolerant: delivery is at-least-once and a poller can observe
// the same change independently.
const (
	EventRoleChanged        = "role_changed"
	EventMuteChanged        = "mute_changed"
	EventHandRaiseChanged   = "hand_raise_changed"
	EventSpotlightChanged   = "spotlight_changed"
	EventParticipantJoined  = "participant_joined"
	EventParticipantRemoved = "participant_removed"
	EventParticipantLeft    = "participant_left"
	EventWaitingRoomUpdated = "waiting_room_updated"
	EventMeetingEnded       = "meeting_ended"
)

// ServerMessage is the envelope written to subscriber connections.
type ServerMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Event     *Event    `json:"event,omitempty"`
}

// Event is a tagged union: Type names the variant and exactly one of the
// payload pointers is set.
type Event struct {
	Type               string              `json:"type"`
	MeetingId          string              `json:"meeting_id"`
	RoleChanged        *RoleChanged        `json:"role_changed,omitempty"`
	MuteChanged        *MuteChanged        `json:"mute_changed,omitempty"`
	HandRaiseChanged   *HandRaiseChanged   `json:"hand_raise_changed,omitempty"`
	SpotlightChanged   *SpotlightChanged   `json:"spotlight_changed,omitempty"`
	ParticipantJoined  *ParticipantJoined  `json:"participant_joined,omitempty"`
	ParticipantRemoved *ParticipantRemoved `json:"participant_removed,omitempty"`
	ParticipantLeft    *ParticipantLeft    `json:"participant_left,omitempty"`
	WaitingRoomUpdated *WaitingRoomUpdated `json:"waiting_room_updated,omitempty"`
	MeetingEnded       *MeetingEnded       `json:"meeting_ended,omitempty"`
}

type RoleChanged struct {
	ParticipantId int        `json:"participant_id"`
	AccountId     int        `json:"account_id"`
	NewRole       types.Role `json:"new_role"`
}

type MuteChanged struct {
	ParticipantId int  `json:"participant_id"`
	AccountId     int  `json:"account_id"`
	Muted         bool `json:"muted"`
}

type HandRaiseChanged struct {
	ParticipantId int        `json:"participant_id"`
	AccountId     int        `json:"account_id"`
	Raised        bool       `json:"raised"`
	RaisedAt      *time.Time `json:"raised_at,omitempty"`
}

type SpotlightChanged struct {
	ParticipantId *int `json:"participant_id"`
}

type ParticipantJoined struct {
	Participant types.Participant `json:"participant"`
}

type ParticipantRemoved struct {
	ParticipantId int       `json:"participant_id"`
	AccountId     int       `json:"account_id"`
	RemovedAt     time.Time `json:"removed_at"`
}

type ParticipantLeft struct {
	ParticipantId int `json:"participant_id"`
	AccountId     int `json:"account_id"`
}

type WaitingRoomUpdated struct {
	AccountId   int                     `json:"account_id"`
	DisplayName string                  `json:"display_name,omitempty"`
	Status      types.WaitingRoomStatus `json:"status"`
}

type MeetingEnded struct{}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
