// Package policy decides whether an actor may perform a control-plane
// action on a target. Decisions are pure: the caller supplies every fact
// the rules need, so the same request always yields the same answer.
package policy

import (
	"github.com/tbellam/go-meeting/internal/types"
)

type Action string

const (
	ActionSpotlightSet      Action = "spotlight-set"
	ActionSpotlightClear    Action = "spotlight-clear"
	ActionMuteSelf          Action = "mute-self"
	ActionMuteOther         Action = "mute-other"
	ActionHandRaiseSet      Action = "hand-raise-set"
	ActionHandRaiseClear    Action = "hand-raise-clear"
	ActionRoleChange        Action = "role-change"
	ActionRemoveParticipant Action = "remove-participant"
	ActionWaitingRoomView   Action = "waiting-room-view"
	ActionWaitingRoomAdmit  Action = "waiting-room-admit"
	ActionWaitingRoomReject Action = "waiting-room-reject"
)

// Denial reason codes. These are part of the API contract; clients key off
// them, so they must stay stable.
const (
	ReasonNotPrivileged      = "not_privileged"
	ReasonHandRaiseSelfOnly  = "hand_raise_self_only"
	ReasonRoleChangeHostOnly = "role_change_host_only"
	ReasonLastHost           = "last_host"
	ReasonCannotRemoveHost   = "cannot_remove_host"
	ReasonUnknownAction      = "unknown_action"
)

type Request struct {
	ActorRole  types.Role
	Action     Action
	SelfTarget bool
	// TargetRole is the target participant's current role; zero for
	// actions without a participant target (spotlight-clear, waiting room).
	TargetRole types.Role
	// NewRole is consulted only for role-change.
	NewRole types.Role
	// RemainingHosts is the count of active hosts read in the same
	// transactional scope as the mutation. It gates demoting a host.
	RemainingHosts int
}

type Decision struct {
	Allowed bool
	Reason  string
	Message string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason, message string) Decision {
	return Decision{Reason: reason, Message: message}
}

// Decide evaluates the authorization rules in order and returns the first
// applicable outcome. The last-host rule here is advisory; the state store
// re-checks it atomically at mutation time.
func Decide(req Request) Decision {
	switch req.Action {
	case ActionSpotlightSet, ActionSpotlightClear, ActionMuteOther,
		ActionWaitingRoomView, ActionWaitingRoomAdmit, ActionWaitingRoomReject:
		if !req.ActorRole.Privileged() {
			return deny(ReasonNotPrivileged, "only a host or co-host can perform this action")
		}
		return allow()

	case ActionMuteSelf:
		return allow()

	case ActionHandRaiseSet:
		if !req.SelfTarget {
			return deny(ReasonHandRaiseSelfOnly, "a hand can only be raised for yourself")
		}
		return allow()

	case ActionHandRaiseClear:
		if req.SelfTarget || req.ActorRole.Privileged() {
			return allow()
		}
		return deny(ReasonHandRaiseSelfOnly, "only a host or co-host can lower another participant's hand")

	case ActionRoleChange:
		if req.ActorRole != types.RoleHost {
			return deny(ReasonRoleChangeHostOnly, "only the host can change roles")
		}
		if req.TargetRole == types.RoleHost && req.NewRole != types.RoleHost && req.RemainingHosts <= 1 {
			return deny(ReasonLastHost, "cannot demote the last host of an active meeting")
		}
		return allow()

	case ActionRemoveParticipant:
		if !req.ActorRole.Privileged() {
			return deny(ReasonNotPrivileged, "only a host or co-host can remove participants")
		}
		if req.TargetRole == types.RoleHost {
			return deny(ReasonCannotRemoveHost, "a host cannot be removed; hosts leave voluntarily")
		}
		return allow()
	}

	return deny(ReasonUnknownAction, "unrecognized action")
}
