// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package types

// EventKind tags the union of room event payloads delivered by the
// event stream or returned by backfill.
type EventKind int

const (
	KindMessage EventKind = iota + 1
	KindMembership
	KindPresence
)

// String implements fmt.Stringer, mostly for log fields.
func (k EventKind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindMembership:
		return "membership"
	case KindPresence:
		return "presence"
	default:
		return "unknown"
	}
}

// RoomEvent is a tagged union: exactly one of the payload pointers is
// non-nil, matching Kind. Live marks events pushed by the stream as they
// happen, as opposed to historical events pulled in by backfill.
type RoomEvent struct {
	Kind EventKind
	Live bool

	Message    *MessageEvent
	Membership *MembershipEvent
	Presence   *PresenceEvent
}

// MessageEvent is a room message.
type MessageEvent struct {
	RoomID string
	UserID string
	Body   string
}

// MembershipEvent changes one user's membership in the room. Optional
// content fields are pointers: nil means "not present in the event",
// which is distinct from present-but-zero for merge purposes.
type MembershipEvent struct {
	TargetUserID string
	Content      MembershipContent
}

// MembershipContent is the content block of a membership event. State
// and MTimeAgeMS piggyback an initial presence sample on some servers.
type MembershipContent struct {
	Membership string
	State      *string
	MTimeAgeMS *int64
}

// PresenceEvent updates the presence sample for one user, and may also
// carry fresher profile data. Every field except UserID is optional.
type PresenceEvent struct {
	Content PresenceContent
}

// PresenceContent is the content block of a presence event.
type PresenceContent struct {
	UserID      string
	State       *string
	MTimeAgeMS  *int64
	DisplayName *string
	AvatarURL   *string
}

// NewMessageEvent wraps a message payload in a RoomEvent.
func NewMessageEvent(live bool, ev MessageEvent) RoomEvent {
	return RoomEvent{Kind: KindMessage, Live: live, Message: &ev}
}

// NewMembershipEvent wraps a membership payload in a RoomEvent.
func NewMembershipEvent(live bool, ev MembershipEvent) RoomEvent {
	return RoomEvent{Kind: KindMembership, Live: live, Membership: &ev}
}

// NewPresenceEvent wraps a presence payload in a RoomEvent.
func NewPresenceEvent(live bool, ev PresenceEvent) RoomEvent {
	return RoomEvent{Kind: KindPresence, Live: live, Presence: &ev}
}
