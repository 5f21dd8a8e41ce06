// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package types

// PaginationToken is an opaque cursor into a room's message history,
// issued by the homeserver. Tokens are compared only for equality; the
// ordering between two tokens is known only to the server.
type PaginationToken string

// TokenEnd is the sentinel cursor meaning "the end of known history".
// Both the live-stream resume point and the backfill cursor start here.
const TokenEnd PaginationToken = "END"

// DefaultPageSize is the number of events requested per backfill page.
const DefaultPageSize = 30

// SessionState is the single mutable record backing one room view. It is
// created when the view is initialised and discarded on teardown; nothing
// here is persisted. All mutation happens on the session's serial task
// queue, so the fields carry no locks of their own.
type SessionState struct {
	// The user this session authenticates as.
	UserID string

	// Where to resume the live event stream from. The stream consumer
	// owns advancement: its durable subscription tracks delivery, so
	// the session only seeds the starting point and never moves this.
	EventsFrom PaginationToken

	// How far back pagination has progressed. Only ever moves backward
	// in time, one backfill response at a time.
	EarliestToken PaginationToken

	// Toggled off once a backfill response comes back short. This is a
	// one-way latch: it never resets to true for the lifetime of the
	// session, even if the server later gains older history.
	CanPaginate bool

	// Single-flight guard for backfill requests. A paginate call made
	// while this is set is dropped, not queued.
	Paginating bool

	// Single-flight guard for outbound sends, same drop semantics.
	Sending bool
}

// NewSessionState returns session state positioned at the end of known
// history with pagination available.
func NewSessionState(userID string) *SessionState {
	return &SessionState{
		UserID:        userID,
		EventsFrom:    TokenEnd,
		EarliestToken: TokenEnd,
		CanPaginate:   true,
	}
}

// Member is the merged per-user record for one room: membership state,
// the latest presence sample, and profile data. A record is created the
// first time a user is seen and then only ever mutated field by field;
// it is never replaced and never deleted (a leave just updates
// Membership).
type Member struct {
	UserID string

	// Membership is authoritative from membership events only
	// ("join", "leave", "invite", ...).
	Membership string

	// Presence fields, from presence events or from the initial
	// membership content.
	PresenceState string
	MTimeAgeMS    int64

	// Profile fields. These may arrive from the asynchronous profile
	// lookups or embedded in later presence events; last write per
	// field wins.
	DisplayName string
	AvatarURL   string
}

// Label returns the name to render for this member: the resolved display
// name when we have one, otherwise the raw user ID.
func (m *Member) Label() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.UserID
}
