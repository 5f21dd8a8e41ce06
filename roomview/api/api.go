// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package api

import (
	"context"
	"fmt"

	"github.com/element-hq/roomview/roomview/types"
)

// RoomPage is one page of backfilled history. Chunk is ordered
// oldest-first; End is the cursor to hand back to continue paginating
// further into the past.
type RoomPage struct {
	Chunk []types.RoomEvent
	End   types.PaginationToken
}

// TransportClient is the request/response side of the homeserver
// connection. Every call either succeeds or reports a structured error;
// callers convert failures into user-facing feedback and never retry on
// their own.
type TransportClient interface {
	// ResolveAlias maps a human-readable room alias to its room ID.
	ResolveAlias(ctx context.Context, alias string) (roomID string, err error)
	// Join joins the given room on behalf of the session user.
	Join(ctx context.Context, roomID string) error
	// MemberList fetches the current membership snapshot of the room.
	MemberList(ctx context.Context, roomID string) ([]types.MembershipEvent, error)
	// PaginateBackMessages fetches up to limit events older than the
	// given cursor.
	PaginateBackMessages(ctx context.Context, roomID string, from types.PaginationToken, limit int) (*RoomPage, error)

	ProfileClient
	SendClient
}

// ProfileClient covers the two out-of-band profile lookups. They are
// deliberately separate calls: either may fail or complete without the
// other.
type ProfileClient interface {
	DisplayName(ctx context.Context, userID string) (string, error)
	AvatarURL(ctx context.Context, userID string) (string, error)
}

// SendClient covers the fire-and-report calls driven by user actions.
type SendClient interface {
	SendTextMessage(ctx context.Context, roomID, body string) error
	SendEmoteMessage(ctx context.Context, roomID, body string) error
	SendImageMessage(ctx context.Context, roomID, imageURL string) error
	Invite(ctx context.Context, roomID, userID string) error
	Leave(ctx context.Context, roomID string) error
}

// Uploader is the external file-upload helper. It turns file contents
// into a URL that can be sent as an image message.
type Uploader interface {
	UploadFile(ctx context.Context, filename string, contents []byte) (url string, err error)
}

// TaskQueue posts work onto the session's serial execution queue.
// Everything that touches session state runs there, one task at a time.
// Posting from within a running task enqueues behind any tasks already
// queued, which is how completion handlers are deferred past the batch
// that scheduled them.
type TaskQueue interface {
	Post(func())
}

// EventSink receives room events from the live stream.
type EventSink interface {
	OnRoomEvent(ev types.RoomEvent)
}

// CallError is a structured failure from the homeserver: a machine
// readable code plus a human readable message.
type CallError struct {
	Code    string
	Message string
}

func (e *CallError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Feedback renders an error the way the view presents it. CallError
// failures surface just their server-provided message.
func Feedback(err error) string {
	if ce, ok := err.(*CallError); ok {
		return ce.Message
	}
	return err.Error()
}
