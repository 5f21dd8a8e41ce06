// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package sync

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/element-hq/roomview/roomview/api"
	"github.com/element-hq/roomview/roomview/types"
)

// Backfiller is the one transport call the paginator needs.
type Backfiller interface {
	PaginateBackMessages(ctx context.Context, roomID string, from types.PaginationToken, limit int) (*api.RoomPage, error)
}

// Paginator extends the local history backward in time, one page at a
// time, while keeping the view anchored. State transitions:
//
//   - Paginating guards the single outstanding request. A Paginate call
//     while it is set is dropped, never queued.
//   - CanPaginate latches false the first time a page comes back short.
//     It never latches back: exhausted history stays exhausted for the
//     session even if the server grows older content later.
//
// All methods and completion handlers run on the session task queue;
// only the transport call itself runs concurrently.
type Paginator struct {
	ctx    context.Context
	roomID string
	state  *types.SessionState
	client Backfiller
	view   ViewPort
	tasks  api.TaskQueue

	// ingest routes a page of historical events into the registry and
	// the message history, oldest-first.
	ingest func([]types.RoomEvent)

	// onError surfaces a failed page for user-visible feedback. The
	// failure only blocks that page; the user retries by paginating
	// again.
	onError func(error)

	// first is true until the first page has been ingested. The first
	// page scrolls to the bottom; later pages restore the anchor.
	first bool
}

// NewPaginator wires a paginator over the shared session state.
func NewPaginator(
	ctx context.Context,
	roomID string,
	state *types.SessionState,
	client Backfiller,
	view ViewPort,
	tasks api.TaskQueue,
	ingest func([]types.RoomEvent),
	onError func(error),
) *Paginator {
	return &Paginator{
		ctx:     ctx,
		roomID:  roomID,
		state:   state,
		client:  client,
		view:    view,
		tasks:   tasks,
		ingest:  ingest,
		onError: onError,
		first:   true,
	}
}

// SetView replaces the viewport. Must run on the session task queue; a
// request already in flight keeps the anchor it captured from the old
// view.
func (p *Paginator) SetView(view ViewPort) {
	p.view = view
}

// PaginateMore requests a standard page, unless history is already
// exhausted.
func (p *Paginator) PaginateMore() {
	if p.state.CanPaginate {
		p.Paginate(types.DefaultPageSize)
	}
}

// Paginate requests up to numItems events older than the current
// earliest token. The call is a no-op while a request is already in
// flight, and once history is exhausted.
func (p *Paginator) Paginate(numItems int) {
	if p.state.Paginating || !p.state.CanPaginate {
		return
	}
	p.state.Paginating = true

	// Capture the anchor before the request so the view can pin the
	// currently-topmost item once the older content lands above it.
	anchor := p.view.TopAnchor()
	from := p.state.EarliestToken

	log.WithFields(log.Fields{
		"room_id": p.roomID,
		"from":    from,
		"limit":   numItems,
	}).Debug("Paginating back messages")

	go func() {
		page, err := p.client.PaginateBackMessages(p.ctx, p.roomID, from, numItems)
		p.tasks.Post(func() {
			p.finish(page, err, anchor, numItems)
		})
	}()
}

func (p *Paginator) finish(page *api.RoomPage, err error, anchor Anchor, numItems int) {
	if err != nil {
		backfillFailures.Inc()
		p.state.Paginating = false
		log.WithError(err).WithField("room_id", p.roomID).Error("Failed to paginate back messages")
		if p.onError != nil {
			p.onError(err)
		}
		return
	}

	first := p.first
	p.first = false

	p.ingest(page.Chunk)
	p.state.EarliestToken = page.End
	if len(page.Chunk) < numItems {
		// No more messages to paginate. This never flips back: we do
		// not expire paginated contents within a session.
		p.state.CanPaginate = false
	}
	p.state.Paginating = false

	backfillPages.Inc()
	backfillEvents.Add(float64(len(page.Chunk)))

	if p.state.CanPaginate {
		// The page may not have been enough to fill the viewport.
		// Heights are stale until the view has laid out the new
		// content, so the check has to wait for AfterLayout.
		p.view.AfterLayout(func() {
			p.tasks.Post(func() {
				if p.view.ContentHeight() < p.view.ViewportHeight() {
					p.Paginate(numItems)
					p.view.ScrollToBottom()
				}
			})
		})
	}

	if first {
		p.view.ScrollToBottom()
	} else {
		// Lock the scroll position. Restoration must also wait for
		// layout, or the anchor offset would be measured against the
		// pre-insertion geometry.
		p.view.AfterLayout(func() {
			p.tasks.Post(func() {
				p.view.RestoreAnchor(anchor)
			})
		})
	}
}
