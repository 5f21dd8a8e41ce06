// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package sync

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/element-hq/roomview/roomview/api"
	"github.com/element-hq/roomview/roomview/types"
)

// taskRunner queues posted tasks until the test drains them.
type taskRunner struct {
	tasks chan func()
}

func newTaskRunner() *taskRunner {
	return &taskRunner{tasks: make(chan func(), 64)}
}

func (r *taskRunner) Post(f func()) {
	r.tasks <- f
}

func (r *taskRunner) run() {
	for {
		select {
		case f := <-r.tasks:
			f()
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}

// mockBackfiller serves scripted pages in order.
type mockBackfiller struct {
	pages []*api.RoomPage
	errs  []error
	calls atomic.Int64

	// blockUntil, when set, holds every request until the channel is
	// closed. Used to keep a request in flight.
	blockUntil chan struct{}
}

func (m *mockBackfiller) PaginateBackMessages(_ context.Context, _ string, _ types.PaginationToken, _ int) (*api.RoomPage, error) {
	n := int(m.calls.Add(1)) - 1
	if m.blockUntil != nil {
		<-m.blockUntil
	}
	if n < len(m.errs) && m.errs[n] != nil {
		return nil, m.errs[n]
	}
	if n < len(m.pages) {
		return m.pages[n], nil
	}
	return &api.RoomPage{End: "empty"}, nil
}

// mockView runs layout callbacks inline and records directives.
type mockView struct {
	contentHeight  int
	viewportHeight int
	anchorsTaken   int
	restored       []Anchor
	bottomScrolls  int
}

func (v *mockView) TopAnchor() Anchor {
	v.anchorsTaken++
	return fmt.Sprintf("anchor-%d", v.anchorsTaken)
}
func (v *mockView) RestoreAnchor(a Anchor) { v.restored = append(v.restored, a) }
func (v *mockView) ScrollToBottom()        { v.bottomScrolls++ }
func (v *mockView) ContentHeight() int     { return v.contentHeight }
func (v *mockView) ViewportHeight() int    { return v.viewportHeight }
func (v *mockView) AfterLayout(f func())   { f() }

// page builds a backfill page of n message events.
func page(n int, end types.PaginationToken) *api.RoomPage {
	p := &api.RoomPage{End: end}
	for i := 0; i < n; i++ {
		p.Chunk = append(p.Chunk, types.NewMessageEvent(false, types.MessageEvent{
			RoomID: "!room:localhost",
			UserID: "@alice:localhost",
			Body:   fmt.Sprintf("message %d", i),
		}))
	}
	return p
}

type harness struct {
	state    *types.SessionState
	view     *mockView
	tasks    *taskRunner
	client   *mockBackfiller
	ingested []types.RoomEvent
	errors   []error
	p        *Paginator
}

func newHarness(client *mockBackfiller, view *mockView) *harness {
	h := &harness{
		state:  types.NewSessionState("@me:localhost"),
		view:   view,
		tasks:  newTaskRunner(),
		client: client,
	}
	h.p = NewPaginator(
		context.Background(), "!room:localhost", h.state, client, view, h.tasks,
		func(events []types.RoomEvent) {
			h.ingested = append(h.ingested, events...)
			// Each ingested event makes the rendered content taller.
			view.contentHeight += len(events) * 10
		},
		func(err error) { h.errors = append(h.errors, err) },
	)
	return h
}

func TestPaginateSingleFlight(t *testing.T) {
	client := &mockBackfiller{
		pages:      []*api.RoomPage{page(30, "tok1")},
		blockUntil: make(chan struct{}),
	}
	view := &mockView{viewportHeight: 100}
	h := newHarness(client, view)

	h.p.Paginate(30)
	// Calls while the first request is outstanding are dropped, not
	// queued.
	h.p.Paginate(30)
	h.p.Paginate(30)

	close(client.blockUntil)
	h.tasks.run()

	assert.Equal(t, int64(1), client.calls.Load())
	assert.Len(t, h.ingested, 30)
	assert.False(t, h.state.Paginating)
}

func TestFullPageAdvancesToken(t *testing.T) {
	client := &mockBackfiller{pages: []*api.RoomPage{page(30, "tok1")}}
	view := &mockView{contentHeight: 500, viewportHeight: 100}
	h := newHarness(client, view)

	h.p.Paginate(30)
	h.tasks.run()

	assert.Equal(t, types.PaginationToken("tok1"), h.state.EarliestToken)
	assert.True(t, h.state.CanPaginate)
	assert.False(t, h.state.Paginating)
	assert.Equal(t, int64(1), client.calls.Load())
}

func TestShortPageLatchesExhaustion(t *testing.T) {
	client := &mockBackfiller{pages: []*api.RoomPage{
		page(30, "tok1"),
		page(12, "tok2"),
	}}
	view := &mockView{contentHeight: 500, viewportHeight: 100}
	h := newHarness(client, view)

	h.p.Paginate(30)
	h.tasks.run()
	h.p.Paginate(30)
	h.tasks.run()

	assert.Equal(t, types.PaginationToken("tok2"), h.state.EarliestToken)
	assert.False(t, h.state.CanPaginate)
	assert.Len(t, h.ingested, 42)

	// Exhausted history means no further automatic pagination, no
	// matter what the viewport looks like.
	view.contentHeight = 0
	h.p.PaginateMore()
	h.tasks.run()
	assert.Equal(t, int64(2), client.calls.Load())
}

func TestExhaustedHistoryIgnoresDirectPaginate(t *testing.T) {
	client := &mockBackfiller{pages: []*api.RoomPage{
		page(3, "tok1"),
		page(30, "tok2"),
	}}
	view := &mockView{contentHeight: 500, viewportHeight: 100}
	h := newHarness(client, view)

	h.p.Paginate(30)
	h.tasks.run()
	require.False(t, h.state.CanPaginate)

	// Once the latch has flipped, even an explicit paginate request is
	// dropped: no network call, no token movement.
	h.p.Paginate(30)
	h.tasks.run()

	assert.Equal(t, int64(1), client.calls.Load())
	assert.Equal(t, types.PaginationToken("tok1"), h.state.EarliestToken)
	assert.Len(t, h.ingested, 3)
}

func TestShortPageNeverRetriggersEvenWhenViewportUnfilled(t *testing.T) {
	client := &mockBackfiller{pages: []*api.RoomPage{page(3, "tok1")}}
	// Three events of height 10 cannot fill a 1000px viewport, but the
	// short page latched can_paginate off first.
	view := &mockView{viewportHeight: 1000}
	h := newHarness(client, view)

	h.p.Paginate(30)
	h.tasks.run()

	assert.False(t, h.state.CanPaginate)
	assert.Equal(t, int64(1), client.calls.Load())
}

func TestViewportFillTriggersExactlyOneMorePage(t *testing.T) {
	client := &mockBackfiller{pages: []*api.RoomPage{
		page(30, "tok1"),
		page(30, "tok2"),
	}}
	// First page (30 events * 10px) does not fill 400px; the second
	// pushes content past the viewport, so exactly one extra request.
	view := &mockView{viewportHeight: 400}
	h := newHarness(client, view)

	h.p.Paginate(30)
	h.tasks.run()

	assert.Equal(t, int64(2), client.calls.Load())
	assert.Equal(t, types.PaginationToken("tok2"), h.state.EarliestToken)
	assert.True(t, h.state.CanPaginate)
}

func TestFirstPageScrollsToBottomLaterPagesRestoreAnchor(t *testing.T) {
	client := &mockBackfiller{pages: []*api.RoomPage{
		page(30, "tok1"),
		page(30, "tok2"),
	}}
	view := &mockView{contentHeight: 500, viewportHeight: 100}
	h := newHarness(client, view)

	h.p.Paginate(30)
	h.tasks.run()
	require.Equal(t, 1, view.bottomScrolls)
	assert.Empty(t, view.restored)

	h.p.Paginate(30)
	h.tasks.run()
	assert.Equal(t, 1, view.bottomScrolls, "only the first page scrolls to bottom")
	require.Len(t, view.restored, 1)
	assert.Equal(t, "anchor-2", view.restored[0], "anchor captured before the request is the one restored")
}

func TestFailureClearsGuardAndAllowsRetry(t *testing.T) {
	client := &mockBackfiller{
		errs:  []error{fmt.Errorf("backfill unavailable")},
		pages: []*api.RoomPage{nil, page(30, "tok1")},
	}
	view := &mockView{contentHeight: 500, viewportHeight: 100}
	h := newHarness(client, view)

	h.p.Paginate(30)
	h.tasks.run()

	require.Len(t, h.errors, 1)
	assert.False(t, h.state.Paginating)
	assert.True(t, h.state.CanPaginate)
	assert.Equal(t, types.TokenEnd, h.state.EarliestToken)
	assert.Empty(t, h.ingested)

	// Manual retry succeeds and is still treated as the first page.
	h.p.Paginate(30)
	h.tasks.run()
	assert.Equal(t, types.PaginationToken("tok1"), h.state.EarliestToken)
	assert.Equal(t, 1, view.bottomScrolls)
}
