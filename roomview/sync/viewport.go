// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package sync

// Anchor is an opaque handle to the topmost rendered history item at
// the moment it was captured. The paginator records one before every
// backfill request and hands it back after ingestion so the view can
// keep that item visually stationary.
type Anchor interface{}

// ViewPort is the contract between the paginator and whatever renders
// the room. Two directives matter: "keep the previously-topmost item
// stationary across a backward insertion" (RestoreAnchor) and "jump to
// the newest content" (ScrollToBottom).
//
// AfterLayout defers a callback until the view has recomputed layout
// for newly inserted content. Height readings and anchor restoration
// taken before that point would see stale geometry.
type ViewPort interface {
	TopAnchor() Anchor
	RestoreAnchor(anchor Anchor)
	ScrollToBottom()
	ContentHeight() int
	ViewportHeight() int
	AfterLayout(func())
}

// HeadlessViewPort is a ViewPort for sessions without a real renderer:
// layout callbacks run immediately, scroll directives are no-ops, and
// the reported content height always fills the viewport so the
// paginator never auto-backfills.
type HeadlessViewPort struct{}

func (HeadlessViewPort) TopAnchor() Anchor    { return nil }
func (HeadlessViewPort) RestoreAnchor(Anchor) {}
func (HeadlessViewPort) ScrollToBottom()      {}
func (HeadlessViewPort) ContentHeight() int   { return 1 }
func (HeadlessViewPort) ViewportHeight() int  { return 1 }
func (HeadlessViewPort) AfterLayout(f func()) { f() }
