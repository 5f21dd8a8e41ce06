// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package session

import (
	"context"
	"strings"

	"github.com/Arceliar/phony"
	log "github.com/sirupsen/logrus"

	"github.com/element-hq/roomview/roomview/api"
	"github.com/element-hq/roomview/roomview/notify"
	"github.com/element-hq/roomview/roomview/registry"
	"github.com/element-hq/roomview/roomview/send"
	roomsync "github.com/element-hq/roomview/roomview/sync"
	"github.com/element-hq/roomview/roomview/types"
)

// Router abstracts navigation away from the room view: the terminal
// redirect when a room reference cannot be resolved, and the jump back
// to the room list after leaving.
type Router interface {
	Redirect(path string)
}

// Options configures a room session.
type Options struct {
	// The authenticated user.
	UserID string
	// RoomRef is either a canonical room ID ("!...") or an alias
	// ("#..."), resolved once at session start.
	RoomRef string
	// PageSize overrides the backfill page size; zero means the
	// default.
	PageSize int

	Client   api.TransportClient
	Uploader api.Uploader
	View     roomsync.ViewPort
	Router   Router

	// Presenter and Hidden drive desktop notifications; either may be
	// nil/absent to disable them.
	Presenter notify.Presenter
	Hidden    func() bool
}

// Session is the synchronisation controller for a single room view. It
// is an actor: all state, including the registry and the message
// history mirror, is mutated only inside Act closures, so the core
// logic is single threaded and cooperative. Backend calls run in their
// own goroutines and post their completions back onto the inbox.
type Session struct {
	phony.Inbox

	ctx    context.Context
	cancel context.CancelFunc

	client api.TransportClient
	view   roomsync.ViewPort
	router Router

	roomRef   string
	roomID    string
	roomAlias string
	pageSize  int

	state     *types.SessionState
	members   *registry.Registry
	paginator *roomsync.Paginator
	sender    *send.Pipeline
	notifier  *notify.Notifier

	// history is the local mirror of the room's message timeline,
	// oldest first. Backfill prepends, live messages append.
	history []types.MessageEvent

	// feedback is the latest user-facing message from a failed (or
	// notable) action.
	feedback string

	onChange func()
	started  bool
}

// New creates a session for one room view. Call Start to begin the
// resolve/join/seed/paginate sequence and Stop to tear the session
// down.
func New(ctx context.Context, opts Options) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ctx:      ctx,
		cancel:   cancel,
		client:   opts.Client,
		view:     opts.View,
		router:   opts.Router,
		roomRef:  opts.RoomRef,
		pageSize: opts.PageSize,
		state:    types.NewSessionState(opts.UserID),
		notifier: notify.New(opts.Presenter, opts.Hidden),
	}
	if s.pageSize <= 0 {
		s.pageSize = types.DefaultPageSize
	}
	if s.view == nil {
		s.view = roomsync.HeadlessViewPort{}
	}

	s.members = registry.New(s)
	s.members.UseProfiles(registry.NewResolver(ctx, opts.Client, s, s.members))
	s.sender = send.NewPipeline(ctx, "", s.state, opts.Client, opts.Uploader, s, s.setFeedback)
	return s
}

// SetView replaces the viewport. Mainly for views that need the session
// constructed first; a paginator already running is re-pointed at the
// new view too.
func (s *Session) SetView(view roomsync.ViewPort) {
	s.Act(nil, func() {
		s.view = view
		if s.paginator != nil {
			s.paginator.SetView(view)
		}
	})
}

// Post implements api.TaskQueue on top of the actor inbox.
func (s *Session) Post(f func()) {
	s.Act(nil, f)
}

// OnChange registers the "state changed" signal. It is invoked on the
// session's task queue after every batch of mutations, so the handler
// must not block and must read session state via the accessor methods
// if it needs a consistent snapshot later.
func (s *Session) OnChange(f func()) {
	s.Act(nil, func() { s.onChange = f })
}

func (s *Session) signalChanged() {
	if s.onChange != nil {
		s.onChange()
	}
}

// Start resolves the room reference and drives the session to its live
// state: resolve identity, join, seed the member list, run the first
// backfill. Each step's failure semantics differ; see the per-step
// handlers.
func (s *Session) Start() {
	s.Act(nil, s.resolve)
}

// Stop tears the session down. Outstanding backend calls are abandoned
// via context cancellation; nothing is persisted.
func (s *Session) Stop() {
	s.cancel()
}

// resolve decides whether the room reference is already canonical or
// needs an alias lookup. An unresolvable reference is fatal to session
// start: we redirect to the default view and never join.
func (s *Session) resolve() {
	if s.started {
		return
	}
	s.started = true

	switch {
	case strings.HasPrefix(s.roomRef, "!"):
		s.roomID = s.roomRef
		s.begin()
	case strings.HasPrefix(s.roomRef, "#"):
		s.roomAlias = s.roomRef
		log.WithField("room_alias", s.roomAlias).Debug("Resolving room alias")
		go func() {
			roomID, err := s.client.ResolveAlias(s.ctx, s.roomAlias)
			s.Act(nil, func() {
				if err != nil {
					log.WithError(err).WithField("room_alias", s.roomAlias).Error("Cannot resolve room alias")
					s.redirect("/")
					return
				}
				s.roomID = roomID
				log.WithFields(log.Fields{
					"room_alias": s.roomAlias,
					"room_id":    s.roomID,
				}).Debug("Resolved room alias")
				s.begin()
			})
		}()
	default:
		log.WithField("room_ref", s.roomRef).Error("Cannot extract room alias")
		s.redirect("/")
	}
}

// begin runs once the room ID is known: join, then seed membership and
// start pagination. A join failure leaves the session un-joined with
// feedback and no retry.
func (s *Session) begin() {
	s.paginator = roomsync.NewPaginator(
		s.ctx, s.roomID, s.state, s.client, s.view, s,
		s.ingestHistory,
		func(err error) {
			s.setFeedback("Failed to paginate: " + api.Feedback(err))
		},
	)
	s.sender.SetRoom(s.roomID)

	go func() {
		err := s.client.Join(s.ctx, s.roomID)
		s.Act(nil, func() {
			if err != nil {
				s.setFeedback("Can't join room: " + api.Feedback(err))
				return
			}
			log.WithField("room_id", s.roomID).Info("Joined room")

			// Membership seeding is best effort: if the snapshot fetch
			// fails we show feedback but still paginate.
			s.seedMembers()
			s.paginator.Paginate(s.pageSize)
			s.signalChanged()
		})
	}()
}

// seedMembers fetches the current membership snapshot and applies each
// entry through the registry, exactly as if it had arrived on the
// stream.
func (s *Session) seedMembers() {
	go func() {
		chunk, err := s.client.MemberList(s.ctx, s.roomID)
		s.Act(nil, func() {
			if err != nil {
				s.setFeedback("Failed get member list: " + api.Feedback(err))
				return
			}
			for _, ev := range chunk {
				s.members.ApplyMembershipEvent(ev)
			}
			s.signalChanged()
		})
	}()
}

// OnRoomEvent implements api.EventSink: live events pushed by the
// stream enter the session here.
func (s *Session) OnRoomEvent(ev types.RoomEvent) {
	s.Act(nil, func() {
		s.routeEvent(ev)
		s.signalChanged()
	})
}

// routeEvent dispatches one event by tag. Must run on the inbox.
func (s *Session) routeEvent(ev types.RoomEvent) {
	switch ev.Kind {
	case types.KindMembership:
		if ev.Membership != nil {
			s.members.ApplyMembershipEvent(*ev.Membership)
		}
	case types.KindPresence:
		if ev.Presence != nil {
			s.members.ApplyPresenceEvent(*ev.Presence)
		}
	case types.KindMessage:
		if ev.Message == nil {
			return
		}
		msg := *ev.Message
		if !ev.Live {
			s.history = append(s.history, msg)
			return
		}
		if msg.RoomID != s.roomID {
			return
		}
		s.history = append(s.history, msg)
		s.view.ScrollToBottom()
		s.notifyMessage(msg)
	default:
		log.WithField("kind", ev.Kind).Debug("Dropping room event of unknown kind")
	}
}

// ingestHistory routes one backfill page into the session. The chunk is
// oldest-first and strictly older than anything already mirrored, so
// its messages are prepended as a block; membership and presence events
// found in history still go through the registry.
func (s *Session) ingestHistory(events []types.RoomEvent) {
	older := make([]types.MessageEvent, 0, len(events))
	for _, ev := range events {
		if ev.Kind == types.KindMessage {
			if ev.Message != nil {
				older = append(older, *ev.Message)
			}
			continue
		}
		s.routeEvent(ev)
	}
	s.history = append(older, s.history...)
	s.signalChanged()
}

// notifyMessage raises the best-effort desktop notification for a live
// message: titled with the sender's resolved display name (or raw ID)
// and the room alias (or ID), auto-dismissed by the notifier.
func (s *Session) notifyMessage(msg types.MessageEvent) {
	sender := msg.UserID
	icon := ""
	if m, ok := s.members.Member(msg.UserID); ok {
		sender = m.Label()
		icon = m.AvatarURL
	}
	where := s.roomAlias
	if where == "" {
		where = s.roomID
	}
	s.notifier.LiveMessage(sender+" ("+where+")", msg.Body, icon)
}

func (s *Session) setFeedback(text string) {
	s.feedback = text
	s.signalChanged()
}

func (s *Session) redirect(path string) {
	if s.router != nil {
		s.router.Redirect(path)
	}
}

// --- user actions, invokable from any goroutine ---

// Paginate requests one more page of history.
func (s *Session) Paginate() {
	s.Act(nil, func() {
		if s.paginator != nil {
			s.paginator.Paginate(s.pageSize)
		}
	})
}

// PaginateMore requests one more page unless history is exhausted.
func (s *Session) PaginateMore() {
	s.Act(nil, func() {
		if s.paginator != nil {
			s.paginator.PaginateMore()
		}
	})
}

// SetInput replaces the composed message text.
func (s *Session) SetInput(text string) {
	s.Act(nil, func() { s.sender.SetInput(text) })
}

// Send dispatches the composed message text.
func (s *Session) Send() {
	s.Act(nil, func() { s.sender.Send() })
}

// SendImage sends an already-uploaded image by URL.
func (s *Session) SendImage(imageURL string) {
	s.Act(nil, func() { s.sender.SendImage(imageURL) })
}

// SendImageFile uploads a file and sends the resulting URL.
func (s *Session) SendImageFile(filename string, contents []byte) {
	s.Act(nil, func() { s.sender.SendImageFile(filename, contents) })
}

// InviteUser invites another user to the room.
func (s *Session) InviteUser(userID string) {
	s.Act(nil, func() {
		go func() {
			err := s.client.Invite(s.ctx, s.roomID, userID)
			s.Act(nil, func() {
				if err != nil {
					s.setFeedback("Failure: " + api.Feedback(err))
					return
				}
				log.WithFields(log.Fields{
					"room_id": s.roomID,
					"user_id": userID,
				}).Debug("Invited user")
				s.setFeedback("Request for invitation succeeds")
			})
		}()
	})
}

// LeaveRoom leaves the room and, on success, navigates back to the
// room list.
func (s *Session) LeaveRoom() {
	s.Act(nil, func() {
		go func() {
			err := s.client.Leave(s.ctx, s.roomID)
			s.Act(nil, func() {
				if err != nil {
					s.setFeedback("Failed to leave room: " + api.Feedback(err))
					return
				}
				log.WithField("room_id", s.roomID).Info("Left room")
				s.redirect("rooms")
			})
		}()
	})
}

// --- read accessors; each takes a consistent snapshot via the inbox ---

// State returns a copy of the session state.
func (s *Session) State() types.SessionState {
	var st types.SessionState
	phony.Block(s, func() { st = *s.state })
	return st
}

// RoomID returns the resolved room ID, or "" before resolution.
func (s *Session) RoomID() string {
	var id string
	phony.Block(s, func() { id = s.roomID })
	return id
}

// RoomAlias returns the room alias, or "" if the session was started
// from a room ID.
func (s *Session) RoomAlias() string {
	var alias string
	phony.Block(s, func() { alias = s.roomAlias })
	return alias
}

// Feedback returns the latest user-facing feedback text.
func (s *Session) Feedback() string {
	var f string
	phony.Block(s, func() { f = s.feedback })
	return f
}

// Input returns the composed message text.
func (s *Session) Input() string {
	var text string
	phony.Block(s, func() { text = s.sender.Input() })
	return text
}

// Members returns a snapshot of the member registry, copied by value.
func (s *Session) Members() map[string]types.Member {
	snapshot := make(map[string]types.Member)
	phony.Block(s, func() {
		for userID, m := range s.members.Members() {
			snapshot[userID] = *m
		}
	})
	return snapshot
}

// History returns a copy of the mirrored message timeline, oldest
// first.
func (s *Session) History() []types.MessageEvent {
	var history []types.MessageEvent
	phony.Block(s, func() {
		history = append(history, s.history...)
	})
	return history
}
