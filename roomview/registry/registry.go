// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package registry

import (
	log "github.com/sirupsen/logrus"

	"github.com/element-hq/roomview/roomview/api"
	"github.com/element-hq/roomview/roomview/types"
)

// ProfileEnsurer kicks off the asynchronous profile lookups for a user.
type ProfileEnsurer interface {
	Ensure(userID string)
}

// Registry owns the per-user records for one room. It is not safe for
// concurrent use: every method must run on the session's task queue,
// which serialises all access. Updates are applied strictly in call
// order, with no internal batching or reordering.
type Registry struct {
	members  map[string]*types.Member
	tasks    api.TaskQueue
	profiles ProfileEnsurer
}

// New creates an empty registry. The task queue is used to defer
// profile resolution past the update batch that first saw the user.
func New(tasks api.TaskQueue) *Registry {
	return &Registry{
		members: make(map[string]*types.Member),
		tasks:   tasks,
	}
}

// UseProfiles attaches the profile resolver. Without one, members keep
// their raw user IDs until a presence event brings profile data along.
func (r *Registry) UseProfiles(p ProfileEnsurer) {
	r.profiles = p
}

// Member returns the live record for a user, if one exists. The record
// is shared, not a copy; mutate it only via the Apply/Patch methods.
func (r *Registry) Member(userID string) (*types.Member, bool) {
	m, ok := r.members[userID]
	return m, ok
}

// Members returns the live record map. Callers on the task queue may
// iterate it directly; anything else must snapshot first.
func (r *Registry) Members() map[string]*types.Member {
	return r.members
}

// Len returns the number of users ever seen in this room.
func (r *Registry) Len() int {
	return len(r.members)
}

// ApplyMembershipEvent routes one membership event into the registry.
//
// A first-seen user gets a fresh record seeded from the event content,
// and a profile resolution is scheduled for them. The resolution is
// posted to the task queue rather than started inline so that it runs
// after the current update batch, against a registry that already
// contains this insertion.
//
// For a user we already know, only the membership field is updated.
// Touching anything else here would clobber a display name or avatar
// that arrived in the meantime.
func (r *Registry) ApplyMembershipEvent(ev types.MembershipEvent) {
	userID := ev.TargetUserID
	if m, ok := r.members[userID]; ok {
		m.Membership = ev.Content.Membership
		return
	}

	m := &types.Member{
		UserID:     userID,
		Membership: ev.Content.Membership,
	}
	if ev.Content.State != nil {
		m.PresenceState = *ev.Content.State
	}
	if ev.Content.MTimeAgeMS != nil {
		m.MTimeAgeMS = *ev.Content.MTimeAgeMS
	}
	r.members[userID] = m

	if r.profiles != nil {
		r.tasks.Post(func() {
			r.profiles.Ensure(userID)
		})
	}
}

// ApplyPresenceEvent merges one presence event into an existing record.
// Each field is updated independently and only if the event carries it;
// absent fields are left alone. Presence for a user we have never seen
// is dropped: a presence event on its own never creates a record.
func (r *Registry) ApplyPresenceEvent(ev types.PresenceEvent) {
	userID := ev.Content.UserID
	m, ok := r.members[userID]
	if !ok {
		log.WithField("user_id", userID).Debug("Dropping presence for unknown room member")
		return
	}

	if ev.Content.State != nil {
		m.PresenceState = *ev.Content.State
	}
	if ev.Content.MTimeAgeMS != nil {
		m.MTimeAgeMS = *ev.Content.MTimeAgeMS
	}
	if ev.Content.DisplayName != nil {
		m.DisplayName = *ev.Content.DisplayName
	}
	if ev.Content.AvatarURL != nil {
		m.AvatarURL = *ev.Content.AvatarURL
	}
}

// PatchDisplayName sets the display name on the record for userID, if
// that record still exists. Completion handlers call this with just the
// user ID so that they always hit the live record, never a stale
// reference captured when the lookup was scheduled.
func (r *Registry) PatchDisplayName(userID, displayName string) {
	if m, ok := r.members[userID]; ok {
		m.DisplayName = displayName
	}
}

// PatchAvatarURL sets the avatar URL on the record for userID, if that
// record still exists. Same re-lookup discipline as PatchDisplayName.
func (r *Registry) PatchAvatarURL(userID, avatarURL string) {
	if m, ok := r.members[userID]; ok {
		m.AvatarURL = avatarURL
	}
}
