// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package registry

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/element-hq/roomview/roomview/api"
)

const (
	// How long a resolved profile stays good for. Re-seeding the member
	// list within this window reuses the memo instead of hitting the
	// homeserver again.
	profileMemoTTL = 15 * time.Minute

	profileMemoSweep = 5 * time.Minute
)

// resolvedProfile is the memoised result of the two profile lookups.
// Either field may still be empty if its lookup failed or has not
// completed yet.
type resolvedProfile struct {
	displayName string
	avatarURL   string
}

// Resolver fills in display names and avatar URLs for members as they
// are first seen. The two lookups per user are independent: they run
// concurrently, complete in any order, and fail individually without
// surfacing anything to the user. A missing profile just means the view
// falls back to the raw user ID.
type Resolver struct {
	ctx      context.Context
	client   api.ProfileClient
	tasks    api.TaskQueue
	registry *Registry
	memo     *cache.Cache
}

// NewResolver creates a resolver that patches results into reg. Ensure
// and the completion handlers it schedules all run on the task queue;
// only the homeserver calls themselves leave it.
func NewResolver(ctx context.Context, client api.ProfileClient, tasks api.TaskQueue, reg *Registry) *Resolver {
	return &Resolver{
		ctx:      ctx,
		client:   client,
		tasks:    tasks,
		registry: reg,
		memo:     cache.New(profileMemoTTL, profileMemoSweep),
	}
}

// Ensure starts profile resolution for a user. Must run on the task
// queue.
func (r *Resolver) Ensure(userID string) {
	if p, ok := r.memo.Get(userID); ok {
		prof := p.(resolvedProfile)
		if prof.displayName != "" {
			r.registry.PatchDisplayName(userID, prof.displayName)
		}
		if prof.avatarURL != "" {
			r.registry.PatchAvatarURL(userID, prof.avatarURL)
		}
		return
	}

	go func() {
		displayName, err := r.client.DisplayName(r.ctx, userID)
		if err != nil {
			log.WithError(err).WithField("user_id", userID).Debug("Display name lookup failed")
			return
		}
		r.tasks.Post(func() {
			// The registry may have changed while the request was in
			// flight; patch through the live record by ID.
			r.registry.PatchDisplayName(userID, displayName)
			r.memoise(userID, func(p *resolvedProfile) { p.displayName = displayName })
		})
	}()

	go func() {
		avatarURL, err := r.client.AvatarURL(r.ctx, userID)
		if err != nil {
			log.WithError(err).WithField("user_id", userID).Debug("Avatar URL lookup failed")
			return
		}
		r.tasks.Post(func() {
			r.registry.PatchAvatarURL(userID, avatarURL)
			r.memoise(userID, func(p *resolvedProfile) { p.avatarURL = avatarURL })
		})
	}()
}

// memoise updates one field of the memo entry for userID. Runs on the
// task queue, so read-modify-write on the entry is safe.
func (r *Resolver) memoise(userID string, update func(*resolvedProfile)) {
	var prof resolvedProfile
	if p, ok := r.memo.Get(userID); ok {
		prof = p.(resolvedProfile)
	}
	update(&prof)
	r.memo.Set(userID, prof, cache.DefaultExpiration)
}
