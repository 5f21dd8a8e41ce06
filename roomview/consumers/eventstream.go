// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package consumers

import (
	"context"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/element-hq/roomview/roomview/api"
	"github.com/element-hq/roomview/roomview/types"
)

// Message headers set by the event stream producer.
const (
	headerKind   = "kind"
	headerLive   = "live"
	headerRoomID = "room_id"
	headerUserID = "user_id"
)

// RoomEventConsumer consumes the live room event stream and routes each
// event into the session. Events arrive as a tagged union: the kind and
// liveness travel in headers, the payload is the JSON content block.
type RoomEventConsumer struct {
	ctx       context.Context
	jetstream nats.JetStreamContext
	topic     string
	durable   string
	sink      api.EventSink
	sub       *nats.Subscription
}

// NewRoomEventConsumer creates a new RoomEventConsumer. Call Start() to
// begin consuming from the stream.
func NewRoomEventConsumer(
	ctx context.Context,
	js nats.JetStreamContext,
	topic, durable string,
	sink api.EventSink,
) *RoomEventConsumer {
	return &RoomEventConsumer{
		ctx:       ctx,
		jetstream: js,
		topic:     topic,
		durable:   durable,
		sink:      sink,
	}
}

// Start consuming room events.
func (c *RoomEventConsumer) Start() error {
	sub, err := c.jetstream.Subscribe(
		c.topic, c.onMessage,
		nats.DeliverAll(), nats.ManualAck(), nats.Durable(c.durable),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", c.topic, err)
	}
	c.sub = sub
	return nil
}

// Stop unsubscribes from the stream. Events already handed to the sink
// still get processed.
func (c *RoomEventConsumer) Stop() {
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
}

func (c *RoomEventConsumer) onMessage(msg *nats.Msg) {
	ev, err := parseRoomEvent(msg)
	if err != nil {
		// If the message was invalid, log it and move on to the next
		// message in the stream.
		log.WithError(err).Errorf("room event stream: message parse failure")
		sentry.CaptureException(err)
		_ = msg.Ack()
		return
	}

	log.WithFields(log.Fields{
		"kind": ev.Kind.String(),
		"live": ev.Live,
	}).Debug("Room event consumer received message")

	c.sink.OnRoomEvent(ev)
	_ = msg.Ack()
}

// parseRoomEvent decodes one stream message into the tagged event
// union. Optional content fields map to nil pointers when absent so the
// registry's field-level merges can tell "absent" from "empty".
func parseRoomEvent(msg *nats.Msg) (types.RoomEvent, error) {
	kind := msg.Header.Get(headerKind)
	live := msg.Header.Get(headerLive) == "true"
	content := gjson.GetBytes(msg.Data, "content")

	switch kind {
	case "message":
		return types.NewMessageEvent(live, types.MessageEvent{
			RoomID: msg.Header.Get(headerRoomID),
			UserID: msg.Header.Get(headerUserID),
			Body:   content.Get("body").String(),
		}), nil
	case "membership":
		targetUserID := gjson.GetBytes(msg.Data, "target_user_id").String()
		if targetUserID == "" {
			return types.RoomEvent{}, fmt.Errorf("membership event without target_user_id")
		}
		return types.NewMembershipEvent(live, types.MembershipEvent{
			TargetUserID: targetUserID,
			Content: types.MembershipContent{
				Membership: content.Get("membership").String(),
				State:      optString(content.Get("state")),
				MTimeAgeMS: optInt(content.Get("mtime_age")),
			},
		}), nil
	case "presence":
		userID := content.Get("user_id").String()
		if userID == "" {
			return types.RoomEvent{}, fmt.Errorf("presence event without user_id")
		}
		return types.NewPresenceEvent(live, types.PresenceEvent{
			Content: types.PresenceContent{
				UserID:      userID,
				State:       optString(content.Get("state")),
				MTimeAgeMS:  optInt(content.Get("mtime_age")),
				DisplayName: optString(content.Get("displayname")),
				AvatarURL:   optString(content.Get("avatar_url")),
			},
		}), nil
	default:
		return types.RoomEvent{}, fmt.Errorf("unknown event kind %q", kind)
	}
}

func optString(r gjson.Result) *string {
	if !r.Exists() {
		return nil
	}
	s := r.String()
	return &s
}

func optInt(r gjson.Result) *int64 {
	if !r.Exists() {
		return nil
	}
	i := r.Int()
	return &i
}
