// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package send

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/element-hq/roomview/roomview/api"
	"github.com/element-hq/roomview/roomview/types"
)

// emoteCommand turns the rest of the input into an emote. The prefix
// and the following space are stripped before dispatch.
const emoteCommand = "/me"

// Pipeline drives outbound sends for one room. The Sending flag on the
// session state is its single-flight guard: while a send or upload is
// outstanding, further send calls are dropped, not queued. The composed
// input buffer lives here so that a failed send can leave it intact for
// a retry without retyping.
type Pipeline struct {
	ctx      context.Context
	roomID   string
	state    *types.SessionState
	client   api.SendClient
	uploader api.Uploader
	tasks    api.TaskQueue

	// feedback surfaces action failures to the view.
	feedback func(string)

	input string
}

// NewPipeline wires a send pipeline over the shared session state. The
// uploader may be nil if image file sends are not offered.
func NewPipeline(
	ctx context.Context,
	roomID string,
	state *types.SessionState,
	client api.SendClient,
	uploader api.Uploader,
	tasks api.TaskQueue,
	feedback func(string),
) *Pipeline {
	return &Pipeline{
		ctx:      ctx,
		roomID:   roomID,
		state:    state,
		client:   client,
		uploader: uploader,
		tasks:    tasks,
		feedback: feedback,
	}
}

// SetRoom points the pipeline at the resolved room. Sends made before
// the room is known are already impossible: the view only gets the
// compose surface once the session is live.
func (p *Pipeline) SetRoom(roomID string) {
	p.roomID = roomID
}

// SetInput replaces the composed input buffer.
func (p *Pipeline) SetInput(text string) {
	p.input = text
}

// Input returns the composed input buffer.
func (p *Pipeline) Input() string {
	return p.input
}

// Send dispatches the composed input as a text or emote message. Empty
// input and in-flight sends are both no-ops. On success the input
// buffer is cleared; on failure it is preserved.
func (p *Pipeline) Send() {
	if p.state.Sending || p.input == "" {
		return
	}
	p.state.Sending = true

	text := p.input
	go func() {
		var kind string
		var err error
		if strings.HasPrefix(text, emoteCommand) {
			kind = "emote"
			err = p.client.SendEmoteMessage(p.ctx, p.roomID, emoteBody(text))
		} else {
			kind = "text"
			err = p.client.SendTextMessage(p.ctx, p.roomID, text)
		}
		p.tasks.Post(func() {
			p.textFinished(kind, err)
		})
	}()
}

func (p *Pipeline) textFinished(kind string, err error) {
	if err != nil {
		sendOutcomes.WithLabelValues(kind, "failure").Inc()
		log.WithError(err).WithField("room_id", p.roomID).Error("Failed to send message")
		p.feedback("Failed to send: " + api.Feedback(err))
		p.state.Sending = false
		return
	}
	sendOutcomes.WithLabelValues(kind, "success").Inc()
	log.WithField("room_id", p.roomID).Debug("Sent message")
	p.input = ""
	p.state.Sending = false
}

// SendImage dispatches an already-uploaded image by URL.
func (p *Pipeline) SendImage(imageURL string) {
	if p.state.Sending || imageURL == "" {
		return
	}
	p.state.Sending = true
	p.dispatchImage(imageURL)
}

// SendImageFile uploads the file contents first, then sends the
// resulting URL as an image message. An upload failure aborts before
// any send call is made.
func (p *Pipeline) SendImageFile(filename string, contents []byte) {
	if p.state.Sending || p.uploader == nil {
		return
	}
	p.state.Sending = true

	log.WithField("filename", filename).Debug("Uploading image")
	go func() {
		imageURL, err := p.uploader.UploadFile(p.ctx, filename, contents)
		p.tasks.Post(func() {
			if err != nil {
				sendOutcomes.WithLabelValues("upload", "failure").Inc()
				log.WithError(err).WithField("filename", filename).Error("Failed to upload image")
				p.feedback("Can't upload image")
				p.state.Sending = false
				return
			}
			p.dispatchImage(imageURL)
		})
	}()
}

// dispatchImage performs the image send call. The Sending guard must
// already be held.
func (p *Pipeline) dispatchImage(imageURL string) {
	go func() {
		err := p.client.SendImageMessage(p.ctx, p.roomID, imageURL)
		p.tasks.Post(func() {
			if err != nil {
				sendOutcomes.WithLabelValues("image", "failure").Inc()
				log.WithError(err).WithField("room_id", p.roomID).Error("Failed to send image")
				p.feedback("Failed to send image: " + api.Feedback(err))
			} else {
				sendOutcomes.WithLabelValues("image", "success").Inc()
				log.WithField("room_id", p.roomID).Debug("Image sent")
			}
			p.state.Sending = false
		})
	}()
}

// emoteBody strips the emote command and its trailing space. "/me
// waves" becomes "waves"; a bare "/me" becomes the empty string.
func emoteBody(text string) string {
	if len(text) <= len(emoteCommand)+1 {
		return ""
	}
	return text[len(emoteCommand)+1:]
}
