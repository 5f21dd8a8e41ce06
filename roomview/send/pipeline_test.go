// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package send

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/element-hq/roomview/roomview/types"
)

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

// sentCall records one dispatched send.
type sentCall struct {
	kind string
	body string
}

// mockSendClient records dispatched sends and optionally fails them.
type mockSendClient struct {
	calls []sentCall
	fail  bool
}

func (m *mockSendClient) record(kind, body string) error {
	m.calls = append(m.calls, sentCall{kind: kind, body: body})
	if m.fail {
		return fmt.Errorf("homeserver says no")
	}
	return nil
}

func (m *mockSendClient) SendTextMessage(_ context.Context, _, body string) error {
	return m.record("text", body)
}

func (m *mockSendClient) SendEmoteMessage(_ context.Context, _, body string) error {
	return m.record("emote", body)
}

func (m *mockSendClient) SendImageMessage(_ context.Context, _, imageURL string) error {
	return m.record("image", imageURL)
}

func (m *mockSendClient) Invite(_ context.Context, _, _ string) error { return nil }
func (m *mockSendClient) Leave(_ context.Context, _ string) error     { return nil }

// mockUploader returns a canned content URI or fails.
type mockUploader struct {
	url  string
	fail bool
}

func (m *mockUploader) UploadFile(_ context.Context, _ string, _ []byte) (string, error) {
	if m.fail {
		return "", fmt.Errorf("upload refused")
	}
	return m.url, nil
}

type pipeHarness struct {
	state    *types.SessionState
	client   *mockSendClient
	uploader *mockUploader
	tasks    *taskRunner
	feedback []string
	p        *Pipeline
}

func newPipeHarness() *pipeHarness {
	h := &pipeHarness{
		state:    types.NewSessionState("@me:localhost"),
		client:   &mockSendClient{},
		uploader: &mockUploader{url: "mxc://localhost/uploaded"},
		tasks:    newTaskRunner(),
	}
	h.p = NewPipeline(
		context.Background(), "!room:localhost", h.state, h.client, h.uploader, h.tasks,
		func(text string) { h.feedback = append(h.feedback, text) },
	)
	return h
}

func TestSendEmptyInputIsNoOp(t *testing.T) {
	h := newPipeHarness()

	h.p.SetInput("")
	h.p.Send()
	h.tasks.run()

	assert.Empty(t, h.client.calls)
	assert.False(t, h.state.Sending)
}

func TestSendTextClearsInput(t *testing.T) {
	h := newPipeHarness()

	h.p.SetInput("hello there")
	h.p.Send()
	h.tasks.run()

	require.Len(t, h.client.calls, 1)
	assert.Equal(t, sentCall{kind: "text", body: "hello there"}, h.client.calls[0])
	assert.Empty(t, h.p.Input())
	assert.False(t, h.state.Sending)
}

func TestSendEmoteStripsCommand(t *testing.T) {
	h := newPipeHarness()

	h.p.SetInput("/me waves")
	h.p.Send()
	h.tasks.run()

	require.Len(t, h.client.calls, 1)
	assert.Equal(t, sentCall{kind: "emote", body: "waves"}, h.client.calls[0])
}

func TestSendBareEmoteCommandSendsEmptyBody(t *testing.T) {
	h := newPipeHarness()

	h.p.SetInput("/me")
	h.p.Send()
	h.tasks.run()

	require.Len(t, h.client.calls, 1)
	assert.Equal(t, sentCall{kind: "emote", body: ""}, h.client.calls[0])
}

func TestSendFailurePreservesInput(t *testing.T) {
	h := newPipeHarness()
	h.client.fail = true

	h.p.SetInput("do not lose me")
	h.p.Send()
	h.tasks.run()

	assert.Equal(t, "do not lose me", h.p.Input())
	assert.False(t, h.state.Sending)
	require.Len(t, h.feedback, 1)
	assert.Contains(t, h.feedback[0], "Failed to send:")
}

func TestSendWhileSendingIsDropped(t *testing.T) {
	h := newPipeHarness()

	h.state.Sending = true
	h.p.SetInput("queued? no, dropped")
	h.p.Send()
	h.tasks.run()

	assert.Empty(t, h.client.calls)
	assert.Equal(t, "queued? no, dropped", h.p.Input())
}

func TestSendImage(t *testing.T) {
	h := newPipeHarness()

	h.p.SendImage("mxc://localhost/cat")
	h.tasks.run()

	require.Len(t, h.client.calls, 1)
	assert.Equal(t, sentCall{kind: "image", body: "mxc://localhost/cat"}, h.client.calls[0])
	assert.False(t, h.state.Sending)
}

func TestSendImageFailureSetsFeedback(t *testing.T) {
	h := newPipeHarness()
	h.client.fail = true

	h.p.SendImage("mxc://localhost/cat")
	h.tasks.run()

	require.Len(t, h.feedback, 1)
	assert.Contains(t, h.feedback[0], "Failed to send image:")
	assert.False(t, h.state.Sending)
}

func TestSendImageFileUploadsThenSends(t *testing.T) {
	h := newPipeHarness()

	h.p.SendImageFile("cat.png", []byte{1, 2, 3})
	h.tasks.run()

	require.Len(t, h.client.calls, 1)
	assert.Equal(t, sentCall{kind: "image", body: "mxc://localhost/uploaded"}, h.client.calls[0])
	assert.False(t, h.state.Sending)
}

func TestUploadFailureAbortsBeforeSend(t *testing.T) {
	h := newPipeHarness()
	h.uploader.fail = true

	h.p.SendImageFile("cat.png", []byte{1, 2, 3})
	h.tasks.run()

	assert.Empty(t, h.client.calls, "upload failure must abort before any send call")
	assert.False(t, h.state.Sending)
	require.Len(t, h.feedback, 1)
	assert.Equal(t, "Can't upload image", h.feedback[0])
}
