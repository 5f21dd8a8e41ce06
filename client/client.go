// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package client implements the homeserver transport over the Matrix
// client-server HTTP API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/matrix-org/gomatrixserverlib/spec"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/element-hq/roomview/roomview/api"
	"github.com/element-hq/roomview/roomview/types"
)

const clientAPIPrefix = "/_matrix/client/v3"

// Client talks to a homeserver over HTTP. It implements both
// api.TransportClient and api.Uploader.
type Client struct {
	baseURL     string
	accessToken string
	userID      string
	http        *http.Client
}

// New creates a client for the homeserver at baseURL, authenticating
// with the given access token.
func New(baseURL, accessToken, userID string) *Client {
	return &Client{
		baseURL:     baseURL,
		accessToken: accessToken,
		userID:      userID,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// buildURL joins escaped path segments onto the client API prefix.
func (c *Client) buildURL(segments ...string) string {
	u := c.baseURL + clientAPIPrefix
	for _, s := range segments {
		u += "/" + url.PathEscape(s)
	}
	return u
}

// do performs one request and returns the response body. Non-2xx
// responses become *api.CallError built from the standard errcode /
// error fields.
func (c *Client) do(ctx context.Context, method, requestURL string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint: errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		callErr := &api.CallError{
			Code:    gjson.GetBytes(respBody, "errcode").String(),
			Message: gjson.GetBytes(respBody, "error").String(),
		}
		if callErr.Message == "" {
			callErr.Message = http.StatusText(resp.StatusCode)
		}
		log.WithFields(log.Fields{
			"method":  method,
			"status":  resp.StatusCode,
			"errcode": callErr.Code,
		}).Debug("Homeserver call failed")
		return nil, callErr
	}
	return respBody, nil
}

// ResolveAlias implements api.TransportClient.
func (c *Client) ResolveAlias(ctx context.Context, alias string) (string, error) {
	respBody, err := c.do(ctx, http.MethodGet, c.buildURL("directory", "room", alias), nil)
	if err != nil {
		return "", err
	}
	roomID := gjson.GetBytes(respBody, "room_id").String()
	if roomID == "" {
		return "", fmt.Errorf("alias %q resolved to no room", alias)
	}
	return roomID, nil
}

// Join implements api.TransportClient.
func (c *Client) Join(ctx context.Context, roomID string) error {
	_, err := c.do(ctx, http.MethodPost, c.buildURL("join", roomID), []byte("{}"))
	return err
}

// MemberList implements api.TransportClient. Each m.room.member state
// event in the snapshot becomes a membership event keyed by its
// state_key.
func (c *Client) MemberList(ctx context.Context, roomID string) ([]types.MembershipEvent, error) {
	respBody, err := c.do(ctx, http.MethodGet, c.buildURL("rooms", roomID, "members"), nil)
	if err != nil {
		return nil, err
	}

	var members []types.MembershipEvent
	for _, ev := range gjson.GetBytes(respBody, "chunk").Array() {
		if ev.Get("type").String() != spec.MRoomMember {
			continue
		}
		target := ev.Get("state_key").String()
		if target == "" {
			continue
		}
		content := ev.Get("content")
		members = append(members, types.MembershipEvent{
			TargetUserID: target,
			Content: types.MembershipContent{
				Membership: content.Get("membership").String(),
				State:      optString(content.Get("state")),
				MTimeAgeMS: optInt(content.Get("mtime_age")),
			},
		})
	}
	return members, nil
}

// PaginateBackMessages implements api.TransportClient. The server
// returns the chunk newest-first for backward pagination; it is
// reversed here so callers always see oldest-first.
func (c *Client) PaginateBackMessages(ctx context.Context, roomID string, from types.PaginationToken, limit int) (*api.RoomPage, error) {
	query := url.Values{}
	query.Set("from", string(from))
	query.Set("dir", "b")
	query.Set("limit", strconv.Itoa(limit))
	requestURL := c.buildURL("rooms", roomID, "messages") + "?" + query.Encode()

	respBody, err := c.do(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}

	chunk := gjson.GetBytes(respBody, "chunk").Array()
	page := &api.RoomPage{
		End: types.PaginationToken(gjson.GetBytes(respBody, "end").String()),
	}
	for i := len(chunk) - 1; i >= 0; i-- {
		if ev, ok := convertHistoricalEvent(roomID, chunk[i]); ok {
			page.Chunk = append(page.Chunk, ev)
		}
	}
	return page, nil
}

// convertHistoricalEvent maps one raw timeline event to the tagged
// union. Event types the session does not mirror are skipped.
func convertHistoricalEvent(roomID string, ev gjson.Result) (types.RoomEvent, bool) {
	content := ev.Get("content")
	switch ev.Get("type").String() {
	case "m.room.message":
		return types.NewMessageEvent(false, types.MessageEvent{
			RoomID: roomID,
			UserID: ev.Get("sender").String(),
			Body:   content.Get("body").String(),
		}), true
	case spec.MRoomMember:
		target := ev.Get("state_key").String()
		if target == "" {
			return types.RoomEvent{}, false
		}
		return types.NewMembershipEvent(false, types.MembershipEvent{
			TargetUserID: target,
			Content: types.MembershipContent{
				Membership: content.Get("membership").String(),
				State:      optString(content.Get("state")),
				MTimeAgeMS: optInt(content.Get("mtime_age")),
			},
		}), true
	default:
		return types.RoomEvent{}, false
	}
}

// DisplayName implements api.ProfileClient.
func (c *Client) DisplayName(ctx context.Context, userID string) (string, error) {
	respBody, err := c.do(ctx, http.MethodGet, c.buildURL("profile", userID, "displayname"), nil)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(respBody, "displayname").String(), nil
}

// AvatarURL implements api.ProfileClient.
func (c *Client) AvatarURL(ctx context.Context, userID string) (string, error) {
	respBody, err := c.do(ctx, http.MethodGet, c.buildURL("profile", userID, "avatar_url"), nil)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(respBody, "avatar_url").String(), nil
}

// sendMessageEvent PUTs one m.room.message event with a fresh
// transaction ID.
func (c *Client) sendMessageEvent(ctx context.Context, roomID string, content []byte) error {
	txnID := uuid.NewString()
	_, err := c.do(ctx, http.MethodPut, c.buildURL("rooms", roomID, "send", "m.room.message", txnID), content)
	return err
}

func messageContent(msgtype, body string) []byte {
	content := []byte("{}")
	content, _ = sjson.SetBytes(content, "msgtype", msgtype)
	content, _ = sjson.SetBytes(content, "body", body)
	return content
}

// SendTextMessage implements api.SendClient.
func (c *Client) SendTextMessage(ctx context.Context, roomID, body string) error {
	return c.sendMessageEvent(ctx, roomID, messageContent("m.text", body))
}

// SendEmoteMessage implements api.SendClient.
func (c *Client) SendEmoteMessage(ctx context.Context, roomID, body string) error {
	return c.sendMessageEvent(ctx, roomID, messageContent("m.emote", body))
}

// SendImageMessage implements api.SendClient.
func (c *Client) SendImageMessage(ctx context.Context, roomID, imageURL string) error {
	content := messageContent("m.image", imageURL)
	content, _ = sjson.SetBytes(content, "url", imageURL)
	return c.sendMessageEvent(ctx, roomID, content)
}

// Invite implements api.SendClient.
func (c *Client) Invite(ctx context.Context, roomID, userID string) error {
	body, _ := sjson.SetBytes([]byte("{}"), "user_id", userID)
	_, err := c.do(ctx, http.MethodPost, c.buildURL("rooms", roomID, "invite"), body)
	return err
}

// Leave implements api.SendClient.
func (c *Client) Leave(ctx context.Context, roomID string) error {
	_, err := c.do(ctx, http.MethodPost, c.buildURL("rooms", roomID, "leave"), []byte("{}"))
	return err
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
