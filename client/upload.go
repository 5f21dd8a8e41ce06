// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/element-hq/roomview/roomview/api"
)

const mediaAPIPrefix = "/_matrix/media/v3"

// UploadFile implements api.Uploader: it pushes raw file contents to
// the media repository and returns the content URI to send as an image
// message.
func (c *Client) UploadFile(ctx context.Context, filename string, contents []byte) (string, error) {
	uploadURL := c.baseURL + mediaAPIPrefix + "/upload?filename=" + url.QueryEscape(filename)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(contents))
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close() // nolint: errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &api.CallError{
			Code:    gjson.GetBytes(respBody, "errcode").String(),
			Message: gjson.GetBytes(respBody, "error").String(),
		}
	}

	contentURI := gjson.GetBytes(respBody, "content_uri").String()
	if contentURI == "" {
		return "", fmt.Errorf("upload response missing content_uri")
	}
	return contentURI, nil
}
