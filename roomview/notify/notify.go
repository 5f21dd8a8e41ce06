// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package notify

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// dismissAfter is how long a presented notification stays up before it
// is closed automatically.
const dismissAfter = 5 * time.Second

// Notification is a desktop notification for one live message.
type Notification struct {
	Title   string
	Body    string
	IconURL string
}

// Handle lets a presented notification be dismissed.
type Handle interface {
	Close()
}

// Presenter shows notifications using whatever desktop capability is
// available. Presentation is best effort; a nil Presenter disables
// notifications entirely.
type Presenter interface {
	Present(n Notification) Handle
}

// Notifier decides whether a live message warrants a notification and
// schedules its auto-dismissal. It never blocks and never touches
// session state.
type Notifier struct {
	presenter Presenter
	hidden    func() bool
}

// New creates a notifier. hidden reports whether the room view is
// currently out of sight; notifications are only raised when it is.
func New(presenter Presenter, hidden func() bool) *Notifier {
	return &Notifier{presenter: presenter, hidden: hidden}
}

// LiveMessage presents a notification for a live message, if the view
// is hidden and a presenter is available.
func (n *Notifier) LiveMessage(title, body, iconURL string) {
	if n == nil || n.presenter == nil {
		return
	}
	if n.hidden == nil || !n.hidden() {
		return
	}
	handle := n.presenter.Present(Notification{
		Title:   title,
		Body:    body,
		IconURL: iconURL,
	})
	if handle != nil {
		time.AfterFunc(dismissAfter, handle.Close)
	}
}

// LogPresenter writes notifications to the log instead of the desktop.
// Useful for headless sessions and tests.
type LogPresenter struct{}

type nopHandle struct{}

func (nopHandle) Close() {}

func (LogPresenter) Present(n Notification) Handle {
	log.WithFields(log.Fields{
		"title": n.Title,
		"body":  n.Body,
	}).Info("Desktop notification")
	return nopHandle{}
}
