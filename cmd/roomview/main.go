// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Command roomview opens a headless session on one room: it resolves
// and joins the room, backfills history, then mirrors the live event
// stream, logging state changes as they happen.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/element-hq/roomview/client"
	"github.com/element-hq/roomview/roomview/consumers"
	"github.com/element-hq/roomview/roomview/notify"
	"github.com/element-hq/roomview/roomview/session"
	"github.com/element-hq/roomview/setup/config"
)

func main() {
	configPath := flag.String("config", "roomview.yaml", "Path to the configuration file")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := client.New(cfg.HomeserverURL, cfg.AccessToken, cfg.UserID)

	nc, err := nats.Connect(strings.Join(cfg.JetStream.Addresses, ","))
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to NATS")
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		log.WithError(err).Fatal("Failed to open JetStream context")
	}

	sess := session.New(ctx, session.Options{
		UserID:    cfg.UserID,
		RoomRef:   cfg.Room,
		PageSize:  cfg.PageSize,
		Client:    transport,
		Uploader:  transport,
		Presenter: notify.LogPresenter{},
		// A headless session is never "visible", so live messages
		// always notify.
		Hidden: func() bool { return true },
	})
	sess.OnChange(func() {
		log.Debug("Session state changed")
	})

	consumer := consumers.NewRoomEventConsumer(ctx, js, cfg.JetStream.Topic, cfg.JetStream.Durable, sess)
	if err := consumer.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start event stream consumer")
	}
	defer consumer.Stop()

	sess.Start()
	log.WithField("room", cfg.Room).Info("Session starting")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down")
	sess.Stop()
}
