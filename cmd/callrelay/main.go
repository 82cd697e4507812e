/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Command callrelay runs the development signaling relay.
//
// Configuration comes from TAMAS_RELAY_* environment variables; see
// relay.LoadConfigFromEnv. Set TAMAS_RELAY_SECRET to require access tokens.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tejzpr/tamas-go/callsdk"
	"github.com/tejzpr/tamas-go/relay"
)

func main() {
	log := callsdk.NewLogger(os.Getenv("TAMAS_LOG_LEVEL"), os.Stdout, true)

	cfg := relay.LoadConfigFromEnv()
	srv, err := relay.NewServer(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid relay configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatal().Err(err).Msg("Relay stopped")
	}
	log.Info().Msg("Relay exited")
}
