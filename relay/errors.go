/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrOffline is returned when the recipient has no connection.
	ErrOffline = errors.New("recipient offline")

	// ErrBackpressure is returned when the recipient's queue is full.
	ErrBackpressure = errors.New("recipient queue full")

	// ErrUnknownCall is returned for messages naming no live call.
	ErrUnknownCall = errors.New("unknown call")
)

func errOffline(userID string) error {
	return fmt.Errorf("%w: %s", ErrOffline, userID)
}

func errBackpressure(userID string) error {
	return fmt.Errorf("%w: %s", ErrBackpressure, userID)
}

func errUnknownCall(callID string) error {
	return fmt.Errorf("%w: %s", ErrUnknownCall, callID)
}

func errNotInvited(userID, callID string) error {
	return fmt.Errorf("%s was not invited to call %s", userID, callID)
}

func errMissing(field string) error {
	return fmt.Errorf("malformed message: missing %s", field)
}
