/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

//go:build !linux || !cgo

package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/tejzpr/tamas-go/callsdk"
)

var errNoCapture = errors.New("device capture requires linux with cgo")

// DeviceSource is unavailable on this platform; every capture fails with
// a DeviceUnavailable media error.
type DeviceSource struct{}

// NewDeviceSource returns a source that cannot capture on this platform.
func NewDeviceSource(_ DeviceConfig, logger zerolog.Logger) (*DeviceSource, error) {
	logger.Warn().Msg("Hardware capture unavailable on this platform")
	return &DeviceSource{}, nil
}

// RegisterCodecs registers pion's default codecs.
func (d *DeviceSource) RegisterCodecs(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

// UserMedia always fails on this platform.
func (d *DeviceSource) UserMedia(context.Context, Constraints) (*Stream, error) {
	return nil, callsdk.NewMediaError(callsdk.DeviceUnavailable, "user media", errNoCapture)
}

// DisplayMedia always fails on this platform.
func (d *DeviceSource) DisplayMedia(context.Context) (*LocalTrack, error) {
	return nil, callsdk.NewMediaError(callsdk.DeviceUnavailable, "display media", errNoCapture)
}
