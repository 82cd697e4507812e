/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

// DeviceConfig tunes hardware capture.
type DeviceConfig struct {
	MaxWidth     int
	MaxHeight    int
	VideoBitRate int
}

// DefaultDeviceConfig caps capture at 640x480 and 1.5 Mbps.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		MaxWidth:     640,
		MaxHeight:    480,
		VideoBitRate: 1_500_000,
	}
}
