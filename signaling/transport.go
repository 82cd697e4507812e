/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package signaling

import "context"

// Transport is the bidirectional event channel the call layer talks over.
// Messages from one sender must be delivered to subscribers in order.
type Transport interface {
	// Send delivers one message to the relay.
	Send(ctx context.Context, msg *Message) error

	// Subscribe returns a channel of inbound messages and a function that
	// cancels the subscription. The channel is closed on cancel or when
	// the transport is closed for good.
	Subscribe() (<-chan *Message, func())
}
