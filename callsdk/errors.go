/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callsdk

import (
	"errors"
	"fmt"
)

var (
	// ErrCallInProgress is returned when a call is started while another
	// session is still live.
	ErrCallInProgress = errors.New("a call is already in progress")

	// ErrNoActiveCall is returned by operations that need a live session.
	ErrNoActiveCall = errors.New("no active call")

	// ErrInvalidState is returned when an operation is not valid for the
	// current call state.
	ErrInvalidState = errors.New("invalid call state")

	// ErrNotConnected is returned when the signaling transport is down.
	ErrNotConnected = errors.New("signaling transport not connected")
)

// CallError is the base error type for the call layer.
// All specific error sub-types embed it, so consumers can use
// errors.As(err, &callErr) to reach the common fields.
type CallError struct {
	// Op is the operation that failed (e.g. "start", "accept", "negotiate").
	Op string

	// CallID is the call the error belongs to, if any.
	CallID string

	// ParticipantID is the remote participant involved, if any.
	ParticipantID string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	msg := "call error"
	if e.Op != "" {
		msg = e.Op + " failed"
	}
	if e.CallID != "" {
		msg += " (callId: " + e.CallID + ")"
	}
	if e.ParticipantID != "" {
		msg += " (participant: " + e.ParticipantID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error, if any.
func (e *CallError) Unwrap() error {
	return e.Err
}

// --- Specific error sub-types ---

// MediaErrorKind classifies local device failures.
type MediaErrorKind string

const (
	// PermissionDenied means the user or OS refused device access.
	PermissionDenied MediaErrorKind = "permission_denied"
	// DeviceUnavailable means no usable device exists or it is busy.
	DeviceUnavailable MediaErrorKind = "device_unavailable"
)

// MediaError is returned when local media cannot be acquired.
// It aborts the transition that needed media.
type MediaError struct {
	*CallError
	Kind MediaErrorKind
}

// Error implements the error interface.
func (e *MediaError) Error() string {
	return fmt.Sprintf("media %s: %s", e.Kind, e.CallError.Error())
}

// Unwrap returns the underlying CallError for errors.As traversal.
func (e *MediaError) Unwrap() error { return e.CallError }

// SignalingError is returned when an outbound message cannot be sent.
// The session is kept.
type SignalingError struct {
	*CallError
	// MessageType is the type of the message that could not be sent.
	MessageType string
}

// Unwrap returns the underlying CallError for errors.As traversal.
func (e *SignalingError) Unwrap() error { return e.CallError }

// NegotiationError is fatal to a single peer link only.
type NegotiationError struct {
	*CallError
}

// Unwrap returns the underlying CallError for errors.As traversal.
func (e *NegotiationError) Unwrap() error { return e.CallError }

// StaleEventError marks an inbound event that no longer applies to the
// current session. Such events are dropped.
type StaleEventError struct {
	*CallError
	// EventType is the signaling message type that was dropped.
	EventType string
}

// Unwrap returns the underlying CallError for errors.As traversal.
func (e *StaleEventError) Unwrap() error { return e.CallError }

// --- Constructors ---

// NewMediaError wraps a device failure.
func NewMediaError(kind MediaErrorKind, op string, err error) error {
	return &MediaError{CallError: &CallError{Op: op, Err: err}, Kind: kind}
}

// NewSignalingError wraps a transport send failure.
func NewSignalingError(msgType, callID string, err error) error {
	return &SignalingError{
		CallError:   &CallError{Op: "send " + msgType, CallID: callID, Err: err},
		MessageType: msgType,
	}
}

// NewNegotiationError wraps a failure of one peer link.
func NewNegotiationError(op, participantID string, err error) error {
	return &NegotiationError{CallError: &CallError{Op: op, ParticipantID: participantID, Err: err}}
}

// NewStaleEventError describes an inbound event that was dropped.
func NewStaleEventError(eventType, callID, reason string) error {
	return &StaleEventError{
		CallError: &CallError{Op: "handle " + eventType, CallID: callID, Err: errors.New(reason)},
		EventType: eventType,
	}
}

// WithCall stamps a call id onto err if it carries a CallError without one.
func WithCall(err error, callID string) error {
	var ce *CallError
	if errors.As(err, &ce) && ce.CallID == "" {
		ce.CallID = callID
	}
	return err
}

// --- Convenience functions ---

// IsMediaError reports whether err is a local media failure.
func IsMediaError(err error) bool {
	var e *MediaError
	return errors.As(err, &e)
}

// IsPermissionDenied reports whether err is a media permission failure.
func IsPermissionDenied(err error) bool {
	var e *MediaError
	return errors.As(err, &e) && e.Kind == PermissionDenied
}

// IsDeviceUnavailable reports whether err is a missing or busy device.
func IsDeviceUnavailable(err error) bool {
	var e *MediaError
	return errors.As(err, &e) && e.Kind == DeviceUnavailable
}

// IsSignalingError reports whether err is a transport send failure.
func IsSignalingError(err error) bool {
	var e *SignalingError
	return errors.As(err, &e)
}

// IsNegotiationError reports whether err is a peer negotiation failure.
func IsNegotiationError(err error) bool {
	var e *NegotiationError
	return errors.As(err, &e)
}

// IsStaleEvent reports whether err marks a dropped stale event.
func IsStaleEvent(err error) bool {
	var e *StaleEventError
	return errors.As(err, &e)
}
