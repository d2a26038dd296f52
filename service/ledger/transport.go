// Package ledger talks to hardware signing devices. It owns the per-device
// transport cache, the Solana device application protocol and hardware
// account enumeration.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// TransportKind identifies how a device is reached.
type TransportKind string

const (
	TransportBluetooth TransportKind = "bluetooth"
	TransportUSB       TransportKind = "usb"
)

// Device identifies a physical hardware device.
type Device struct {
	ID   string        `json:"id"`
	Name string        `json:"name,omitempty"`
	Kind TransportKind `json:"type"`
}

// Transport is an open channel to a device.
type Transport interface {
	// Exchange sends one APDU and returns the raw response including the status word.
	Exchange(ctx context.Context, apdu []byte) ([]byte, error)
	Close() error
	// Disconnected is closed when the device goes away.
	Disconnected() <-chan struct{}
}

// Driver lists and opens devices of one transport kind.
type Driver interface {
	List(ctx context.Context) ([]Device, error)
	Open(ctx context.Context, deviceID string) (Transport, error)
}

var (
	// ErrUserRejected is returned when the user cancels on the device.
	ErrUserRejected = errors.New("user rejected the request")
	// ErrDeviceBusy is returned by fail-fast pools when another operation holds the device.
	ErrDeviceBusy = errors.New("device busy")
	// ErrDeviceNotFound is returned when a wired device is not attached.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrUnsupportedTransport is returned for transport kinds without a driver.
	ErrUnsupportedTransport = errors.New("unsupported transport")
)

// TransportError wraps failures talking to a device. It is not retried
// automatically; re-acquiring the device opens a fresh transport.
type TransportError struct {
	DeviceID string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ledger %s %s: %v", e.Op, e.DeviceID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a non-success status word returned by the device.
type StatusError struct {
	Code uint16
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("device returned status 0x%04x", e.Code)
}
