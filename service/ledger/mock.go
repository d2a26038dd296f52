package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/hdpath"
)

// MockDevice emulates a device running the Solana application. Keys are
// derived from the seed and the requested path. It implements both Driver
// and Transport and is used in tests and for local development.
type MockDevice struct {
	Info Device
	Seed []byte

	mu           sync.Mutex
	reject       bool
	opens        int
	closed       bool
	disconnected chan struct{}
	pending      []byte
	apdus        [][]byte
	block        chan struct{}
}

// NewMockDevice creates an emulated device.
func NewMockDevice(info Device, seed []byte) *MockDevice {
	return &MockDevice{Info: info, Seed: seed, disconnected: make(chan struct{})}
}

// RejectNext makes the device answer signing requests with a user rejection.
func (m *MockDevice) RejectNext(reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reject = reject
}

// BlockSigning makes signing requests wait until the returned func is called.
func (m *MockDevice) BlockSigning() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = make(chan struct{})
	ch := m.block
	return func() { close(ch) }
}

// Disconnect simulates the device going away.
func (m *MockDevice) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.disconnected:
	default:
		close(m.disconnected)
	}
}

// Opens returns how many times the device was opened.
func (m *MockDevice) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// APDUs returns the APDUs received so far.
func (m *MockDevice) APDUs() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.apdus...)
}

// KeyAt returns the emulated private key for path.
func (m *MockDevice) KeyAt(path hdpath.Path) solana.PrivateKey {
	h := sha256.New()
	h.Write(m.Seed)
	h.Write(path.Bytes())
	return solana.PrivateKey(ed25519.NewKeyFromSeed(h.Sum(nil)))
}

func (m *MockDevice) List(ctx context.Context) ([]Device, error) {
	return []Device{m.Info}, nil
}

func (m *MockDevice) Open(ctx context.Context, deviceID string) (Transport, error) {
	if deviceID != m.Info.ID {
		return nil, ErrDeviceNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	m.closed = false
	select {
	case <-m.disconnected:
		m.disconnected = make(chan struct{})
	default:
	}
	return &mockTransport{dev: m, disconnected: m.disconnected}, nil
}

type mockTransport struct {
	dev          *MockDevice
	disconnected chan struct{}
}

func (t *mockTransport) Close() error {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	t.dev.closed = true
	return nil
}

func (t *mockTransport) Disconnected() <-chan struct{} { return t.disconnected }

func (t *mockTransport) Exchange(ctx context.Context, apdu []byte) ([]byte, error) {
	return t.dev.handle(ctx, apdu)
}

func okResponse(data []byte) []byte {
	return append(append([]byte(nil), data...), 0x90, 0x00)
}

func statusResponse(code uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, code)
}

func (m *MockDevice) handle(ctx context.Context, apdu []byte) ([]byte, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("transport closed")
	}
	m.apdus = append(m.apdus, append([]byte(nil), apdu...))
	if len(apdu) < 5 {
		m.mu.Unlock()
		return statusResponse(0x6700), nil
	}

	ins, p2, data := apdu[1], apdu[3], apdu[5:]
	if apdu[0] == 0xE0 && ins == 0xD8 {
		m.mu.Unlock()
		return okResponse(nil), nil
	}

	m.pending = append(m.pending, data...)
	if p2&p2More != 0 {
		m.mu.Unlock()
		return okResponse(nil), nil
	}
	payload := m.pending
	m.pending = nil
	reject := m.reject
	block := m.block
	m.mu.Unlock()

	switch ins {
	case insGetAppConfig:
		return okResponse([]byte{1, 0, 1, 4, 2}), nil
	case insGetPubkey:
		path, _, err := decodePath(payload)
		if err != nil {
			return statusResponse(0x6a80), nil
		}
		pub := m.KeyAt(path).PublicKey()
		return okResponse(pub[:]), nil
	case insSignTransaction, insSignMessage:
		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if reject {
			return statusResponse(statusUserRejected), nil
		}
		if len(payload) < 1 || payload[0] != 1 {
			return statusResponse(0x6a80), nil
		}
		path, rest, err := decodePath(payload[1:])
		if err != nil {
			return statusResponse(0x6a80), nil
		}
		sig, err := m.KeyAt(path).Sign(rest)
		if err != nil {
			return statusResponse(0x6f00), nil
		}
		return okResponse(sig[:]), nil
	default:
		return statusResponse(0x6d00), nil
	}
}

func decodePath(b []byte) (hdpath.Path, []byte, error) {
	if len(b) < 1 {
		return nil, nil, errors.New("empty path")
	}
	n := int(b[0])
	if len(b) < 1+4*n {
		return nil, nil, errors.New("short path")
	}
	path := make(hdpath.Path, n)
	for i := 0; i < n; i++ {
		path[i] = binary.BigEndian.Uint32(b[1+4*i:])
	}
	return path, b[1+4*n:], nil
}
