package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// TCPDriver reaches a device through an APDU-over-TCP bridge, as exposed by
// device emulators and USB relay daemons. Frames are a 4-byte big-endian
// length followed by the APDU; replies carry the length of the data
// excluding the trailing 2-byte status word.
type TCPDriver struct {
	// Devices maps device ids to bridge addresses.
	Devices map[string]string
	Timeout time.Duration
}

func (d *TCPDriver) List(ctx context.Context) ([]Device, error) {
	devices := make([]Device, 0, len(d.Devices))
	for id := range d.Devices {
		devices = append(devices, Device{ID: id, Name: id, Kind: TransportUSB})
	}
	return devices, nil
}

func (d *TCPDriver) Open(ctx context.Context, deviceID string) (Transport, error) {
	addr, ok := d.Devices[deviceID]
	if !ok {
		return nil, ErrDeviceNotFound
	}

	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &tcpTransport{conn: conn, disconnected: make(chan struct{})}, nil
}

type tcpTransport struct {
	mu           sync.Mutex
	conn         net.Conn
	once         sync.Once
	disconnected chan struct{}
}

func (t *tcpTransport) Exchange(ctx context.Context, apdu []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetDeadline(deadline)
	} else {
		_ = t.conn.SetDeadline(time.Time{})
	}

	frame := binary.BigEndian.AppendUint32(nil, uint32(len(apdu)))
	if _, err := t.conn.Write(append(frame, apdu...)); err != nil {
		t.markDisconnected()
		return nil, err
	}

	var header [4]byte
	if _, err := io.ReadFull(t.conn, header[:]); err != nil {
		t.markDisconnected()
		return nil, err
	}
	resp := make([]byte, binary.BigEndian.Uint32(header[:])+2)
	if _, err := io.ReadFull(t.conn, resp); err != nil {
		t.markDisconnected()
		return nil, err
	}
	return resp, nil
}

func (t *tcpTransport) markDisconnected() {
	t.once.Do(func() { close(t.disconnected) })
}

func (t *tcpTransport) Close() error {
	err := t.conn.Close()
	t.markDisconnected()
	return err
}

func (t *tcpTransport) Disconnected() <-chan struct{} { return t.disconnected }
