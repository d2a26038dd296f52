package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/helium/wallet-app-sub004/service/metrics"
)

// Pool caches at most one open transport per device id. A device is held
// exclusively by one Lease at a time; other callers queue, or fail fast
// when the pool is configured to. Entries are evicted when the transport
// reports a disconnect so the next Acquire re-opens it.
type Pool struct {
	drivers  map[TransportKind]Driver
	failFast bool
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	slot chan struct{}
	done chan struct{}

	mu        sync.Mutex
	transport Transport
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithFailFast makes Acquire return ErrDeviceBusy instead of queueing.
func WithFailFast() PoolOption {
	return func(p *Pool) { p.failFast = true }
}

// NewPool creates a transport pool over the given drivers.
// If metrics is nil, no metrics will be recorded.
func NewPool(drivers map[TransportKind]Driver, m *metrics.Metrics, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		drivers: drivers,
		metrics: m,
		logger:  logger,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// List returns the devices visible through every driver.
func (p *Pool) List(ctx context.Context) ([]Device, error) {
	var devices []Device
	for kind, d := range p.drivers {
		found, err := d.List(ctx)
		if err != nil {
			return nil, &TransportError{Op: "list " + string(kind), Err: err}
		}
		devices = append(devices, found...)
	}
	return devices, nil
}

func (p *Pool) entryFor(id string) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		e = &entry{slot: make(chan struct{}, 1), done: make(chan struct{})}
		p.entries[id] = e
	}
	return e
}

func (p *Pool) isCurrent(id string, e *entry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries[id] == e
}

// Acquire returns an exclusive lease on the device, opening a transport if
// none is cached. The caller must Release or Invalidate the lease.
func (p *Pool) Acquire(ctx context.Context, device Device) (*Lease, error) {
	driver, ok := p.drivers[device.Kind]
	if !ok {
		return nil, &TransportError{DeviceID: device.ID, Op: "open", Err: ErrUnsupportedTransport}
	}

	for {
		e := p.entryFor(device.ID)

		if p.failFast {
			select {
			case e.slot <- struct{}{}:
			default:
				return nil, &TransportError{DeviceID: device.ID, Op: "acquire", Err: ErrDeviceBusy}
			}
		} else {
			select {
			case e.slot <- struct{}{}:
			case <-ctx.Done():
				return nil, &TransportError{DeviceID: device.ID, Op: "acquire", Err: ctx.Err()}
			}
		}

		// The entry may have been evicted while we waited for it.
		if !p.isCurrent(device.ID, e) {
			<-e.slot
			continue
		}

		e.mu.Lock()
		t := e.transport
		e.mu.Unlock()

		if t == nil {
			opened, err := p.open(ctx, driver, device)
			if err != nil {
				<-e.slot
				return nil, err
			}
			e.mu.Lock()
			e.transport = opened
			e.mu.Unlock()
			go p.watch(device.ID, e, opened)
			t = opened
		}

		return &Lease{pool: p, device: device, entry: e, transport: t}, nil
	}
}

func (p *Pool) open(ctx context.Context, driver Driver, device Device) (Transport, error) {
	// Wired devices are opened from the current device list; Bluetooth
	// devices are opened directly by id.
	if device.Kind == TransportUSB {
		devices, err := driver.List(ctx)
		if err != nil {
			p.recordOpen(device.Kind, "error")
			return nil, &TransportError{DeviceID: device.ID, Op: "list", Err: err}
		}
		found := false
		for _, d := range devices {
			if d.ID == device.ID {
				found = true
				break
			}
		}
		if !found {
			p.recordOpen(device.Kind, "not_found")
			return nil, &TransportError{DeviceID: device.ID, Op: "open", Err: ErrDeviceNotFound}
		}
	}

	t, err := driver.Open(ctx, device.ID)
	if err != nil {
		p.recordOpen(device.Kind, "error")
		return nil, &TransportError{DeviceID: device.ID, Op: "open", Err: err}
	}

	p.recordOpen(device.Kind, "success")
	p.logger.InfoContext(ctx, "opened device transport",
		"device_id", device.ID,
		"transport", device.Kind,
	)
	return t, nil
}

func (p *Pool) recordOpen(kind TransportKind, status string) {
	if p.metrics != nil {
		p.metrics.RecordTransportOpen(string(kind), status)
	}
}

// watch evicts the entry when the transport reports a disconnect.
func (p *Pool) watch(id string, e *entry, t Transport) {
	select {
	case <-t.Disconnected():
		p.evict(id, e, t, "disconnect")
	case <-e.done:
	}
}

func (p *Pool) evict(id string, e *entry, t Transport, reason string) {
	p.mu.Lock()
	if p.entries[id] == e {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	e.mu.Lock()
	if e.transport == t {
		e.transport = nil
	}
	e.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordTransportEviction(reason)
	}
	p.logger.Info("evicted device transport", "device_id", id, "reason", reason)
}

// Cached reports whether a transport is currently cached for the device.
func (p *Pool) Cached(id string) bool {
	p.mu.Lock()
	e, ok := p.entries[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport != nil
}

// Do acquires the device, runs fn with the Solana application and releases
// the device. Cancellation and transport failures invalidate the cached
// transport so the next call re-opens it.
func (p *Pool) Do(ctx context.Context, device Device, fn func(app *SolanaApp) error) error {
	lease, err := p.Acquire(ctx, device)
	if err != nil {
		return err
	}

	err = fn(NewSolanaApp(lease))

	var te *TransportError
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &te) {
		lease.Invalidate()
	} else {
		lease.Release()
	}
	return err
}

// Lease is exclusive use of one device transport.
type Lease struct {
	pool      *Pool
	device    Device
	entry     *entry
	transport Transport
	once      sync.Once
}

// Device returns the leased device.
func (l *Lease) Device() Device { return l.device }

// Exchange sends an APDU over the leased transport.
func (l *Lease) Exchange(ctx context.Context, apdu []byte) ([]byte, error) {
	type result struct {
		resp []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := l.transport.Exchange(ctx, apdu)
		ch <- result{resp, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, &TransportError{DeviceID: l.device.ID, Op: "exchange", Err: r.err}
		}
		return r.resp, nil
	case <-ctx.Done():
		return nil, &TransportError{DeviceID: l.device.ID, Op: "exchange", Err: ctx.Err()}
	}
}

// Release returns the device to the pool keeping the transport cached.
func (l *Lease) Release() {
	l.once.Do(func() { <-l.entry.slot })
}

// Invalidate closes the transport, evicts it from the cache and releases the device.
func (l *Lease) Invalidate() {
	l.once.Do(func() {
		_ = l.transport.Close()
		l.pool.evict(l.device.ID, l.entry, l.transport, "invalidated")
		close(l.entry.done)
		<-l.entry.slot
	})
}
