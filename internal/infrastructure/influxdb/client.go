package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
)

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled")

	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connecting")

	// ErrWriteFailed wraps errors reported by the async write API.
	ErrWriteFailed = errors.New("influxdb: write failed")
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 * time.Second
)

// pointWriter is the part of api.WriteAPI the client uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Client records access-control telemetry. Writes are batched and never
// block; failures arrive on the SetOnError callback. A nil *Client drops
// every write.
type Client struct {
	server influxdb2.Client
	writer pointWriter
	open   atomic.Bool

	errMu   sync.RWMutex
	onError func(error)
}

// clientOptions applies the configured batching, substituting defaults
// for unset values.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(fallbackBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := fallbackFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
}

// Connect pings the server and opens a batching write API on the
// configured org and bucket.
//
// Parameters:
//   - ctx: Bounds the initial ping, capped at connectTimeout
//   - cfg: The influxdb section of the config
//
// Returns:
//   - *Client: Ready for writes
//   - error: ErrDisabled, or a wrapped ErrConnectionFailed
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	server := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if ok, err := server.Ping(pingCtx); err != nil || !ok {
		server.Close()
		if err == nil {
			err = errors.New("server reported unhealthy")
		}
		return nil, fmt.Errorf("%w to %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	writeAPI := server.WriteAPI(cfg.Org, cfg.Bucket)
	c := &Client{server: server, writer: writeAPI}
	c.open.Store(true)
	go c.forwardErrors(writeAPI.Errors())
	return c, nil
}

// forwardErrors passes async write errors to the callback until errs closes.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.errMu.RLock()
		fn := c.onError
		c.errMu.RUnlock()
		if fn != nil {
			fn(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// SetOnError sets the callback for async write failures.
func (c *Client) SetOnError(fn func(err error)) {
	c.errMu.Lock()
	c.onError = fn
	c.errMu.Unlock()
}

// IsConnected reports whether the client still accepts writes.
func (c *Client) IsConnected() bool {
	return c != nil && c.open.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() || c.server == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	ok, err := c.server.Ping(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("influxdb health check: %w", err)
	case !ok:
		return errors.New("influxdb health check: server unhealthy")
	}
	return nil
}

// Flush blocks until buffered points are written. No-op once closed.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writer.Flush()
	}
}

// Close flushes pending points and releases the connection. Later writes
// are dropped.
func (c *Client) Close() error {
	if c == nil || !c.open.Swap(false) {
		return nil
	}
	c.writer.Flush()
	if c.server != nil {
		c.server.Close()
	}
	return nil
}
