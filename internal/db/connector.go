// Package db owns the process-wide MongoDB connection and the thin
// collection adapter the route groups store documents through.
package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultTimeout bounds connect plus ping when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

var (
	// ErrMissingURI is returned by Connect when no URI was configured.
	ErrMissingURI = errors.New("MONGO_URI is not defined")
	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = errors.New("database not connected")
)

// State is the lifecycle of a Connector. Connected and Failed are terminal.
type State int32

const (
	StateUnconfigured State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures a Connector.
type Options struct {
	URI      string
	Database string
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// Connector makes a single connection attempt and shares the outcome with
// every caller. There is no retry; a failed Connector stays failed.
type Connector struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	state   State
	started bool
	done    chan struct{}
	err     error
	client  *mongo.Client
	db      *mongo.Database
}

// NewConnector returns an unconfigured Connector. No I/O happens until Connect.
func NewConnector(opts Options) *Connector {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Connector{
		opts: opts,
		log:  opts.Logger.With().Str("component", "db").Logger(),
		done: make(chan struct{}),
	}
}

// Connect establishes the connection, or waits for the attempt already in
// flight, and returns its result. ctx bounds only this caller's wait; the
// attempt itself is bounded by Options.Timeout.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.started = true
		if c.opts.URI == "" {
			c.finishLocked(StateFailed, ErrMissingURI)
			c.mu.Unlock()
			c.log.Error().Err(ErrMissingURI).Msg("db_connect_skipped")
			return ErrMissingURI
		}
		c.state = StateConnecting
		c.mu.Unlock()
		return c.attempt(ctx)
	}
	c.mu.Unlock()

	select {
	case <-c.done:
		return c.result()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connector) attempt(ctx context.Context) error {
	start := time.Now()
	c.log.Info().Str("database", c.opts.Database).Dur("timeout", c.opts.Timeout).Msg("db_connecting")

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(c.opts.URI).
		SetConnectTimeout(c.opts.Timeout).
		SetServerSelectionTimeout(c.opts.Timeout)

	client, err := mongo.Connect(ctx, clientOpts)
	if err == nil {
		err = client.Ping(ctx, readpref.Primary())
		if err != nil {
			disconnectCtx, dcancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = client.Disconnect(disconnectCtx)
			dcancel()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("error connecting to MongoDB: %w", err)
		c.finishLocked(StateFailed, err)
		c.log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("db_connect_failed")
		return err
	}

	c.client = client
	c.db = client.Database(c.opts.Database)
	c.finishLocked(StateConnected, nil)
	c.log.Info().Str("database", c.opts.Database).Dur("elapsed", time.Since(start)).Msg("connected to MongoDB")
	return nil
}

// finishLocked records the terminal state. c.mu must be held.
func (c *Connector) finishLocked(state State, err error) {
	c.state = state
	c.err = err
	close(c.done)
}

func (c *Connector) result() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the connection attempt has resolved.
func (c *Connector) Done() <-chan struct{} {
	return c.done
}

// State reports the current lifecycle state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Database returns the shared database handle, or nil until connected.
func (c *Connector) Database() *mongo.Database {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db
}

// Ping checks the live connection.
func (c *Connector) Ping(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || client == nil {
		return fmt.Errorf("%w (state=%s)", ErrNotConnected, state)
	}
	return client.Ping(ctx, readpref.Primary())
}

// Disconnect closes the client if one was established.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}
