package js8call

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hamlink/js8relay/pkg/logger"
)

var (
	// ErrNotConnected is returned by Send while the socket is down; the
	// read loop keeps reconnecting in the background.
	ErrNotConnected = errors.New("js8call: not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("js8call: client closed")
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultBackoffMin  = time.Second
	defaultBackoffMax  = time.Minute
	// scanner buffer; RX.ACTIVITY lines can get long on a busy band
	maxLineBytes = 1 << 20
)

// Options configures a Client. Zero values pick the defaults above.
type Options struct {
	Host        string
	Port        int
	DialTimeout time.Duration
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	// DegradedAfter is the number of consecutive failed reconnect attempts
	// after which OnDegraded fires (once per outage). 0 disables it.
	DegradedAfter int
	// OnConnect runs on every successful (re)connect, before events flow.
	OnConnect func()
	// OnDegraded runs when the reconnect budget is exhausted.
	OnDegraded func(err error)
}

// Client speaks the JS8Call TCP JSON-line API. All writes go through one
// mutex-guarded path so concurrent senders cannot interleave partial lines.
// Events() yields parsed events until Close; transient connection loss is
// handled internally with bounded exponential backoff and never terminates
// the event channel.
type Client struct {
	addr          string
	dialTimeout   time.Duration
	backoffMin    time.Duration
	backoffMax    time.Duration
	degradedAfter int
	onConnect     func()
	onDegraded    func(error)

	mu     sync.Mutex // guards conn for writes and swaps
	conn   net.Conn
	events chan Event

	connected atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewClient(opts Options) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = defaultBackoffMin
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = defaultBackoffMax
	}
	return &Client{
		addr:          net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port)),
		dialTimeout:   opts.DialTimeout,
		backoffMin:    opts.BackoffMin,
		backoffMax:    opts.BackoffMax,
		degradedAfter: opts.DegradedAfter,
		onConnect:     opts.OnConnect,
		onDegraded:    opts.OnDegraded,
		events:        make(chan Event, 64),
		done:          make(chan struct{}),
	}
}

// Addr returns the remote address the client dials.
func (c *Client) Addr() string {
	return c.addr
}

// Connected reports whether the socket is currently up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Start dials JS8Call once and, on success, launches the read loop. The
// initial dial error is surfaced to the caller; retrying it is the caller's
// decision. Once started, reconnection is the client's own business.
func (c *Client) Start(ctx context.Context) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("js8call: connect %s: %w", c.addr, err)
	}
	c.setConn(conn)

	if c.onConnect != nil {
		c.onConnect()
	}

	c.wg.Add(1)
	go c.readLoop(ctx)
	return nil
}

// Events returns the parsed event stream. The channel is closed only on
// Close or context cancellation, never on a transient disconnect.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Send serializes the command and writes it as one JSON line. Serialization
// failures are programming defects and abort only the specific send.
func (c *Client) Send(cmd Command) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := cmd.encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if _, err := c.conn.Write(data); err != nil {
		// Broken pipe: drop the conn so the read loop notices and the
		// caller gets an actionable error.
		c.conn.Close()
		c.conn = nil
		c.connected.Store(false)
		return fmt.Errorf("js8call: write %s: %w", cmd.Type, err)
	}
	return nil
}

// Close shuts the client down and closes the event channel once the read
// loop has drained. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
	c.wg.Wait()
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.dialTimeout}
	return d.DialContext(ctx, "tcp", c.addr)
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
}

func (c *Client) currentConn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.events)

	for {
		conn := c.currentConn()
		if conn != nil {
			c.scan(ctx, conn)
		}
		c.connected.Store(false)

		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !c.reconnect(ctx) {
			return
		}
	}
}

// scan reads JSON lines until the connection drops. Malformed lines are
// logged and skipped, not fatal.
func (c *Client) scan(ctx context.Context, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		ev, err := ParseEvent(line)
		if err != nil {
			logger.WarnCF("js8call", "Skipping malformed line", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && !c.closing() {
		logger.WarnCF("js8call", "Connection lost", map[string]interface{}{
			"addr":  c.addr,
			"error": err.Error(),
		})
	}
}

// reconnect dials with bounded exponential backoff until it succeeds or the
// client shuts down. Returns false on shutdown.
func (c *Client) reconnect(ctx context.Context) bool {
	backoff := c.backoffMin
	attempts := 0

	for {
		conn, err := c.dial(ctx)
		if err == nil {
			c.setConn(conn)
			logger.InfoCF("js8call", "Reconnected", map[string]interface{}{
				"addr":     c.addr,
				"attempts": attempts + 1,
			})
			if c.onConnect != nil {
				c.onConnect()
			}
			return true
		}

		attempts++
		logger.WarnCF("js8call", "Reconnect failed", map[string]interface{}{
			"addr":    c.addr,
			"attempt": attempts,
			"backoff": backoff.String(),
			"error":   err.Error(),
		})
		if c.degradedAfter > 0 && attempts == c.degradedAfter && c.onDegraded != nil {
			c.onDegraded(err)
		}

		select {
		case <-time.After(backoff):
		case <-c.done:
			return false
		case <-ctx.Done():
			return false
		}

		backoff *= 2
		if backoff > c.backoffMax {
			backoff = c.backoffMax
		}
	}
}

func (c *Client) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
