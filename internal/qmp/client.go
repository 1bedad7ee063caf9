// Package qmp implements a minimal client for the QEMU Machine Protocol
// over a unix socket.
//
// The protocol is line-delimited JSON. After connecting, the server sends a
// greeting and the client must negotiate capabilities with qmp_capabilities
// before issuing commands. Commands are strictly synchronous; asynchronous
// events that arrive while waiting for a command response are buffered and
// consumed later through WaitForEvent.
package qmp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

const greetingTimeout = 5 * time.Second

// Error is a QMP error member returned for a rejected command.
type Error struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("QMP error [%s]: %s", e.Class, e.Desc)
}

// Event is an asynchronous QMP event.
type Event struct {
	Name string
	Data json.RawMessage
}

type request struct {
	Execute   string `json:"execute"`
	Arguments Args   `json:"arguments,omitempty"`
}

type response struct {
	Return json.RawMessage `json:"return,omitempty"`
	Error  *Error          `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Client talks QMP over a single unix socket connection. The protocol is
// synchronous so all wire access is serialized behind mu.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	events []response
	closed bool
}

// NewClient connects to the QMP socket, consumes the greeting and negotiates
// capabilities. A server that never sends a greeting is tolerated: after a
// short deadline the client proceeds straight to the capabilities exchange.
func NewClient(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to dial QMP socket %s: %w", socketPath, err)
	}

	c := &Client{conn: conn, reader: bufio.NewReader(conn)}

	if err := c.readGreeting(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	if _, err := c.Execute(ctx, "qmp_capabilities", nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("capabilities rejected: %w", err)
	}

	return c, nil
}

func (c *Client) readGreeting(ctx context.Context) error {
	deadline := time.Now().Add(greetingTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() && ctx.Err() == nil {
			// No greeting within the deadline. Some wrappers swallow it;
			// continue with the capabilities exchange.
			return nil
		}
		return fmt.Errorf("failed to read QMP greeting: %w", err)
	}

	var greeting struct {
		QMP json.RawMessage `json:"QMP"`
	}
	if err := json.Unmarshal(line, &greeting); err != nil {
		return fmt.Errorf("malformed QMP greeting: %w", err)
	}
	return nil
}

// Execute sends a command and blocks until its response arrives. Events
// received in the meantime are buffered for WaitForEvent. A QMP error member
// is returned as *Error.
func (c *Client) Execute(ctx context.Context, command string, args Args) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.New("connection closed")
	}

	payload, err := json.Marshal(request{Execute: command, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", command, err)
	}
	payload = append(payload, '\n')

	c.applyDeadline(ctx)
	defer c.conn.SetReadDeadline(time.Time{})

	if _, err := c.conn.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", command, err)
	}

	for {
		resp, err := c.readResponse()
		if err != nil {
			return nil, err
		}
		if resp.Event != "" {
			c.events = append(c.events, resp)
			continue
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Return, nil
	}
}

// WaitForEvent blocks until an event with the given name for which match
// returns true is observed, consuming it from the buffer. A nil match
// accepts any event with that name.
func (c *Client) WaitForEvent(ctx context.Context, name string, match func(Event) bool, timeout time.Duration) (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Event{}, errors.New("connection closed")
	}

	accepts := func(resp response) bool {
		if resp.Event != name {
			return false
		}
		return match == nil || match(Event{Name: resp.Event, Data: resp.Data})
	}

	// Drain the buffer first: the event may have arrived during Execute.
	for i, buffered := range c.events {
		if accepts(buffered) {
			ev := Event{Name: buffered.Event, Data: buffered.Data}
			c.events = append(c.events[:i], c.events[i+1:]...)
			return ev, nil
		}
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		resp, err := c.readResponse()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return Event{}, fmt.Errorf("timed out waiting for event %s", name)
			}
			return Event{}, err
		}
		if resp.Event == "" {
			// An unsolicited response with no pending command; drop it.
			continue
		}
		if accepts(resp) {
			return Event{Name: resp.Event, Data: resp.Data}, nil
		}
		// Non-matching events are discarded while waiting: the caller asked
		// for a specific completion and anything older is stale.
	}
}

func (c *Client) readResponse() (response, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return response{}, err
	}
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return response{}, fmt.Errorf("malformed QMP response: %w", err)
	}
	return resp, nil
}

func (c *Client) applyDeadline(ctx context.Context) {
	if d, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(d)
		return
	}
	_ = c.conn.SetReadDeadline(time.Time{})
}

// Close shuts the connection down. Safe to call concurrently and more than
// once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
