// Package client speaks the carestore line protocol over one TCP
// connection.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"carestore/wire"
)

// ResponseError is returned by Do when the server answers ERR.
type ResponseError struct {
	Command string
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// Client is a connection to a carestore server. It is safe for
// concurrent use; requests are serialized so responses cannot
// interleave.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *wire.Reader
	writer *wire.Writer
}

// Dial connects to the server at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{
		conn:   conn,
		reader: wire.NewReader(conn),
		writer: wire.NewWriter(conn),
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends command with args and returns the response fields after the
// leading "OK". An ERR response becomes a *ResponseError. The deadline
// of ctx, if any, bounds the whole round trip. After any error other
// than a *ResponseError the connection state is unknown and the Client
// should be closed.
func (c *Client) Do(ctx context.Context, command string, args ...string) ([]string, error) {
	return c.Raw(ctx, wire.Encode(append([]string{command}, args...)...))
}

// Raw sends an already encoded request line. It is Do for callers that
// build lines themselves, such as an interactive shell.
func (c *Client) Raw(ctx context.Context, line string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	// Unblock the round trip if ctx is cancelled mid-flight. If the
	// callback has started, wait for it so its deadline cannot land on
	// the next request.
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer func() {
		if !stop() {
			<-fired
		}
	}()

	if err := c.writer.WriteLine(line); err != nil {
		return nil, c.ioErr(ctx, "send", err)
	}
	if err := c.writer.Flush(); err != nil {
		return nil, c.ioErr(ctx, "send", err)
	}
	fields, err := c.reader.ReadFields()
	if err != nil {
		return nil, c.ioErr(ctx, "receive", err)
	}

	switch fields[0] {
	case wire.StatusOK:
		return fields[1:], nil
	case wire.StatusErr:
		msg := ""
		if len(fields) > 1 {
			msg = fields[1]
		}
		return nil, &ResponseError{Command: wire.Decode(line)[0], Message: msg}
	default:
		return nil, fmt.Errorf("unexpected response status %q", fields[0])
	}
}

func (c *Client) ioErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	// The socket deadline can fire a moment before the context timer.
	if dl, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(dl) {
		return fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s: %w", op, err)
}
