package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"carestore/dispatch"
	"carestore/wire"
)

// Connection serves one client: read a line, dispatch it, write and
// flush the response, repeat.
type Connection struct {
	conn     net.Conn
	reader   *wire.Reader
	writer   *wire.Writer
	disp     *dispatch.Dispatcher
	logger   *slog.Logger
	stopping atomic.Bool
}

func newConnection(conn net.Conn, disp *dispatch.Dispatcher, logger *slog.Logger) *Connection {
	return &Connection{
		conn:   conn,
		reader: wire.NewReader(conn),
		writer: wire.NewWriter(conn),
		disp:   disp,
		logger: logger.With("remote", conn.RemoteAddr().String()),
	}
}

// Handle runs the request loop and closes the connection on return.
func (c *Connection) Handle() {
	defer c.conn.Close()

	c.logger.Debug("connection opened")
	c.requestLoop()
	c.logger.Debug("connection closed")
}

// stop makes the next (or current) blocking read fail so the request
// loop exits after the request in progress, if any, is answered.
func (c *Connection) stop() {
	c.stopping.Store(true)
	c.conn.SetReadDeadline(time.Now().Add(-stopGrace))
}

func (c *Connection) requestLoop() {
	ctx := context.Background()
	for {
		line, err := c.reader.ReadLine()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
			case errors.Is(err, wire.ErrLineTooLong):
				c.logger.Warn("closing connection", "error", err)
			case c.stopping.Load() && errors.Is(err, os.ErrDeadlineExceeded):
			default:
				c.logger.Debug("read failed", "error", err)
			}
			return
		}

		resp := c.disp.Dispatch(ctx, line)
		if err := c.writer.WriteLine(resp); err != nil {
			c.logger.Debug("write failed", "error", err)
			return
		}
		if err := c.writer.Flush(); err != nil {
			c.logger.Debug("write failed", "error", err)
			return
		}
		if c.stopping.Load() {
			return
		}
	}
}
