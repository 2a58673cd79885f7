// ABOUTME: CommandChannel serializes typed command envelopes onto one connection.
// ABOUTME: Every send funnels through SendEnvelope; ordering is the connection's FIFO.

package channel

import (
	"fmt"

	"github.com/2389/loom-client/internal/protocol"
)

// CommandChannel is the outbound half of the client: typed command envelopes
// serialized onto one Conn. Deduplication is deliberately absent; retrying a
// command is the caller's decision.
type CommandChannel struct {
	conn *Conn
}

// NewCommandChannel wraps the given connection.
func NewCommandChannel(conn *Conn) *CommandChannel {
	return &CommandChannel{conn: conn}
}

// SendEnvelope serializes and submits one command envelope. If the socket is
// open it is transmitted immediately, otherwise it joins the ordered queue.
func (c *CommandChannel) SendEnvelope(cmd *protocol.CommandEnvelope) error {
	data, err := cmd.Marshal()
	if err != nil {
		return fmt.Errorf("serializing command: %w", err)
	}
	c.conn.Send(data)
	return nil
}

// Conn exposes the underlying connection for lifecycle control.
func (c *CommandChannel) Conn() *Conn {
	return c.conn
}
