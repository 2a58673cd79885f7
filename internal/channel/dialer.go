// ABOUTME: Socket and Dialer abstractions over the websocket transport.
// ABOUTME: Production dialing uses gorilla/websocket; tests inject fakes.

package channel

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Socket is the minimal surface of an established socket connection.
type Socket interface {
	// ReadMessage blocks until the next frame arrives or the connection fails.
	ReadMessage() ([]byte, error)
	// WriteMessage transmits one text frame.
	WriteMessage(data []byte) error
	// Close tears down the connection.
	Close() error
}

// Dialer establishes socket connections. Tests substitute a fake
// implementation to drive the reconnect machine deterministically.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// WebsocketDialer dials real websocket connections.
type WebsocketDialer struct {
	// Header is sent with the upgrade request, may be nil.
	Header http.Header
}

// Dial establishes a websocket connection to the given URL.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Socket, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s (status %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return &gorillaSocket{conn: conn}, nil
}

// gorillaSocket adapts *websocket.Conn to the Socket interface.
// Writes are serialized: gorilla connections support one concurrent writer.
type gorillaSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *gorillaSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *gorillaSocket) WriteMessage(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *gorillaSocket) Close() error {
	return s.conn.Close()
}
