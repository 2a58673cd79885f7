// ABOUTME: Chunk frames carried on the content streaming endpoint.
// ABOUTME: Each SSE data line decodes into one Chunk classified by type.

package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChunkType classifies a frame on a content stream.
type ChunkType string

const (
	ChunkProgress ChunkType = "progress"
	ChunkContent  ChunkType = "content"
	ChunkComplete ChunkType = "complete"
	ChunkError    ChunkType = "error"
)

// Chunk is one frame of a chunked content transfer.
type Chunk struct {
	Chunk     string        `json:"chunk,omitempty"`
	Type      ChunkType     `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	ChunkID   int           `json:"chunk_id"`
	Error     *ErrorPayload `json:"error,omitempty"`
}

// ParseChunk decodes one SSE data payload into a Chunk.
func ParseChunk(raw []byte) (*Chunk, error) {
	var c Chunk
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: chunk frame: %v", ErrMalformedEvent, err)
	}
	switch c.Type {
	case ChunkProgress, ChunkContent, ChunkComplete, ChunkError:
		return &c, nil
	default:
		return nil, fmt.Errorf("%w: chunk type %q", ErrMalformedEvent, c.Type)
	}
}
