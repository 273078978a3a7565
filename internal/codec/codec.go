// Package codec defines the decoder and encoder sessions the pipeline stages
// drive. A session is configured once, fed one item at a time and delivers
// its output asynchronously on a channel.
package codec

import (
	"context"
	"errors"

	"github.com/smazurov/segmentcast/internal/media"
)

// ErrNotConfigured is returned when input is submitted before Configure.
var ErrNotConfigured = errors.New("session not configured")

// ErrClosed is returned when a closed session is used.
var ErrClosed = errors.New("session closed")

// Decoder turns encoded chunks into raw frames.
//
// Configure binds the session to ctx: cancelling it tears the session down.
// Frames delivers decoded frames; the receiver owns each frame. Flush blocks
// until every frame for the submitted chunks has been received from Frames.
// Close stops the session and closes the Frames channel.
type Decoder interface {
	Configure(ctx context.Context, cfg media.DecoderConfig) error
	Decode(ctx context.Context, chunk *media.Chunk) error
	Frames() <-chan *media.Frame
	Flush(ctx context.Context) error
	Close() error
}

// EncodeOptions are per-frame encode hints.
type EncodeOptions struct {
	KeyFrame bool
}

// EncodedOutput is one encoded chunk. DecoderConfig is set when the stream
// parameters a decoder needs were established or changed at this chunk.
type EncodedOutput struct {
	Chunk         *media.Chunk
	DecoderConfig *media.DecoderConfig
}

// Encoder turns raw frames into encoded chunks.
//
// Encode copies what it needs from the frame before returning; the caller
// keeps ownership and releases the frame afterwards.
type Encoder interface {
	Configure(ctx context.Context, cfg media.EncoderConfig) error
	Encode(ctx context.Context, frame *media.Frame, opts EncodeOptions) error
	Output() <-chan EncodedOutput
	Flush(ctx context.Context) error
	Close() error
}

// Factory creates sessions and answers whether an encode configuration can
// be served.
type Factory interface {
	NewDecoder() (Decoder, error)
	NewEncoder() (Encoder, error)
	IsSupported(ctx context.Context, cfg media.EncoderConfig) (bool, error)
}
