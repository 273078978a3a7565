package media

import (
	"fmt"
	"time"
)

// ChunkType marks whether a chunk can be decoded on its own.
type ChunkType int

// Chunk types
const (
	KeyFrame ChunkType = iota
	DeltaFrame
)

func (t ChunkType) String() string {
	if t == KeyFrame {
		return "key"
	}
	return "delta"
}

// Chunk is one compressed access unit. Data is immutable once the chunk
// leaves the stage that produced it.
type Chunk struct {
	Type      ChunkType
	Timestamp time.Duration
	Duration  time.Duration
	Data      []byte
}

// IsKey reports whether the chunk is a key frame.
func (c *Chunk) IsKey() bool {
	return c.Type == KeyFrame
}

func (c *Chunk) String() string {
	return fmt.Sprintf("%s@%s(%d bytes)", c.Type, c.Timestamp, len(c.Data))
}

// HardwareAcceleration expresses a preference for hardware or software codecs.
type HardwareAcceleration string

// Hardware acceleration preferences
const (
	NoPreference   HardwareAcceleration = "no-preference"
	PreferHardware HardwareAcceleration = "prefer-hardware"
	PreferSoftware HardwareAcceleration = "prefer-software"
)

// DecoderConfig describes the compressed stream a decoder session receives.
type DecoderConfig struct {
	Codec                string               `json:"codec"`
	CodedWidth           int                  `json:"codedWidth,omitempty"`
	CodedHeight          int                  `json:"codedHeight,omitempty"`
	Description          []byte               `json:"description,omitempty"`
	HardwareAcceleration HardwareAcceleration `json:"hardwareAcceleration,omitempty"`
}

// EncoderConfig describes the output an encoder session produces.
type EncoderConfig struct {
	Codec                string               `json:"codec" toml:"codec"`
	Width                int                  `json:"width" toml:"width"`
	Height               int                  `json:"height" toml:"height"`
	Bitrate              int64                `json:"bitrate" toml:"bitrate"`
	Framerate            float64              `json:"framerate,omitempty" toml:"framerate,omitempty"`
	HardwareAcceleration HardwareAcceleration `json:"hardwareAcceleration,omitempty" toml:"hardware_acceleration,omitempty"`
}

func (c EncoderConfig) String() string {
	return fmt.Sprintf("%s %dx%d %dbps hw=%s", c.Codec, c.Width, c.Height, c.Bitrate, c.HardwareAcceleration)
}

// RecordKind tags a record flowing between the encode and mux stages.
type RecordKind int

// Record kinds
const (
	RecordChunk RecordKind = iota
	RecordConfig
)

// Record is either a decoder configuration or an encoded chunk.
type Record struct {
	Kind   RecordKind
	Config *DecoderConfig
	Chunk  *Chunk
}

// ConfigRecord wraps a decoder configuration.
func ConfigRecord(cfg DecoderConfig) Record {
	return Record{Kind: RecordConfig, Config: &cfg}
}

// ChunkRecord wraps an encoded chunk.
func ChunkRecord(c *Chunk) Record {
	return Record{Kind: RecordChunk, Chunk: c}
}
