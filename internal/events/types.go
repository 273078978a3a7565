package events

// Event type constants for kelindar/event.
const (
	TypeRunStarted uint32 = iota + 1
	TypeSegmentUploaded
	TypeRunCompleted
	TypeRunFailed
	TypeRunProgress
	TypePresetsReloaded
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// RunStartedEvent is published when a pipeline run begins.
type RunStartedEvent struct {
	RunID     string `json:"run_id" example:"4f7c2a9e-3b1d-4c55-8f0e-1a2b3c4d5e6f" doc:"Run identifier"`
	File      string `json:"file" example:"/srv/media/clip.mp4" doc:"Input file"`
	Stem      string `json:"stem" example:"clip" doc:"Segment filename stem"`
	Encoder   string `json:"encoder" example:"vp09.00.10.08 320x240 10000000bps" doc:"Encode configuration"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for RunStartedEvent.
func (e RunStartedEvent) Type() uint32 { return TypeRunStarted }

// SegmentUploadedEvent is published after each successful segment upload.
type SegmentUploadedEvent struct {
	RunID     string `json:"run_id" doc:"Run identifier"`
	Filename  string `json:"filename" example:"clip-1-144p.webm" doc:"Uploaded segment name"`
	Index     int    `json:"index" example:"1" doc:"Segment number, starting at 1"`
	Bytes     int    `json:"bytes" example:"10485760" doc:"Segment size in bytes"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SegmentUploadedEvent.
func (e SegmentUploadedEvent) Type() uint32 { return TypeSegmentUploaded }

// RunProgressEvent reports frame counts while a run is active.
type RunProgressEvent struct {
	RunID     string  `json:"run_id" doc:"Run identifier"`
	Decoded   int64   `json:"decoded" doc:"Frames decoded from the input"`
	Encoded   int64   `json:"encoded" doc:"Chunks produced by the encoder"`
	Rendered  int64   `json:"rendered" doc:"Frames delivered to the preview sink"`
	Muxed     int64   `json:"muxed" doc:"Blocks written to the WebM stream"`
	Segments  int64   `json:"segments" doc:"Segments uploaded so far"`
	Bytes     int64   `json:"bytes" doc:"Bytes uploaded so far"`
	FPS       float64 `json:"fps" example:"29.8" doc:"Preview frames per second since the previous report"`
	Timestamp string  `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for RunProgressEvent.
func (e RunProgressEvent) Type() uint32 { return TypeRunProgress }

// RunCompletedEvent is published once a run has uploaded its last segment.
type RunCompletedEvent struct {
	RunID     string `json:"run_id" doc:"Run identifier"`
	Status    string `json:"status" example:"done" doc:"Completion status"`
	Segments  int    `json:"segments" example:"3" doc:"Segments uploaded"`
	Duration  string `json:"duration" example:"12.5s" doc:"Wall clock run time"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for RunCompletedEvent.
func (e RunCompletedEvent) Type() uint32 { return TypeRunCompleted }

// RunFailedEvent is published when a run stops on its first error.
type RunFailedEvent struct {
	RunID     string `json:"run_id" doc:"Run identifier"`
	Kind      string `json:"kind" example:"UPLOAD" doc:"Error kind"`
	Error     string `json:"error" doc:"Error message"`
	Segments  int    `json:"segments" doc:"Segments uploaded before the failure"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for RunFailedEvent.
func (e RunFailedEvent) Type() uint32 { return TypeRunFailed }

// PresetsReloadedEvent is published when the presets file changes on disk.
type PresetsReloadedEvent struct {
	Count     int    `json:"count" example:"3" doc:"Presets loaded"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for PresetsReloadedEvent.
func (e PresetsReloadedEvent) Type() uint32 { return TypePresetsReloaded }
