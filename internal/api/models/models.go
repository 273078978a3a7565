// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"github.com/smazurov/segmentcast/internal/ffmpeg"
	"github.com/smazurov/segmentcast/internal/jobs"
	"github.com/smazurov/segmentcast/internal/logging"
	"github.com/smazurov/segmentcast/internal/media"
	"github.com/smazurov/segmentcast/internal/presets"
	"github.com/smazurov/segmentcast/internal/process"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version       string `json:"version" example:"dev" doc:"Application version"`
	GitCommit     string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate     string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	BuildID       string `json:"build_id" example:"a1b2c3d4" doc:"Unique build identifier"`
	GoVersion     string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Modified      bool   `json:"modified,omitempty" doc:"Built from a tree with uncommitted changes"`
	Platform      string `json:"platform" example:"linux/amd64" doc:"Platform"`
	FFmpegVersion string `json:"ffmpeg_version,omitempty" example:"7.1" doc:"Version of the ffmpeg binary used for codec sessions"`
}

type VersionResponse struct {
	Body VersionData
}

// Transcode models
type TranscodeRequest struct {
	Path   string               `json:"path" minLength:"1" example:"/srv/incoming/clip.mp4" doc:"Server-side path of the MP4 file to transcode"`
	Preset string               `json:"preset,omitempty" example:"240p" doc:"Named preset; ignored when encode is set"`
	Encode *media.EncoderConfig `json:"encode,omitempty" doc:"Explicit encode configuration"`
}

type CreateTranscodeRequest struct {
	Body TranscodeRequest
}

type TranscodeResponse struct {
	Body jobs.Job
}

type TranscodeListData struct {
	Transcodes []jobs.Job `json:"transcodes" doc:"All known transcodes, newest first"`
	Count      int        `json:"count" example:"1" doc:"Number of transcodes"`
}

type TranscodeListResponse struct {
	Body TranscodeListData
}

type TranscodeIDInput struct {
	ID string `path:"id" doc:"Transcode ID"`
}

type PreviewResponse struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Position     string `header:"X-Frame-Timestamp" doc:"Timestamp of the previewed frame"`
	Body         []byte
}

// Preset models
type PresetListData struct {
	Presets []presets.Preset `json:"presets" doc:"Encode presets ordered by output size"`
	Count   int              `json:"count" example:"3" doc:"Number of presets"`
}

type PresetListResponse struct {
	Body PresetListData
}

type PresetResponse struct {
	Body presets.Preset
}

type PresetNameInput struct {
	Name string `path:"name" example:"240p" doc:"Preset name"`
}

type PutPresetRequest struct {
	Name string `path:"name" example:"240p" doc:"Preset name"`
	Body presets.Preset
}

// Encoder models
type EncoderInfo struct {
	ffmpeg.EncoderSpec
	Validated *bool `json:"validated,omitempty" doc:"Result of the last validate-encoders run, absent when never validated"`
}

type EncoderListData struct {
	Encoders []EncoderInfo `json:"encoders" doc:"Encoders sessions may select, in preference order"`
	Count    int           `json:"count" example:"3" doc:"Number of encoders"`
}

type EncoderListResponse struct {
	Body EncoderListData
}

type OptionsData struct {
	Options []ffmpeg.Option `json:"options" doc:"Encoder options applied to codec sessions"`
}

type OptionsResponse struct {
	Body OptionsData
}

// Process models
type ProcessListData struct {
	Processes []process.Info     `json:"processes" doc:"Live ffmpeg codec sessions"`
	Count     int                `json:"count" example:"3" doc:"Number of live sessions"`
	Host      *process.HostUsage `json:"host,omitempty" doc:"Machine-wide resource use"`
}

type ProcessListResponse struct {
	Body ProcessListData
}

// Logging models
type LogLevelsData struct {
	Levels map[string]string `json:"levels" doc:"Effective level per module logger"`
}

type LogLevelsResponse struct {
	Body LogLevelsData
}

type SetLogLevelRequest struct {
	Module string `path:"module" example:"pipeline" doc:"Logger module"`
	Body   struct {
		Level string `json:"level" enum:"debug,info,warn,error" example:"debug" doc:"New level"`
	}
}

type LogEntriesRequest struct {
	Module string `query:"module" example:"upload" doc:"Only records from this module"`
	Level  string `query:"level" enum:"debug,info,warn,error" default:"debug" doc:"Minimum level"`
}

type LogEntriesData struct {
	Entries []logging.Entry `json:"entries" doc:"Recent records, oldest first"`
	Count   int             `json:"count"`
}

type LogEntriesResponse struct {
	Body LogEntriesData
}

// Segment receiver models
type SegmentData struct {
	Filename string `json:"filename" example:"clip-1-144p.webm" doc:"Stored filename"`
	Bytes    int    `json:"bytes" example:"10485760" doc:"Stored size"`
}

type SegmentResponse struct {
	Body SegmentData
}
