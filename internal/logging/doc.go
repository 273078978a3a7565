// Package logging provides structured logging with per-module log levels.
//
// Output goes to stdout when a terminal, pipe or file is attached and to the
// systemd journal when journald is running; both when both are available.
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"pipeline": "debug",
//			"ffmpeg":   "warn",
//		},
//	})
//
// and get a module logger wherever one is needed:
//
//	logger := logging.GetLogger("pipeline").With("run_id", id)
//	logger.Info("Run started", "file", path)
//
// Module levels can be changed at runtime with SetModuleLevel.
//
// Journal entries carry SYSLOG_IDENTIFIER=segmentcast and every attribute as
// an upper-case field:
//
//	journalctl -t segmentcast MODULE=pipeline
//	journalctl -t segmentcast RUN_ID=<id> -p warning
//
// TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	ffmpeg = "warn"
package logging
