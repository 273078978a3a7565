package ffmpeg

import (
	"log/slog"
	"strings"
)

// ffmpeg -loglevel names mapped onto slog levels.
var logLevels = map[string]slog.Level{
	"panic":   slog.LevelError,
	"fatal":   slog.LevelError,
	"error":   slog.LevelError,
	"warning": slog.LevelWarn,
	"info":    slog.LevelInfo,
	"verbose": slog.LevelDebug,
	"debug":   slog.LevelDebug,
	"trace":   slog.LevelDebug,
}

// ParseLogLevel reads the level tag ffmpeg writes with "-loglevel level+...".
// A line is "[level] msg" or "[ctx @ 0x...] [level] msg"; the level tag is
// removed and the context tag kept. Untagged lines are info.
func ParseLogLevel(line string) (slog.Level, string) {
	tag, rest, ok := cutTag(line)
	if !ok {
		return slog.LevelInfo, line
	}
	if level, known := logLevels[tag]; known {
		return level, rest
	}
	if levelTag, msg, ok := cutTag(rest); ok {
		if level, known := logLevels[levelTag]; known {
			return level, "[" + tag + "] " + msg
		}
	}
	return slog.LevelInfo, line
}

// cutTag splits "[tag] rest".
func cutTag(s string) (tag, rest string, ok bool) {
	if !strings.HasPrefix(s, "[") {
		return "", "", false
	}
	end := strings.Index(s, "] ")
	if end < 0 {
		return "", "", false
	}
	return s[1:end], s[end+2:], true
}
