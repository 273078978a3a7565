// Package process runs streaming subprocesses.
//
// Pipe wraps os/exec for a subprocess that is fed through stdin and read
// through stdout:
//   - stderr is streamed line by line through a pluggable LogParser
//   - the last stderr lines are kept for error reports
//   - Stop closes stdin, sends SIGINT and force kills after a timeout
//   - Kill tears the process down immediately
//
// Registry tracks the pipes that are currently alive so they can be listed
// and stopped together on shutdown.
//
//	reg := process.NewRegistry(logger)
//	p := process.NewPipe("decode-1", []string{"ffmpeg", "-i", "pipe:0", ...}, logger)
//	reg.Add(p)
//	if err := p.Start(ctx); err != nil { ... }
//	defer reg.StopAll()
package process
