package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/segmentcast/internal/logging"
)

// LogParser parses a stderr line into a level and the message to log.
type LogParser func(line string) (slog.Level, string)

const stderrTailLines = 20

// ExitError reports a non-zero exit together with the process's last
// stderr lines.
type ExitError struct {
	ID     string
	Code   int
	Stderr []string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.ID, e.Code)
	if len(e.Stderr) > 0 {
		msg += ": " + e.Stderr[len(e.Stderr)-1]
	}
	return msg
}

// Pipe manages one subprocess with piped stdin and stdout.
type Pipe struct {
	id              string
	args            []string
	logger          logging.Logger
	processLogger   logging.Logger // logger for process output (nil = use logger)
	logParser       LogParser      // nil = every line is info
	gracefulTimeout time.Duration
	killTimeout     time.Duration

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	done   chan struct{}

	mu        sync.Mutex
	state     State
	startedAt time.Time
	exitCode  int
	waitErr   error
	tail      []string
}

// NewPipe creates a pipe for args; args[0] is the binary.
func NewPipe(id string, args []string, logger logging.Logger) *Pipe {
	return &Pipe{
		id:              id,
		args:            args,
		logger:          logger,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
		done:            make(chan struct{}),
		state:           StateIdle,
	}
}

// ID returns the pipe's identifier.
func (p *Pipe) ID() string {
	return p.id
}

// SetLogParser sets the logger and parser used for the process's stderr.
func (p *Pipe) SetLogParser(logger logging.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

// SetTimeouts overrides the graceful stop and kill timeouts.
func (p *Pipe) SetTimeouts(graceful, kill time.Duration) {
	p.gracefulTimeout = graceful
	p.killTimeout = kill
}

// Start launches the subprocess. Cancelling ctx kills it.
func (p *Pipe) Start(ctx context.Context) error {
	if len(p.args) == 0 {
		return errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, p.args[0], p.args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	// os.Pipe instead of StdoutPipe so Wait never closes the read side
	// before the owner has drained it.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		p.setFailed(err)
		p.logger.Error("Failed to start process", "id", p.id, "error", err)
		return err
	}
	stdoutW.Close()
	stderrW.Close()

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = stdoutR

	p.mu.Lock()
	p.state = StateRunning
	p.startedAt = time.Now()
	p.mu.Unlock()

	p.logger.Debug("Process started", "id", p.id, "pid", cmd.Process.Pid, "command", p.Command())

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		p.streamOutput(stderrR)
		stderrR.Close()
	}()
	go func() {
		err := cmd.Wait()
		<-stderrDone
		p.finish(err)
	}()
	return nil
}

// Stdin returns the process's standard input.
func (p *Pipe) Stdin() io.WriteCloser {
	return p.stdin
}

// Stdout returns the process's standard output.
func (p *Pipe) Stdout() io.Reader {
	return p.stdout
}

// Done is closed once the process has exited and its stderr is drained.
func (p *Pipe) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits and returns an *ExitError for a
// non-zero exit.
func (p *Pipe) Wait() error {
	<-p.done
	return p.Err()
}

// Err returns the exit error, or nil while running or after a clean exit.
func (p *Pipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Stop closes stdin, asks the process to exit with SIGINT and force kills
// it after the graceful timeout.
func (p *Pipe) Stop() error {
	if p.cmd == nil {
		return nil
	}
	p.setStopping()
	_ = p.stdin.Close()
	p.sendStopSignal()
	return p.waitForExit(p.gracefulTimeout)
}

// Kill terminates the process immediately and releases its pipes.
func (p *Pipe) Kill() error {
	if p.cmd == nil {
		return nil
	}
	p.setStopping()
	_ = p.stdin.Close()
	_ = p.stdout.Close()
	return p.waitForExit(0)
}

// Command returns the command line for logging.
func (p *Pipe) Command() string {
	return strings.Join(p.args, " ")
}

// Info returns a snapshot of the pipe's state.
func (p *Pipe) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := Info{
		ID:        p.id,
		State:     p.state,
		Command:   strings.Join(p.args, " "),
		StartedAt: p.startedAt,
		ExitCode:  p.exitCode,
	}
	if p.cmd != nil && p.cmd.Process != nil {
		info.PID = p.cmd.Process.Pid
	}
	if p.waitErr != nil {
		info.LastError = p.waitErr.Error()
	}
	return info
}

// StderrTail returns the last lines the process wrote to stderr.
func (p *Pipe) StderrTail() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tail...)
}

func (p *Pipe) setStopping() {
	p.mu.Lock()
	if p.state == StateRunning {
		p.state = StateStopping
	}
	p.mu.Unlock()
}

func (p *Pipe) setFailed(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateError
	p.waitErr = err
	p.exitCode = -1
	close(p.done)
}

func (p *Pipe) finish(err error) {
	code := exitCodeFromError(err)

	p.mu.Lock()
	stopping := p.state == StateStopping
	p.exitCode = code
	switch {
	case code == 0:
		p.state = StateExited
	case stopping:
		// exit status after a requested stop is not a failure
		p.state = StateExited
	default:
		p.state = StateError
		p.waitErr = &ExitError{ID: p.id, Code: code, Stderr: append([]string(nil), p.tail...)}
	}
	p.mu.Unlock()

	p.logger.Debug("Process exited", "id", p.id, "exit_code", code)
	close(p.done)
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// sendStopSignal sends SIGINT to the subprocess without waiting.
func (p *Pipe) sendStopSignal() {
	if p.cmd.Process == nil {
		return
	}
	if err := p.cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("Failed to send SIGINT", "id", p.id, "error", err)
	}
}

// waitForExit waits for the process to exit, force-killing it after timeout.
func (p *Pipe) waitForExit(timeout time.Duration) error {
	if timeout > 0 {
		select {
		case <-p.done:
			return p.Err()
		case <-time.After(timeout):
			p.logger.Warn("Graceful shutdown timeout, forcing kill", "id", p.id, "timeout", timeout)
		}
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Error("Failed to kill process", "id", p.id, "error", err)
	}

	select {
	case <-p.done:
		return p.Err()
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after kill signal", "id", p.id)
		return fmt.Errorf("%s did not exit after kill", p.id)
	}
}

// streamOutput logs stderr through the configured parser and keeps a tail.
func (p *Pipe) streamOutput(reader io.Reader) {
	scanner := bufio.NewScanner(reader)

	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	for scanner.Scan() {
		line := scanner.Text()

		p.mu.Lock()
		p.tail = append(p.tail, line)
		if len(p.tail) > stderrTailLines {
			p.tail = p.tail[len(p.tail)-stderrTailLines:]
		}
		p.mu.Unlock()

		level, msg := slog.LevelInfo, line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}

		switch {
		case level >= slog.LevelError:
			logger.Error(msg, "process", p.id)
		case level >= slog.LevelWarn:
			logger.Warn(msg, "process", p.id)
		case level >= slog.LevelInfo:
			logger.Info(msg, "process", p.id)
		default:
			logger.Debug(msg, "process", p.id)
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading output", "id", p.id, "error", err)
	}
}
