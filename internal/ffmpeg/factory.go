package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/smazurov/segmentcast/internal/codec"
	"github.com/smazurov/segmentcast/internal/logging"
	"github.com/smazurov/segmentcast/internal/media"
	"github.com/smazurov/segmentcast/internal/process"
)

// Options configures a Factory.
type Options struct {
	Binary   string // defaults to "ffmpeg"
	Registry *process.Registry
	Logger   *slog.Logger
}

// Factory creates ffmpeg backed codec sessions.
type Factory struct {
	binary   string
	registry *process.Registry
	logger   *slog.Logger
	stderr   *slog.Logger
	nextID   atomic.Uint64

	// listEncoders is swapped in tests.
	listEncoders func(ctx context.Context, binary string) (map[string]bool, error)

	mu       sync.Mutex
	compiled map[string]bool
}

var _ codec.Factory = (*Factory)(nil)

// NewFactory creates a factory.
func NewFactory(opts Options) *Factory {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("codec")
	}
	if opts.Registry == nil {
		opts.Registry = process.NewRegistry(opts.Logger)
	}
	return &Factory{
		binary:       opts.Binary,
		registry:     opts.Registry,
		logger:       opts.Logger,
		stderr:       logging.GetLogger("ffmpeg"),
		listEncoders: ListEncoders,
	}
}

// Binary returns the ffmpeg binary sessions run.
func (f *Factory) Binary() string {
	return f.binary
}

// Registry returns the registry tracking session processes.
func (f *Factory) Registry() *process.Registry {
	return f.registry
}

// NewDecoder returns an unconfigured decoder session.
func (f *Factory) NewDecoder() (codec.Decoder, error) {
	return newDecoder(f, f.sessionID("decoder")), nil
}

// NewEncoder returns an unconfigured encoder session.
func (f *Factory) NewEncoder() (codec.Encoder, error) {
	return newEncoder(f, f.sessionID("encoder")), nil
}

// IsSupported reports whether cfg can be encoded. An error means ffmpeg
// itself could not be queried.
func (f *Factory) IsSupported(ctx context.Context, cfg media.EncoderConfig) (bool, error) {
	if err := checkEncoderConfig(cfg); err != nil {
		return false, nil
	}
	compiled, err := f.compiledEncoders(ctx)
	if err != nil {
		return false, err
	}
	for _, spec := range Candidates(cfg) {
		if compiled[spec.Name] {
			return true, nil
		}
	}
	return false, nil
}

// SelectEncoder returns the preferred compiled encoder for cfg.
func (f *Factory) SelectEncoder(ctx context.Context, cfg media.EncoderConfig) (EncoderSpec, error) {
	if err := checkEncoderConfig(cfg); err != nil {
		return EncoderSpec{}, media.NewError(media.KindCodecConfigUnsupported, cfg.String(), err)
	}
	compiled, err := f.compiledEncoders(ctx)
	if err != nil {
		return EncoderSpec{}, media.NewError(media.KindCodecConfigUnsupported, cfg.String(), err)
	}
	for _, spec := range Candidates(cfg) {
		if compiled[spec.Name] {
			return spec, nil
		}
	}
	return EncoderSpec{}, media.NewError(media.KindCodecConfigUnsupported, cfg.String(),
		fmt.Errorf("no %s encoder compiled into %s", cfg.Codec, f.binary))
}

// checkEncoderConfig validates cfg independently of the ffmpeg build.
func checkEncoderConfig(cfg media.EncoderConfig) error {
	family, ok := CodecFamily(cfg.Codec)
	switch {
	case !ok:
		return fmt.Errorf("unknown codec %q", cfg.Codec)
	case family != FamilyVP9:
		return fmt.Errorf("codec %q is decode only", cfg.Codec)
	case cfg.Width <= 0 || cfg.Height <= 0:
		return fmt.Errorf("invalid size %dx%d", cfg.Width, cfg.Height)
	case cfg.Width%2 != 0 || cfg.Height%2 != 0:
		return fmt.Errorf("size %dx%d is not even", cfg.Width, cfg.Height)
	case cfg.Bitrate <= 0:
		return fmt.Errorf("invalid bitrate %d", cfg.Bitrate)
	case cfg.Framerate <= 0:
		return fmt.Errorf("invalid framerate %g", cfg.Framerate)
	}
	return nil
}

// compiledEncoders lists ffmpeg's encoders once. Failures are not cached.
func (f *Factory) compiledEncoders(ctx context.Context) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.compiled != nil {
		return f.compiled, nil
	}
	compiled, err := f.listEncoders(ctx, f.binary)
	if err != nil {
		return nil, err
	}
	f.compiled = compiled
	f.logger.Debug("Listed ffmpeg encoders", "count", len(compiled))
	return compiled, nil
}

func (f *Factory) sessionID(kind string) string {
	return kind + "-" + strconv.FormatUint(f.nextID.Add(1), 10)
}

// startPipe starts a session process and registers it once running.
func (f *Factory) startPipe(ctx context.Context, id string, args []string) (*process.Pipe, error) {
	pipe := process.NewPipe(id, args, f.logger)
	pipe.SetLogParser(f.stderr.With("session", id), ParseLogLevel)
	if err := pipe.Start(ctx); err != nil {
		return nil, err
	}
	f.registry.Add(pipe)
	return pipe, nil
}
