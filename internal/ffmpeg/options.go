package ffmpeg

// OptionType represents a strongly typed FFmpeg behaviour flag.
type OptionType string

// FFmpeg option constants
const (
	OptionLowLatency  OptionType = "low_latency"  // decode without input buffering
	OptionPassthrough OptionType = "passthrough"  // one output frame per input frame
	OptionRealtime    OptionType = "realtime"     // libvpx realtime deadline
	OptionNoLookahead OptionType = "no_lookahead" // libvpx: no alt-ref, no lag
	OptionRowMT       OptionType = "row_mt"       // libvpx row multithreading
)

// Option describes a flag for listings.
type Option struct {
	Key         OptionType `json:"key"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	SoftwareVPX bool       `json:"software_vpx"` // only valid for libvpx encoders
}

// AllOptions lists the supported flags.
var AllOptions = []Option{
	{
		Key:         OptionLowLatency,
		Name:        "Low Latency",
		Description: "Disable input buffering and decoder delay",
	},
	{
		Key:         OptionPassthrough,
		Name:        "Frame Passthrough",
		Description: "Pass frames through without dropping or duplicating",
	},
	{
		Key:         OptionRealtime,
		Name:        "Realtime Deadline",
		Description: "Encode with the realtime deadline and fastest speed",
		SoftwareVPX: true,
	},
	{
		Key:         OptionNoLookahead,
		Name:        "No Lookahead",
		Description: "Emit one packet per frame without alt-ref frames",
		SoftwareVPX: true,
	},
	{
		Key:         OptionRowMT,
		Name:        "Row Multithreading",
		Description: "Enable row based multithreading",
		SoftwareVPX: true,
	},
}

// inputArgs returns the args an option adds before -i.
func (o OptionType) inputArgs() []string {
	if o == OptionLowLatency {
		return []string{"-fflags", "nobuffer", "-flags", "low_delay"}
	}
	return nil
}

// outputArgs returns the args an option adds to the output.
func (o OptionType) outputArgs() []string {
	switch o {
	case OptionPassthrough:
		return []string{"-fps_mode", "passthrough"}
	case OptionRealtime:
		return []string{"-deadline", "realtime", "-cpu-used", "8"}
	case OptionNoLookahead:
		return []string{"-auto-alt-ref", "0", "-lag-in-frames", "0"}
	case OptionRowMT:
		return []string{"-row-mt", "1"}
	}
	return nil
}

func lookupOption(key OptionType) (Option, bool) {
	for _, o := range AllOptions {
		if o.Key == key {
			return o, true
		}
	}
	return Option{}, false
}
