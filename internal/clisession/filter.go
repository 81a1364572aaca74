package clisession

// FilterConfig controls which control bytes the Input Filter drops
// before writing web-originated input to the PTY (spec.md §4.8).
type FilterConfig struct {
	BlockCtrlC   bool
	BlockCtrlD   bool
	BlockCtrlZ   bool
	ExtraBlocked []byte
}

// DefaultFilterConfig matches spec.md §4.8's defaults.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{BlockCtrlC: true, BlockCtrlD: true}
}

// FilterResult is the outcome of applying a FilterConfig to one chunk
// of input bytes.
type FilterResult struct {
	Data           []byte
	Blocked        bool
	BlockedSignals []string
}

const (
	ctrlC = 0x03
	ctrlD = 0x04
	ctrlZ = 0x1a
)

// Filter drops the configured control bytes from b, reporting which
// named signals were removed.
func Filter(cfg FilterConfig, b []byte) FilterResult {
	blocked := map[byte]string{}
	if cfg.BlockCtrlC {
		blocked[ctrlC] = "SIGINT"
	}
	if cfg.BlockCtrlD {
		blocked[ctrlD] = "EOF"
	}
	if cfg.BlockCtrlZ {
		blocked[ctrlZ] = "SIGTSTP"
	}
	for _, eb := range cfg.ExtraBlocked {
		if _, ok := blocked[eb]; !ok {
			blocked[eb] = "CUSTOM"
		}
	}

	if len(blocked) == 0 {
		return FilterResult{Data: b}
	}

	out := make([]byte, 0, len(b))
	seen := map[string]bool{}
	var signals []string
	for _, c := range b {
		if name, ok := blocked[c]; ok {
			if !seen[name] {
				seen[name] = true
				signals = append(signals, name)
			}
			continue
		}
		out = append(out, c)
	}

	return FilterResult{Data: out, Blocked: len(signals) > 0, BlockedSignals: signals}
}
