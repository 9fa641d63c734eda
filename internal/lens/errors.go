package lens

import (
	"fmt"

	"prism/internal/types"
)

// ConfigError is a fatal lens validation failure. It carries the gate that
// failed, a pointer into the lens document, and a short snippet of the
// offending element. All ConfigErrors surface at bootstrap; no partial
// contract is ever exposed.
type ConfigError struct {
	Reason  string
	Path    string
	Snippet string
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("lens config error: %s", e.Reason)
	if e.Path != "" {
		msg += fmt.Sprintf(" (at %s)", e.Path)
	}
	if e.Snippet != "" {
		msg += fmt.Sprintf(": %q", e.Snippet)
	}
	return msg
}

// Kind classifies the error for the run taxonomy.
func (e *ConfigError) Kind() types.ErrorKind { return types.KindLensConfig }

func configErrorf(path, snippet, format string, args ...any) *ConfigError {
	return &ConfigError{
		Reason:  fmt.Sprintf(format, args...),
		Path:    path,
		Snippet: snippet,
	}
}

// ResolutionError reports that no lens id could be resolved and no fallback
// was allowed. Fatal at bootstrap.
type ResolutionError struct {
	Tried []string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("lens resolution error: no lens id available (tried %v) and default lens not allowed", e.Tried)
}

// Kind classifies the error for the run taxonomy.
func (e *ResolutionError) Kind() types.ErrorKind { return types.KindLensResolution }
