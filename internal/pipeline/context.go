// Package pipeline carries the immutable run-scoped execution context: which
// lens this run uses, its validated contract, and its content hash. The
// context is plain data; it embeds no loaders or registries and is safe to
// log, persist, and replay.
package pipeline

import (
	"fmt"
	"os"

	"prism/internal/lens"
)

// EnvLensID is the environment fallback for lens resolution.
const EnvLensID = "LENS_ID"

// DefaultLensID is the dev fallback lens, usable only when explicitly
// allowed. Forbidden in validation runs.
const DefaultLensID = "dev"

// Context is the immutable carrier passed through the pipeline. Constructed
// once per run; shared as a read-only handle.
type Context struct {
	LensID   string
	Lens     *lens.Contract
	LensHash string
}

// NewContext builds a context from a validated contract.
func NewContext(contract *lens.Contract) *Context {
	return &Context{
		LensID:   contract.ID,
		Lens:     contract,
		LensHash: contract.ContentHash,
	}
}

// String renders the identity-only view, safe for logs.
func (c *Context) String() string {
	return fmt.Sprintf("lens=%s hash=%.12s", c.LensID, c.LensHash)
}

// ResolveLensID resolves the lens id for a run in strict precedence order:
// explicit CLI argument, then the LENS_ID environment variable, then the
// application config, then the dev fallback when (and only when) it was
// explicitly allowed.
func ResolveLensID(cliArg, configLens string, allowDefault bool) (string, error) {
	if cliArg != "" {
		return cliArg, nil
	}
	if env := os.Getenv(EnvLensID); env != "" {
		return env, nil
	}
	if configLens != "" {
		return configLens, nil
	}
	if allowDefault {
		return DefaultLensID, nil
	}
	return "", &lens.ResolutionError{Tried: []string{"--lens", EnvLensID, "config.lens_id"}}
}
