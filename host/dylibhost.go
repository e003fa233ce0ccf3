package host

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/plugdev/plugdev/dylib"
)

// DylibHost backs the parameter store with a loaded engine module: metadata
// comes from the module itself and the processing entry points (when the
// vtable version matches) are exposed for the audio pipeline. A version
// mismatch degrades to metadata-only instead of failing the load.
type DylibHost struct {
	*MemoryHost
	module *dylib.Module
	engine *dylib.Engine
}

// NewDylibHost loads the module at path and populates the store from its
// metadata.
func NewDylibHost(path string, log *zap.Logger) (*DylibHost, error) {
	module, err := dylib.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening engine module failed: %w", err)
	}
	meta, err := module.Metadata()
	if err != nil {
		module.Close()
		return nil, fmt.Errorf("reading engine metadata failed: %w", err)
	}
	h := &DylibHost{
		MemoryHost: NewMemoryHost(meta.Params, meta.Processors),
		module:     module,
	}
	if engine, ok := module.Engine(); ok {
		h.engine = engine
	} else {
		log.Warn("engine module has no compatible vtable, processing disabled",
			zap.String("path", path),
			zap.Uint32("supported", dylib.VtableVersion))
	}
	return h, nil
}

// Engine returns the module's processing entry points, or false when the
// host is metadata-only.
func (h *DylibHost) Engine() (*dylib.Engine, bool) {
	return h.engine, h.engine != nil
}

// Close destroys the engine state and unloads the module.
func (h *DylibHost) Close() error {
	if h.engine != nil {
		h.engine.Destroy()
		h.engine = nil
	}
	return h.module.Close()
}
