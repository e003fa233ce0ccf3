// Package dylib loads a freshly built dynamic module at runtime and exposes
// its minimal symbol surface: a metadata query plus matching free function,
// and an optional versioned vtable of processing entry points. Loading a
// foreign module can hang in its static initializers, which is why the
// extract package always drives this code from a killable child process.
package dylib

import (
	"errors"
	"fmt"
	"unicode/utf8"
	"unsafe"

	jsoniter "github.com/json-iterator/go"

	"github.com/plugdev/plugdev"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Metadata is the structured text a module reports about itself.
type Metadata struct {
	Params     []plugdev.ParameterInfo `json:"params"`
	Processors []plugdev.ProcessorInfo `json:"processors"`
}

// VtableVersion is the vtable revision this build understands. A module
// reporting any other version is still usable for metadata, just not for
// in-process audio.
const VtableVersion = 1

// Vtable mirrors the C-side struct of function pointers. Field order and
// sizes must match the exported plugdev_vtable symbol exactly.
type Vtable struct {
	Version       uint32
	_             uint32
	Process       uintptr
	Reset         uintptr
	SetSampleRate uintptr
	Destroy       uintptr
}

var (
	ErrLoadFailed    = errors.New("module load failed")
	ErrMissingSymbol = errors.New("missing symbol")
	ErrBadMetadata   = errors.New("metadata deserialization failed")
	ErrBadEncoding   = errors.New("metadata is not valid UTF-8")
)

const (
	symMetadata     = "plugdev_metadata"
	symMetadataFree = "plugdev_metadata_free"
	symVtable       = "plugdev_vtable"
)

// Module is an opened dynamic module. Not safe for concurrent use.
type Module struct {
	path         string
	handle       uintptr
	metadata     func() uintptr
	metadataFree func(uintptr)
	vtable       *Vtable
}

// Open loads the module at path and resolves its symbol surface. The
// metadata pair is mandatory; the vtable is optional and is dropped (with a
// nil Vtable, not an error) when its version does not match.
func Open(path string) (*Module, error) {
	handle, err := openLibrary(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, path, err)
	}
	m := &Module{path: path, handle: handle}

	metaAddr, err := resolveSymbol(handle, symMetadata)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("%w: %s", ErrMissingSymbol, symMetadata)
	}
	freeAddr, err := resolveSymbol(handle, symMetadataFree)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("%w: %s", ErrMissingSymbol, symMetadataFree)
	}
	registerFunc(&m.metadata, metaAddr)
	registerFunc(&m.metadataFree, freeAddr)

	if vtAddr, err := resolveSymbol(handle, symVtable); err == nil {
		var vtableFn func() uintptr
		registerFunc(&vtableFn, vtAddr)
		if p := vtableFn(); p != 0 {
			vt := (*Vtable)(unsafe.Pointer(p)) //nolint:govet // foreign memory, layout pinned above
			if vt.Version == VtableVersion {
				m.vtable = vt
			}
		}
	}
	return m, nil
}

// Path returns the path the module was loaded from.
func (m *Module) Path() string { return m.path }

// Vtable returns the processing vtable, or nil when the module does not
// export one or exports an incompatible version.
func (m *Module) Vtable() *Vtable { return m.vtable }

// Metadata queries the module for its parameter and processor metadata.
func (m *Module) Metadata() (Metadata, error) {
	ptr := m.metadata()
	if ptr == 0 {
		return Metadata{}, fmt.Errorf("%s returned NULL", symMetadata)
	}
	defer m.metadataFree(ptr)
	raw := goBytes(ptr)
	if !utf8.Valid(raw) {
		return Metadata{}, ErrBadEncoding
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrBadMetadata, err)
	}
	return meta, nil
}

// Close releases the module handle.
func (m *Module) Close() error {
	if m.handle == 0 {
		return nil
	}
	err := closeLibrary(m.handle)
	m.handle = 0
	return err
}

// goBytes copies a NUL-terminated C string out of foreign memory.
func goBytes(ptr uintptr) []byte {
	n := 0
	for *(*byte)(unsafe.Pointer(ptr + uintptr(n))) != 0 {
		n++
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n))
	return out
}
