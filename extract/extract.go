// Package extract queries a freshly built dynamic module for its metadata in
// a separate, killable process. Loading a foreign module can hang the loader
// indefinitely (static initializers are the known cause), so the query never
// runs in the session process: the binary re-invokes itself as
// "<self> extract-params <path>" and races the child against a hard timeout.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/plugdev/plugdev"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultTimeout bounds one extraction attempt, including module load.
const DefaultTimeout = 30 * time.Second

// Modes the child process is invoked with.
const (
	ModeParams     = "extract-params"
	ModeProcessors = "extract-processors"
)

// ErrTimeout marks an extraction that had to be force-killed.
var ErrTimeout = errors.New("extraction timed out")

// Extractor runs metadata queries in child processes.
type Extractor struct {
	// SelfPath is the binary to invoke; empty means os.Executable().
	SelfPath string
	// Timeout bounds one attempt; zero means DefaultTimeout.
	Timeout time.Duration

	log *zap.Logger
}

func New(log *zap.Logger) *Extractor {
	return &Extractor{log: log}
}

// Params extracts the parameter metadata of the module at dylibPath.
func (e *Extractor) Params(ctx context.Context, dylibPath string) ([]plugdev.ParameterInfo, error) {
	out, err := e.run(ctx, ModeParams, dylibPath)
	if err != nil {
		return nil, err
	}
	var params []plugdev.ParameterInfo
	if err := json.Unmarshal(out, &params); err != nil {
		return nil, fmt.Errorf("parsing parameter metadata failed: %w", err)
	}
	return params, nil
}

// Processors extracts the processor metadata of the module at dylibPath.
func (e *Extractor) Processors(ctx context.Context, dylibPath string) ([]plugdev.ProcessorInfo, error) {
	out, err := e.run(ctx, ModeProcessors, dylibPath)
	if err != nil {
		return nil, err
	}
	var procs []plugdev.ProcessorInfo
	if err := json.Unmarshal(out, &procs); err != nil {
		return nil, fmt.Errorf("parsing processor metadata failed: %w", err)
	}
	return procs, nil
}

func (e *Extractor) run(ctx context.Context, mode, dylibPath string) ([]byte, error) {
	self := e.SelfPath
	if self == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating own binary failed: %w", err)
		}
		self = exe
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// Copy to a unique temp path first. Some platform loaders cache module
	// handles by path and would hand back the previously loaded image for a
	// rebuilt artifact at the same location.
	tmpPath, err := CopyToTemp(dylibPath)
	if err != nil {
		return nil, fmt.Errorf("copying module to temp path failed: %w", err)
	}
	defer os.Remove(tmpPath)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, self, mode, tmpPath)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w after %v: %s %s %s never finished; the module at %s is likely hanging in a static initializer",
			ErrTimeout, timeout, self, mode, tmpPath, dylibPath)
	}
	if ctx.Err() == context.Canceled {
		return nil, fmt.Errorf("extraction cancelled: %w", context.Canceled)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("extraction failed: %s", msg)
	}
	if e.log != nil {
		e.log.Debug("extraction finished",
			zap.String("mode", mode),
			zap.Duration("took", time.Since(start)))
	}
	return bytes.TrimSpace(stdout.Bytes()), nil
}

// IsTimeout reports whether err is the force-kill timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// CopyToTemp copies the module to a unique temp path so every load sees a
// fresh file, defeating loader handle caches. The caller removes the copy.
func CopyToTemp(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()
	name := "plugdev-" + uuid.NewString() + filepath.Ext(path)
	tmpPath := filepath.Join(os.TempDir(), name)
	dst, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o755)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	return tmpPath, nil
}
