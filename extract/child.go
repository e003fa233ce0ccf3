package extract

import (
	"errors"
	"fmt"
	"os"

	"github.com/plugdev/plugdev/dylib"
)

// Exit codes of the extraction child process.
const (
	ExitOK            = 0
	ExitGeneral       = 1
	ExitLoadFailure   = 2
	ExitMissingSymbol = 3
	ExitSerialization = 4
	ExitBadEncoding   = 5
)

// RunChild is the child-process side of the extraction protocol: load the
// module at path, print one line of JSON to stdout, and return the exit
// code for main to pass to os.Exit. Diagnostics go to stderr; the parent
// surfaces them verbatim on failure.
func RunChild(mode, path string) int {
	module, err := dylib.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		switch {
		case errors.Is(err, dylib.ErrMissingSymbol):
			return ExitMissingSymbol
		case errors.Is(err, dylib.ErrLoadFailed):
			return ExitLoadFailure
		}
		return ExitGeneral
	}
	defer module.Close()

	meta, err := module.Metadata()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		switch {
		case errors.Is(err, dylib.ErrBadEncoding):
			return ExitBadEncoding
		case errors.Is(err, dylib.ErrBadMetadata):
			return ExitSerialization
		}
		return ExitGeneral
	}

	var out any
	switch mode {
	case ModeParams:
		out = meta.Params
	case ModeProcessors:
		out = meta.Processors
	default:
		fmt.Fprintf(os.Stderr, "unknown extraction mode %q\n", mode)
		return ExitGeneral
	}
	line, err := json.Marshal(out)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitSerialization
	}
	fmt.Println(string(line))
	return ExitOK
}
