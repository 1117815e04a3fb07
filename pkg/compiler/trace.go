package compiler

import (
	"fmt"
	"os"

	"github.com/tevino/abool/v2"
)

// traceEnabled gates emission tracing. It is an atomic flag rather than a
// constant so tests and tools can switch it on without rebuilding.
var traceEnabled = abool.New()

// SetTrace turns emission tracing to stderr on or off.
func SetTrace(on bool) {
	traceEnabled.SetTo(on)
}

// Tracing reports whether emission tracing is on.
func Tracing() bool { return traceEnabled.IsSet() }

func tracef(format string, args ...interface{}) {
	if traceEnabled.IsSet() {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Tracef writes to the emission trace. It is shared with the packages that
// extend Code.
func Tracef(format string, args ...interface{}) { tracef(format, args...) }
