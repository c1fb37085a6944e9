package assert

import "fmt"

// Assert panics when cond is false. A failed assertion is a programming bug,
// not a recoverable error.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}
