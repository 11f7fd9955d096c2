// Package format provides the callback-driven formatter the io package's
// Printf/VPrintf helpers use. It is the Go analog of vgprintf: rather than
// building a string and writing it in one shot, it emits each formatted
// byte through a callback, so the caller (io.Printf) can latch the first
// write error and still account for every character produced before the
// failure, exactly as the distilled spec's §7 propagation policy requires.
package format

import "fmt"

// PutcFunc is called once per output byte. It returns an error to signal
// the formatter should stop (the first one is latched by the caller).
type PutcFunc func(c byte) error

// Vprintf formats args per fmtStr (standard fmt.Sprintf verbs) and feeds
// the resulting bytes one at a time to putc. It returns the number of
// bytes produced and the first error putc returned, if any -- putc is not
// called again once it has returned a non-nil error.
func Vprintf(putc PutcFunc, fmtStr string, args ...any) (int, error) {
	s := fmt.Sprintf(fmtStr, args...)
	var firstErr error
	n := 0
	for i := 0; i < len(s); i++ {
		if firstErr != nil {
			break
		}
		if err := putc(s[i]); err != nil {
			firstErr = err
			continue
		}
		n++
	}
	return n, firstErr
}
