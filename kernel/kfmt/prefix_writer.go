package kfmt

import "io"

// PrefixWriter is an io.Writer that wraps another io.Writer and injects a
// prefix at the beginning of each line. Drivers use it to tag their output
// with their name and version.
type PrefixWriter struct {
	// A writer where all writes get sent to.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	// midLine is set when the last write did not end with a line feed.
	midLine bool
}

// Write writes len(p) bytes from p to the underlying sink and returns back the
// number of bytes written. The injected prefix is not included in the number
// of written bytes returned by this method.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var (
		written, n int
		err        error
		lineStart  int
	)

	for index, b := range p {
		if !w.midLine && index == lineStart {
			w.Sink.Write(w.Prefix)
			w.midLine = true
		}

		if b != '\n' {
			continue
		}

		n, err = w.Sink.Write(p[lineStart : index+1])
		written += n
		if err != nil {
			return written, err
		}

		w.midLine = false
		lineStart = index + 1
	}

	if lineStart < len(p) {
		n, err = w.Sink.Write(p[lineStart:])
		written += n
	}

	return written, err
}

// Reset clears the line tracking state so the next write starts with a
// prefix.
func (w *PrefixWriter) Reset() {
	w.midLine = false
}
