package render

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// ReadResult classifies the outcome of a bounded line read.
type ReadResult int

const (
	// GotLine means a line was returned.
	GotLine ReadResult = iota
	// Timeout means no line became available in time; the caller re-polls.
	Timeout
	// Closed means the stream ended (process exited, no more data).
	Closed
)

// LineReader pulls lines off the subprocess output stream without ever
// blocking the monitor loop for longer than its timeout. A background
// goroutine scans the stream; ReadLine selects against it with a deadline.
type LineReader struct {
	lines chan string
}

// NewLineReader starts scanning r. Renderer progress chatter uses bare
// carriage returns, so lines split on either CR or LF.
func NewLineReader(r io.Reader) *LineReader {
	lr := &LineReader{lines: make(chan string, 256)}
	go lr.scan(r)
	return lr
}

func (lr *LineReader) scan(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(splitByNewlineOrCR)
	for scanner.Scan() {
		lr.lines <- normalizeLine(decodeBytes(scanner.Bytes()))
	}
	// A scanner error (oversized token, closed pipe) ends the stream the
	// same way EOF does.
	close(lr.lines)
}

// ReadLine waits up to timeout for a line.
func (lr *LineReader) ReadLine(timeout time.Duration) (string, ReadResult) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case line, ok := <-lr.lines:
		if !ok {
			return "", Closed
		}
		return line, GotLine
	case <-timer.C:
		return "", Timeout
	}
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// decodeBytes converts raw bytes to a string, substituting a \xNN escape for
// undecodable byte sequences instead of failing the line.
func decodeBytes(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			fmt.Fprintf(&sb, `\x%02x`, b[i])
			i++
			continue
		}
		sb.WriteRune(r)
		i += size
	}
	return sb.String()
}

// normalizeLine strips the vendor log prefix and trailing whitespace before
// the line reaches the extractor.
func normalizeLine(line string) string {
	line = strings.ReplaceAll(line, "[Redshift] ", "")
	line = strings.ReplaceAll(line, "[Redshift]", "")
	return strings.TrimRight(line, " \t\r\n")
}
