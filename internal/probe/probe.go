// Package probe runs a short script of reads and seeks against a
// tracked reader.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/metal-toolbox/tracked-reader/tracker"
)

// DefaultScript reads the head of a file, re-reads a short range and
// finishes by reading the last ten bytes, which makes the tracker learn
// the file size.
const DefaultScript = "read:8,seek:start:14,read:2,seek:current:-2,read:2,seek:end:-10,read:10"

// Op is the kind of a Step.
type Op int

const (
	// OpRead issues a single Read with an N byte buffer.
	OpRead Op = iota + 1
	// OpSeek issues a single seek to Origin.
	OpSeek
	// OpReadAll reads until the end of the stream.
	OpReadAll
)

// Step is a single parsed script instruction.
type Step struct {
	Op     Op
	N      int
	Origin tracker.Origin
	Text   string
}

// String returns the step as written in the script.
func (s Step) String() string {
	return s.Text
}

// Result is the outcome of running a Step.
type Result struct {
	// N is the number of bytes read by a read step.
	N int
	// Data holds the bytes read by an OpRead step.
	Data []byte
	// Pos is the tracker position after the step.
	Pos uint64
	// Err is the error returned by the stream, io.EOF included.
	Err error
}

// ParseError describes an invalid script step.
type ParseError struct {
	Index  int
	Step   string
	Reason string
}

func (o *ParseError) Error() string {
	return fmt.Sprintf("invalid step %d ('%s') - %s", o.Index, o.Step, o.Reason)
}

// Parse parses a comma separated script. Supported steps are
// "read:N", "readall", "seek:start:N", "seek:current:N" and
// "seek:end:N". Blank steps are ignored.
func Parse(script string) ([]Step, error) {
	var steps []Step

	for i, raw := range strings.Split(script, ",") {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}

		step, reason := parseStep(text)
		if reason != "" {
			return nil, &ParseError{Index: i, Step: text, Reason: reason}
		}

		steps = append(steps, step)
	}

	if len(steps) == 0 {
		return nil, &ParseError{Index: 0, Step: script, Reason: "script has no steps"}
	}

	return steps, nil
}

func parseStep(text string) (Step, string) {
	fields := strings.Split(text, ":")
	step := Step{Text: text}

	switch fields[0] {
	case "readall":
		if len(fields) != 1 {
			return step, "readall takes no argument"
		}

		step.Op = OpReadAll

		return step, ""
	case "read":
		if len(fields) != 2 {
			return step, "expected read:N"
		}

		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 0 {
			return step, "read size must be a non-negative integer"
		}

		step.Op = OpRead
		step.N = n

		return step, ""
	case "seek":
		if len(fields) != 3 {
			return step, "expected seek:start|current|end:N"
		}

		origin, reason := parseOrigin(fields[1], fields[2])
		if reason != "" {
			return step, reason
		}

		step.Op = OpSeek
		step.Origin = origin

		return step, ""
	default:
		return step, fmt.Sprintf("unknown operation '%s'", fields[0])
	}
}

func parseOrigin(whence string, offset string) (tracker.Origin, string) {
	if whence == "start" {
		n, err := strconv.ParseUint(offset, 10, 64)
		if err != nil {
			return tracker.Origin{}, "start offset must be a non-negative integer"
		}

		return tracker.FromStart(n), ""
	}

	n, err := strconv.ParseInt(offset, 10, 64)
	if err != nil {
		return tracker.Origin{}, "offset must be an integer"
	}

	switch whence {
	case "current":
		return tracker.FromCurrent(n), ""
	case "end":
		return tracker.FromEnd(n), ""
	default:
		return tracker.Origin{}, fmt.Sprintf("unknown seek origin '%s'", whence)
	}
}

// Run executes steps in order against r, calling onStep (if non-nil)
// after each one. Reaching the end of the stream is not an error; any
// other stream error stops the run.
func Run(ctx context.Context, r *tracker.Reader, steps []Step, onStep func(Step, Result)) error {
	for _, step := range steps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res := runStep(r, step)
		if onStep != nil {
			onStep(step, res)
		}

		if res.Err != nil && !errors.Is(res.Err, io.EOF) {
			return fmt.Errorf("failed to run step '%s' - %w", step, res.Err)
		}
	}

	return nil
}

func runStep(r *tracker.Reader, step Step) Result {
	var res Result

	switch step.Op {
	case OpRead:
		buf := make([]byte, step.N)
		res.N, res.Err = r.Read(buf)
		res.Data = buf[:res.N]
	case OpReadAll:
		n, err := io.Copy(io.Discard, r)
		res.N, res.Err = int(n), err
	case OpSeek:
		_, res.Err = r.SeekTo(step.Origin)
	default:
		res.Err = fmt.Errorf("unsupported operation %d", step.Op)
	}

	res.Pos = r.Tracker().Pos()

	return res
}
