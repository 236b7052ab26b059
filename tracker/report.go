package tracker

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultChunk is the default bucket size of a Report, in bytes.
const DefaultChunk uint64 = 64

// Report is a chunk-bucketed summary of a Tracker's log at the time the
// report was created. It keeps no reference to the Tracker.
type Report struct {
	chunk uint64

	// ops maps a chunk's first offset to the ranges that touched the
	// chunk and how many times each range occurred.
	ops map[uint64]map[Range]uint64

	// errs maps an error kind to its number of occurrences.
	errs map[ErrorKind]uint64

	pos       uint64
	size      uint64
	sizeKnown bool
}

// NewReport builds a Report over t using DefaultChunk.
func NewReport(t *Tracker) *Report {
	return NewReportWithChunk(t, DefaultChunk)
}

// NewReportWithChunk builds a Report over t bucketing ranges into
// chunk-sized windows. A zero chunk means DefaultChunk.
func NewReportWithChunk(t *Tracker, chunk uint64) *Report {
	if chunk == 0 {
		chunk = DefaultChunk
	}

	r := &Report{
		chunk: chunk,
		ops:   make(map[uint64]map[Range]uint64),
		errs:  make(map[ErrorKind]uint64),
		pos:   t.pos,
		size:  t.size,

		sizeKnown: t.sizeKnown,
	}

	for _, e := range t.entries {
		switch e.Kind {
		case EntryError:
			r.errs[e.Err]++
		case EntryRange:
			r.recordRange(e.Range)
		}
	}

	return r
}

// recordRange counts rng once in every chunk it overlaps.
func (r *Report) recordRange(rng Range) {
	start := rng.Start / r.chunk * r.chunk
	end := ceilDiv(rng.End, r.chunk) * r.chunk

	for bucket := start; bucket < end; bucket += r.chunk {
		ranges, ok := r.ops[bucket]
		if !ok {
			ranges = make(map[Range]uint64)
			r.ops[bucket] = ranges
		}

		ranges[rng]++

		if bucket+r.chunk < bucket {
			// Last chunk of the address space.
			break
		}
	}
}

func ceilDiv(n, d uint64) uint64 {
	q := n / d
	if n%d != 0 {
		q++
	}

	return q
}

// Chunk returns the bucket size used by the report.
func (r *Report) Chunk() uint64 {
	return r.chunk
}

// Buckets returns a copy of the per-chunk range counts.
func (r *Report) Buckets() map[uint64]map[Range]uint64 {
	out := make(map[uint64]map[Range]uint64, len(r.ops))
	for bucket, ranges := range r.ops {
		cp := make(map[Range]uint64, len(ranges))
		for rng, n := range ranges {
			cp[rng] = n
		}

		out[bucket] = cp
	}

	return out
}

// Summary is the serializable form of a Report.
type Summary struct {
	Metadata     Metadata          `json:"metadata" yaml:"metadata"`
	IOOperations map[uint64]uint64 `json:"io_operations" yaml:"io_operations"`
	IOErrors     map[string]uint64 `json:"io_errors" yaml:"io_errors"`
}

// Metadata holds the tracker state captured with a Report.
type Metadata struct {
	CurrentPosition uint64  `json:"current_position" yaml:"current_position"`
	EstimatedSize   *uint64 `json:"estimated_size" yaml:"estimated_size"`
}

// Serialize returns the report's summary. io_operations holds, per
// chunk, the total number of range occurrences recorded in it.
func (r *Report) Serialize() Summary {
	s := Summary{
		Metadata:     Metadata{CurrentPosition: r.pos},
		IOOperations: make(map[uint64]uint64, len(r.ops)),
		IOErrors:     make(map[string]uint64, len(r.errs)),
	}

	if r.sizeKnown {
		size := r.size
		s.Metadata.EstimatedSize = &size
	}

	for bucket, ranges := range r.ops {
		var total uint64
		for _, n := range ranges {
			total += n
		}

		s.IOOperations[bucket] = total
	}

	for kind, n := range r.errs {
		s.IOErrors[kind.String()] = n
	}

	return s
}

// Render returns the summary as a YAML document.
func (r *Report) Render() string {
	b, err := yaml.Marshal(r.Serialize())
	if err != nil {
		return fmt.Sprintf("failed to render report - %v", err)
	}

	return string(b)
}

// String implements fmt.Stringer using Render.
func (r *Report) String() string {
	return r.Render()
}

// JSON returns the summary encoded as JSON.
func (r *Report) JSON() ([]byte, error) {
	return json.Marshal(r.Serialize())
}
