// Package matcher classifies face descriptors against a roster of labeled
// reference descriptors by nearest mean Euclidean distance.
package matcher

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/MrCodeEU/faceroll/pkg/recognition"
)

const (
	// Unknown is the label reported when no entry is close enough.
	Unknown = "unknown"
	// DefaultThreshold is the distance at and above which a match is unknown.
	DefaultThreshold = 0.6
	// DefaultIndexMinSize is the descriptor count from which the hnsw index is
	// used. Zero keeps every lookup on the exact scan.
	DefaultIndexMinSize = 0
)

// PersonRecord is one roster entry as callers store it.
type PersonRecord struct {
	Label      string    `json:"label"`
	Descriptor []float32 `json:"descriptor"`
}

// LabeledDescriptors is a label with its reference descriptors.
type LabeledDescriptors struct {
	Label       string                   `json:"label"`
	Descriptors []recognition.Descriptor `json:"descriptors"`
}

// Match is a classification result.
type Match struct {
	Label    string  `json:"label"`
	Distance float64 `json:"distance"`
}

// IsUnknown reports whether the match is the unknown label.
func (m Match) IsUnknown() bool {
	return m.Label == Unknown
}

func (m Match) String() string {
	return m.Label + " (" + strconv.FormatFloat(m.Distance, 'f', 2, 64) + ")"
}

// ErrEmptyRoster is returned when building a matcher from nothing.
var ErrEmptyRoster = errors.New("roster is empty")

// ErrEmptyLabel is returned for entries without a label.
var ErrEmptyLabel = errors.New("roster entry has no label")

// ErrNoDescriptors is returned for labeled entries without descriptors.
var ErrNoDescriptors = errors.New("roster entry has no descriptors")

// DimensionError reports a descriptor that is not 128 values long.
type DimensionError struct {
	Label string
	Index int
	Got   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("descriptor %d (%q) has %d values, want %d", e.Index, e.Label, e.Got, recognition.DescriptorSize)
}

// ToDescriptor converts a stored vector to a Descriptor. Vectors of the wrong
// length are rejected, never padded or truncated.
func ToDescriptor(v []float32) (recognition.Descriptor, error) {
	var d recognition.Descriptor
	if len(v) != recognition.DescriptorSize {
		return d, &DimensionError{Index: -1, Got: len(v)}
	}
	copy(d[:], v)
	return d, nil
}

type options struct {
	threshold    float64
	indexMinSize int
}

// Option configures a FaceMatcher.
type Option func(*options)

// WithThreshold sets the unknown distance threshold.
func WithThreshold(t float64) Option {
	return func(o *options) {
		if t > 0 {
			o.threshold = t
		}
	}
}

// WithIndexMinSize sets the descriptor count from which the hnsw index is
// built. Zero disables the index. An indexed matcher only trusts the index
// for matches below the threshold; anything else is settled by a full scan.
func WithIndexMinSize(n int) Option {
	return func(o *options) {
		o.indexMinSize = n
	}
}

// FaceMatcher is an immutable snapshot of labeled descriptors.
type FaceMatcher struct {
	entries   []LabeledDescriptors
	threshold float64
	index     *index
}

// FromRoster builds a matcher with one entry per record, one descriptor each.
// The roster is not retained.
func FromRoster(roster []PersonRecord, opts ...Option) (*FaceMatcher, error) {
	if len(roster) == 0 {
		return nil, ErrEmptyRoster
	}

	labeled := make([]LabeledDescriptors, len(roster))
	for i, rec := range roster {
		if rec.Label == "" {
			return nil, fmt.Errorf("record %d: %w", i, ErrEmptyLabel)
		}
		d, err := ToDescriptor(rec.Descriptor)
		if err != nil {
			var de *DimensionError
			if errors.As(err, &de) {
				de.Label, de.Index = rec.Label, i
			}
			return nil, err
		}
		labeled[i] = LabeledDescriptors{Label: rec.Label, Descriptors: []recognition.Descriptor{d}}
	}
	return newMatcher(labeled, opts)
}

// New builds a matcher from labeled descriptors. The input is copied.
func New(labeled []LabeledDescriptors, opts ...Option) (*FaceMatcher, error) {
	if len(labeled) == 0 {
		return nil, ErrEmptyRoster
	}

	entries := make([]LabeledDescriptors, len(labeled))
	for i, ld := range labeled {
		if ld.Label == "" {
			return nil, fmt.Errorf("entry %d: %w", i, ErrEmptyLabel)
		}
		if len(ld.Descriptors) == 0 {
			return nil, fmt.Errorf("entry %d (%q): %w", i, ld.Label, ErrNoDescriptors)
		}
		entries[i] = LabeledDescriptors{
			Label:       ld.Label,
			Descriptors: append([]recognition.Descriptor(nil), ld.Descriptors...),
		}
	}
	return newMatcher(entries, opts)
}

func newMatcher(entries []LabeledDescriptors, opts []Option) (*FaceMatcher, error) {
	o := options{threshold: DefaultThreshold, indexMinSize: DefaultIndexMinSize}
	for _, opt := range opts {
		opt(&o)
	}

	m := &FaceMatcher{entries: entries, threshold: o.threshold}

	total := 0
	for _, e := range entries {
		total += len(e.Descriptors)
	}
	if o.indexMinSize > 0 && total >= o.indexMinSize {
		m.index = newIndex(entries)
	}
	return m, nil
}

// Len returns the number of labeled entries.
func (m *FaceMatcher) Len() int {
	return len(m.entries)
}

// Threshold returns the unknown distance threshold.
func (m *FaceMatcher) Threshold() float64 {
	return m.threshold
}

// Indexed reports whether lookups go through the hnsw index.
func (m *FaceMatcher) Indexed() bool {
	return m.index != nil
}

// LabeledDescriptors returns a copy of the entries.
func (m *FaceMatcher) LabeledDescriptors() []LabeledDescriptors {
	out := make([]LabeledDescriptors, len(m.entries))
	for i, e := range m.entries {
		out[i] = LabeledDescriptors{
			Label:       e.Label,
			Descriptors: append([]recognition.Descriptor(nil), e.Descriptors...),
		}
	}
	return out
}

// meanDistance is the mean distance from q to an entry's descriptors.
func meanDistance(q recognition.Descriptor, e LabeledDescriptors) float64 {
	var sum float64
	for _, d := range e.Descriptors {
		sum += recognition.EuclideanDistance(q, d)
	}
	return sum / float64(len(e.Descriptors))
}

// MatchDescriptor returns the entry with the lowest mean distance, whatever
// the threshold. Equal distances go to the label that sorts first, then to the
// earlier entry. With an index, a candidate below the threshold is accepted
// without scanning the rest of the roster.
func (m *FaceMatcher) MatchDescriptor(q recognition.Descriptor) Match {
	if m.index != nil {
		if c := m.index.candidates(q); len(c) > 0 {
			if best, d := m.scan(q, c); d < m.threshold {
				return Match{Label: m.entries[best].Label, Distance: d}
			}
		}
	}
	best, d := m.scan(q, nil)
	return Match{Label: m.entries[best].Label, Distance: d}
}

// scan scores the given entries, or all of them when idx is nil.
func (m *FaceMatcher) scan(q recognition.Descriptor, idx []int) (int, float64) {
	n := len(m.entries)
	if idx != nil {
		n = len(idx)
	}

	best := -1
	bestDist := math.Inf(1)
	for k := 0; k < n; k++ {
		i := k
		if idx != nil {
			i = idx[k]
		}
		d := meanDistance(q, m.entries[i])
		switch {
		case best < 0 || d < bestDist:
			best, bestDist = i, d
		case d == bestDist:
			if l, bl := m.entries[i].Label, m.entries[best].Label; l < bl || (l == bl && i < best) {
				best = i
			}
		}
	}
	return best, bestDist
}

// FindBestMatch is MatchDescriptor with distances at or above the threshold
// reported as Unknown.
func (m *FaceMatcher) FindBestMatch(q recognition.Descriptor) Match {
	best := m.MatchDescriptor(q)
	if best.Distance >= m.threshold {
		return Match{Label: Unknown, Distance: best.Distance}
	}
	return best
}
