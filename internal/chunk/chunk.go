// Package chunk plans the time partitioning of a run.
//
// A run's overall date range is cut into contiguous chunks of a fixed
// increment; each chunk is the unit of acquisition and is further cut into
// overlapping correlation windows. Planning is pure and deterministic:
// every worker computing the same plan from the same inputs sees the same
// boundaries, which is what makes static round-robin partitioning safe.
package chunk

import (
	"time"

	"github.com/seisnoise/seisnoise/internal/errors"
)

// TimeRange is a half-open [Start, End) interval.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// NewTimeRange creates a validated TimeRange.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	tr := TimeRange{Start: start, End: end}
	if err := tr.Validate(); err != nil {
		return TimeRange{}, err
	}
	return tr, nil
}

// Validate checks the range invariant start < end.
func (tr TimeRange) Validate() error {
	if !tr.Start.Before(tr.End) {
		return errors.Wrapf(errors.ErrInvalidTimeRange, "start %s not before end %s",
			tr.Start.Format(time.RFC3339), tr.End.Format(time.RFC3339))
	}
	return nil
}

// Duration returns the length of the range.
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}

// Contains reports whether t falls inside the half-open interval.
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && t.Before(tr.End)
}

// Overlaps reports whether the two half-open intervals intersect.
func (tr TimeRange) Overlaps(other TimeRange) bool {
	return tr.Start.Before(other.End) && other.Start.Before(tr.End)
}

// Covers reports whether other is fully inside tr.
func (tr TimeRange) Covers(other TimeRange) bool {
	return !other.Start.Before(tr.Start) && !other.End.After(tr.End)
}

// FileTag is the on-disk name of the range, e.g.
// "2016_07_01_00_00_00T2016_07_02_00_00_00". Times are rendered in UTC.
func (tr TimeRange) FileTag() string {
	const layout = "2006_01_02_15_04_05"
	return tr.Start.UTC().Format(layout) + "T" + tr.End.UTC().Format(layout)
}

// ParseFileTag parses a FileTag back into a TimeRange.
func ParseFileTag(tag string) (TimeRange, error) {
	const layout = "2006_01_02_15_04_05"
	sep := -1
	for i := 0; i < len(tag); i++ {
		if tag[i] == 'T' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return TimeRange{}, errors.NewValidation("chunk tag", "missing T separator")
	}
	start, err := time.Parse(layout, tag[:sep])
	if err != nil {
		return TimeRange{}, errors.Wrap(err, "parse chunk start")
	}
	end, err := time.Parse(layout, tag[sep+1:])
	if err != nil {
		return TimeRange{}, errors.Wrap(err, "parse chunk end")
	}
	return NewTimeRange(start, end)
}

func (tr TimeRange) String() string {
	return tr.Start.UTC().Format(time.RFC3339) + "/" + tr.End.UTC().Format(time.RFC3339)
}

// Plan produces the ordered chunk boundaries covering tr at the given
// increment. The result has floor(duration/increment)+1 strictly increasing
// timestamps; consecutive pairs tile the range with no gaps or overlaps.
// The final boundary is clamped to tr.End when the increment does not divide
// the range evenly.
func Plan(tr TimeRange, increment time.Duration) ([]time.Time, error) {
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	if increment <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidIncrement, "%s", increment)
	}

	n := int(tr.Duration()/increment) + 1
	boundaries := make([]time.Time, 0, n+1)
	for t := tr.Start; t.Before(tr.End); t = t.Add(increment) {
		boundaries = append(boundaries, t)
	}
	boundaries = append(boundaries, tr.End)
	return boundaries, nil
}

// Chunks converts planner boundaries into the chunk ranges they delimit.
func Chunks(boundaries []time.Time) []TimeRange {
	if len(boundaries) < 2 {
		return nil
	}
	chunks := make([]TimeRange, 0, len(boundaries)-1)
	for i := 0; i+1 < len(boundaries); i++ {
		chunks = append(chunks, TimeRange{Start: boundaries[i], End: boundaries[i+1]})
	}
	return chunks
}

// Windows cuts a chunk into correlation windows of length ccLen advancing by
// step. Windows that would extend past the chunk end are not produced. step
// may be at most ccLen (validated by config); both are in seconds.
func Windows(tr TimeRange, ccLen, step time.Duration) []TimeRange {
	var windows []TimeRange
	for start := tr.Start; !start.Add(ccLen).After(tr.End); start = start.Add(step) {
		windows = append(windows, TimeRange{Start: start, End: start.Add(ccLen)})
	}
	return windows
}

// MissingSpans subtracts the covered spans from want and returns the gaps,
// in order. covered must be sorted by start time; overlapping covered spans
// are tolerated. Used by acquisition to gap-fill partially downloaded
// channels instead of re-fetching the whole chunk.
func MissingSpans(want TimeRange, covered []TimeRange) []TimeRange {
	var gaps []TimeRange
	cursor := want.Start
	for _, c := range covered {
		if !c.Overlaps(want) {
			continue
		}
		if c.Start.After(cursor) {
			gaps = append(gaps, TimeRange{Start: cursor, End: c.Start})
		}
		if c.End.After(cursor) {
			cursor = c.End
		}
	}
	if cursor.Before(want.End) {
		gaps = append(gaps, TimeRange{Start: cursor, End: want.End})
	}
	return gaps
}
