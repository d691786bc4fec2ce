// Package validator enforces per-instrument tick ordering: a tick is
// accepted only when its mapped timestamp falls inside a configured session
// window and strictly advances the instrument's watermark.
package validator

// TimeValidator holds the sorted mapped session boundaries for one
// instrument and the highest timestamp accepted so far. A nil validator
// means the instrument is unarmed and every tick is rejected by the caller.
type TimeValidator struct {
	boundaries []int64 // flattened (start, end) pairs, ascending
	watermark  int64   // millisecond-resolution, window-major
}

// New creates a validator from sorted, flattened session boundaries:
// boundaries[0] and boundaries[1] delimit the first window, and so on.
// The watermark starts below every valid timestamp.
func New(boundaries []int64) *TimeValidator {
	return &TimeValidator{boundaries: boundaries}
}

// Validate checks one mapped timestamp (second resolution) plus its
// millisecond part. It returns the fully-qualified millisecond timestamp on
// acceptance, advancing the watermark, or 0 when the tick falls outside
// every session window or does not strictly exceed the watermark
// (duplicates, out-of-order delivery).
func (v *TimeValidator) Validate(mapped int64, millisec int) int64 {
	if !v.inSession(mapped) {
		return 0
	}
	full := mapped*1000 + int64(millisec)
	if full <= v.watermark {
		return 0
	}
	v.watermark = full
	return full
}

// Watermark returns the last accepted fully-qualified timestamp, 0 if no
// tick has been accepted yet.
func (v *TimeValidator) Watermark() int64 { return v.watermark }

func (v *TimeValidator) inSession(mapped int64) bool {
	for i := 0; i+1 < len(v.boundaries); i += 2 {
		if mapped >= v.boundaries[i] && mapped <= v.boundaries[i+1] {
			return true
		}
	}
	return false
}
