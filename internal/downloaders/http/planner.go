package splithttp

import "fmt"

// PlanSegments partitions [0, total) into contiguous inclusive ranges.
func PlanSegments(total int64, policy Policy) ([]Range, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: total size %d", ErrInvalidPlan, total)
	}
	var size int64
	var count int64
	switch {
	case policy.SegmentSize > 0:
		size = min(policy.SegmentSize, total)
		count = ceilDiv(total, size)
	case policy.Segments > 0:
		count = min(int64(policy.Segments), total)
		size = ceilDiv(total, count)
	default:
		return nil, fmt.Errorf("%w: no segment count or size", ErrInvalidPlan)
	}
	ranges := make([]Range, 0, min(count, 1<<16))
	var start int64
	for i := int64(0); i < count && start < total; i++ {
		end := start + min(size, total-start) - 1
		ranges = append(ranges, Range{Start: start, End: end})
		start = end + 1
	}
	return ranges, nil
}

// ceilDiv rounds a/b up without forming a+b-1, which overflows near MaxInt64.
func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}
