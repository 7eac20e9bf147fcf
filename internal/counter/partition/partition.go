// Package partition splits an input of known size into contiguous byte ranges,
// one per scanning worker.
package partition

import "fmt"

// Range is the half-open byte range [Start, End) assigned to one worker.
type Range struct {
	Index int   `json:"index"`
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the number of bytes in the range.
func (r Range) Len() int64 {
	return r.End - r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("#%d[%d,%d)", r.Index, r.Start, r.End)
}

// Split divides [0, totalSize) into count ranges of totalSize/count bytes.
// The last range absorbs the remainder. A count below 1 is treated as 1 and a
// negative size as 0, so the result always covers the input exactly.
func Split(totalSize int64, count int) []Range {
	if count < 1 {
		count = 1
	}
	if totalSize < 0 {
		totalSize = 0
	}
	chunk := totalSize / int64(count)
	ranges := make([]Range, count)
	for i := 0; i < count; i++ {
		ranges[i] = Range{
			Index: i,
			Start: int64(i) * chunk,
			End:   int64(i+1) * chunk,
		}
	}
	ranges[count-1].End = totalSize
	return ranges
}
