package freq

import "fmt"

// OverflowPolicy decides what happens when a new term does not fit a table.
type OverflowPolicy int

const (
	// DropOnOverflow logs and discards the term; the run continues with
	// under-counted results.
	DropOnOverflow OverflowPolicy = iota
	// FailOnOverflow aborts the run with ErrCapacityExceeded.
	FailOnOverflow
)

// ParsePolicy maps the configuration values "drop" and "fail" to a policy.
func ParsePolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "drop":
		return DropOnOverflow, nil
	case "fail":
		return FailOnOverflow, nil
	}
	return DropOnOverflow, fmt.Errorf("unknown overflow policy %q", s)
}

func (p OverflowPolicy) String() string {
	if p == FailOnOverflow {
		return "fail"
	}
	return "drop"
}
