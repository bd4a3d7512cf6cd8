package model

import "time"

// Result tags the outcome of the last load of a store collection.
type Result int

const (
	ResultNone Result = iota
	ResultOK
	ResultEmpty
	ResultError
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultEmpty:
		return "empty"
	case ResultError:
		return "error"
	default:
		return "none"
	}
}

// LoadState is the status a store exposes next to its collection, so that
// "failed" is distinguishable from "nothing scheduled".
type LoadState struct {
	Loading   bool
	Result    Result
	Err       error
	UpdatedAt time.Time
}

// ResultFor returns ResultOK or ResultEmpty depending on n.
func ResultFor(n int) Result {
	if n == 0 {
		return ResultEmpty
	}
	return ResultOK
}
