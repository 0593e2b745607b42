package buffer

import (
	"errors"
	"fmt"
)

// ErrRange is returned when a length or write exceeds a buffer's capacity.
var ErrRange = errors.New("buffer range exceeded")

// RangeError carries the offending length and the capacity it violated.
type RangeError struct {
	Requested int
	Capacity  int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("buffer length %d exceeds capacity %d", e.Requested, e.Capacity)
}

// Is reports whether target is ErrRange.
func (e *RangeError) Is(target error) bool {
	return target == ErrRange
}
