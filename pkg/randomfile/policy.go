package randomfile

import (
	"fmt"
	"strings"
)

// Policy decides what Get does when the requested range is not yet
// durable.
type Policy int

const (
	// PolicyThrow fails with ErrOutOfRange.
	PolicyThrow Policy = iota
	// PolicyGrow extends the file with zeros to cover the range. Later
	// appends land after the grown region.
	PolicyGrow
	// PolicyWait blocks until appends make the range durable, the context
	// is done, or the file is closed.
	PolicyWait
)

func (p Policy) String() string {
	switch p {
	case PolicyThrow:
		return "throw"
	case PolicyGrow:
		return "grow"
	case PolicyWait:
		return "wait"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy accepts "throw", "grow" and "wait", case-insensitively.
// The empty string means PolicyThrow.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "throw":
		return PolicyThrow, nil
	case "grow":
		return PolicyGrow, nil
	case "wait":
		return PolicyWait, nil
	}
	return PolicyThrow, fmt.Errorf("%w: unknown policy %q", ErrInvalidArgument, s)
}
