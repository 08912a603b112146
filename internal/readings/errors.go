package readings

import (
	"errors"
	"fmt"
)

// ErrSourceUnavailable matches any SourceUnavailableError via errors.Is.
var ErrSourceUnavailable = errors.New("source unavailable")

// SourceUnavailableError reports that one source table could not be read.
// The whole query fails; no partial merge is returned.
type SourceUnavailableError struct {
	Source Source
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSourceUnavailable) succeed.
func (e *SourceUnavailableError) Is(target error) bool {
	return target == ErrSourceUnavailable
}
