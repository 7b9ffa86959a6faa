package positioning

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable reports that no appliance status was available to calibrate.
	ErrUnavailable = errors.New("positioning data unavailable")
	// ErrTransport covers unreachable appliances, non-2xx responses and malformed JSON.
	ErrTransport = errors.New("transport error")
	// ErrGeometry covers degenerate or inconsistent distance triples.
	ErrGeometry = errors.New("geometry error")
	// ErrDataIntegrity covers missing reference tags, missing ranges and malformed payload fields.
	ErrDataIntegrity = errors.New("data integrity error")
)

// Fault is a single recoverable failure. It unwraps to one of the Err* kinds.
type Fault struct {
	Kind   error
	Tag    string
	Detail string
}

func (f *Fault) Error() string {
	if f.Tag == "" {
		return fmt.Sprintf("%v: %s", f.Kind, f.Detail)
	}
	return fmt.Sprintf("%v: tag %s: %s", f.Kind, f.Tag, f.Detail)
}

func (f *Fault) Unwrap() error {
	return f.Kind
}

// KindName returns a short label for the fault kind of err, suitable for storage.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrGeometry):
		return "geometry"
	case errors.Is(err, ErrDataIntegrity):
		return "data_integrity"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "unknown"
	}
}

func geometryFault(format string, args ...any) *Fault {
	return &Fault{Kind: ErrGeometry, Detail: fmt.Sprintf(format, args...)}
}

func integrityFault(tag, format string, args ...any) *Fault {
	return &Fault{Kind: ErrDataIntegrity, Tag: tag, Detail: fmt.Sprintf(format, args...)}
}
