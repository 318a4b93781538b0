package frames

import (
	"errors"
	"fmt"
)

// Sentinel errors. Resolution failures are returned as *ResolveError so
// callers can match on the kind with errors.Is and still read the frames.
var (
	ErrNotFound           = errors.New("edge not found")
	ErrInvalidTransform   = errors.New("invalid transform")
	ErrUnknownFrame       = errors.New("unknown frame")
	ErrNoPath             = errors.New("frames are not connected")
	ErrInvalidHints       = errors.New("hints are not reachable in order")
	ErrEdgeMissing        = errors.New("edge missing during composition")
	ErrIllFormedTransform = errors.New("ill-formed transform")
)

// ResolveError describes why a query could not be turned into a path.
type ResolveError struct {
	Kind  error
	From  FrameID
	To    FrameID
	Frame FrameID // set for ErrUnknownFrame
}

func (e *ResolveError) Error() string {
	switch e.Kind {
	case ErrUnknownFrame:
		return fmt.Sprintf("unknown frame %q", e.Frame)
	case ErrNoPath:
		return fmt.Sprintf("frames %q and %q are not connected", e.From, e.To)
	case ErrInvalidHints:
		return fmt.Sprintf("invalid hints: no path from %q to %q", e.From, e.To)
	default:
		return fmt.Sprintf("%v: %q -> %q", e.Kind, e.From, e.To)
	}
}

func (e *ResolveError) Unwrap() error { return e.Kind }

// Is lets an unknown frame also match ErrNoPath: a frame that was never
// stored is not connected to anything.
func (e *ResolveError) Is(target error) bool {
	return e.Kind == ErrUnknownFrame && target == ErrNoPath
}
