package monitor

import (
	"errors"
	"strings"

	"github.com/onnwee/tiktok-live-recorder/recorder"
	"github.com/onnwee/tiktok-live-recorder/tiktok"
)

// ErrorClass groups monitor iteration failures by how the loop should back off.
type ErrorClass int

const (
	// ClassNotLive is the steady state of polling, not a failure.
	ClassNotLive ErrorClass = iota
	// ClassResolution means the room id could not be found by any strategy.
	ClassResolution
	// ClassBlocked means the platform is actively denying access.
	ClassBlocked
	// ClassPrivate means the account is private for this session.
	ClassPrivate
	// ClassConnection covers transport faults such as closed or reset connections.
	ClassConnection
	// ClassTransient covers recorder failures and missing renditions.
	ClassTransient
	// ClassUnknown is anything that matches no known pattern.
	ClassUnknown
)

// String returns a human-readable name for the error class.
func (c ErrorClass) String() string {
	switch c {
	case ClassNotLive:
		return "not_live"
	case ClassResolution:
		return "resolution"
	case ClassBlocked:
		return "blocked"
	case ClassPrivate:
		return "private"
	case ClassConnection:
		return "connection"
	case ClassTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// connectionMarkers are matched against error text for faults that arrive
// without a typed transport error.
var connectionMarkers = []string{
	"connection closed",
	"connection reset",
	"connection refused",
	"broken pipe",
	"no such host",
	"i/o timeout",
}

// Classify maps an iteration error onto an ErrorClass.
//
// Typed errors are checked first. Transport faults win over resolution
// failures because a ResolutionError may wrap the transport error that caused it.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}

	var (
		transportErr  *tiktok.TransportError
		exitErr       *recorder.ExitError
		resolutionErr *tiktok.ResolutionError
	)
	switch {
	case errors.Is(err, tiktok.ErrNotLive), errors.Is(err, ErrStopRequested):
		return ClassNotLive
	case errors.Is(err, tiktok.ErrPrivateAccount):
		return ClassPrivate
	case errors.Is(err, tiktok.ErrBlocked),
		errors.Is(err, tiktok.ErrRegionBlocked),
		errors.Is(err, tiktok.ErrCountryBlacklisted):
		return ClassBlocked
	case errors.As(err, &transportErr):
		return ClassConnection
	case errors.As(err, &exitErr),
		errors.Is(err, tiktok.ErrStreamNotFound),
		errors.Is(err, recorder.ErrAlreadyRecording),
		errors.Is(err, ErrAlreadyRecording):
		return ClassTransient
	case errors.As(err, &resolutionErr):
		return ClassResolution
	}

	lower := strings.ToLower(err.Error())
	for _, m := range connectionMarkers {
		if strings.Contains(lower, m) {
			return ClassConnection
		}
	}
	return ClassUnknown
}
