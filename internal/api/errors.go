package api

import (
	"errors"
	"net/http"

	"github.com/banshee-data/frametransform/internal/calibration"
	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/httputil"
	"github.com/banshee-data/frametransform/internal/protocol"
)

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, frames.ErrUnknownFrame), errors.Is(err, frames.ErrNotFound),
		errors.Is(err, frames.ErrNoPath), errors.Is(err, calibration.ErrCalibrationNotFound):
		return http.StatusNotFound
	case errors.Is(err, frames.ErrInvalidHints), errors.Is(err, frames.ErrInvalidTransform),
		errors.Is(err, protocol.ErrInvalidQuery), errors.Is(err, protocol.ErrInvalidTensor):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteJSONError(w, StatusFor(err), err.Error())
}
