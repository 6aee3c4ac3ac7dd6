package cli

import (
	"context"
	"log/slog"

	"github.com/Rishiwins/attendance-tracker/internal/capture"
	"github.com/Rishiwins/attendance-tracker/internal/capture/cvsource"
	"github.com/Rishiwins/attendance-tracker/internal/capture/gstsource"
	"github.com/Rishiwins/attendance-tracker/internal/capture/mocksource"
	"github.com/Rishiwins/attendance-tracker/internal/config"
	"github.com/Rishiwins/attendance-tracker/internal/types"
)

// Capture backends
const (
	backendMock      = "mock"
	backendGStreamer = "gstreamer"
	backendOpenCV    = "opencv"
)

// backendFor picks the capture backend for an address: mock:// is synthetic,
// rtsp(s):// goes through GStreamer and everything else (device indexes,
// files, HTTP/MJPEG) through OpenCV.
func backendFor(address string) string {
	switch {
	case mocksource.Supports(address):
		return backendMock
	case gstsource.Supports(address):
		return backendGStreamer
	default:
		return backendOpenCV
	}
}

// newOpener routes each address to its backend
func newOpener(cfg config.CaptureConfig, logger *slog.Logger) capture.Opener {
	gst := gstsource.NewOpener(gstsource.Config{
		Width:       cfg.Width,
		Height:      cfg.Height,
		Latency:     cfg.LatencyMS,
		OpenTimeout: cfg.OpenTimeout,
	}, logger)
	cv := cvsource.NewOpener(cvsource.Config{Width: cfg.Width, Height: cfg.Height}, logger)

	return capture.OpenerFunc(func(ctx context.Context, address string) (capture.Source, error) {
		switch backendFor(address) {
		case backendMock:
			return mocksource.Opener{}.Open(ctx, address)
		case backendGStreamer:
			return gst.Open(ctx, address)
		default:
			return cv.Open(ctx, address)
		}
	})
}

// noIdentification is used when no classifier command is configured
var noIdentification = types.ClassifierFunc(func(context.Context, types.Frame) ([]types.Identification, error) {
	return nil, nil
})
