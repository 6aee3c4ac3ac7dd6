// Package capture keeps a video source alive and samples it for face identification.
//
// One Loop owns one camera. It pulls frames in its own goroutine, keeps the most
// recent frame in a single-slot snapshot, mirrors recent frames into a small lossy
// queue and, every SampleInterval, hands the current frame to a Classifier. Each
// identified face becomes an IdentificationEvent delivered to the Sink (normally the
// detection dispatcher) on the loop's own goroutine.
//
// Philosophy (inherited from the frame pipeline): "Drop frames, never queue."
// Read failures are retried after a short backoff and, after ReopenAfter consecutive
// failures, the source is reopened with exponential backoff. A loop never terminates
// on its own; only Stop ends it.
//
// Usage:
//
//	loop, err := capture.NewLoop(capture.DefaultConfig("cam-1", "rtsp://10.0.0.5/stream"),
//	    opener, classifier, dispatcher, slog.Default())
//	if err != nil {
//	    return err
//	}
//	if err := loop.Start(ctx); err != nil {
//	    return err // source could not be opened
//	}
//	defer loop.Stop()
//
//	frame, ok := loop.LatestFrame()
package capture
