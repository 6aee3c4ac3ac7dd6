package gstsource

import "testing"

func TestClassify(t *testing.T) {
	testCases := []struct {
		name    string
		message string
		debug   string
		want    ErrorCategory
	}{
		{"auth_401", "Unauthorized", "rtspsrc: 401", CategoryAuth},
		{"auth_beats_network", "Could not connect", "authentication failed", CategoryAuth},
		{"codec", "Internal data stream error", "not negotiated", CategoryCodec},
		{"missing_plugin", "Your GStreamer installation is missing a plug-in", "missing plugin h265", CategoryCodec},
		{"network_timeout", "Could not open resource for reading", "Connection timed out", CategoryNetwork},
		{"network_dns", "Could not resolve server name", "", CategoryNetwork},
		{"unknown", "something odd happened", "", CategoryUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.message, tc.debug); got != tc.want {
				t.Errorf("classify(%q, %q) = %s, want %s", tc.message, tc.debug, got, tc.want)
			}
		})
	}
}

func TestLaunchString(t *testing.T) {
	got := launchString(Config{Width: 640, Height: 480, Latency: 200}, "rtsp://cam/stream")
	want := `rtspsrc location="rtsp://cam/stream" protocols=tcp latency=200 ! decodebin ! videoconvert ! videoscale ! video/x-raw,format=RGB,width=640,height=480 ! appsink name=sink sync=false max-buffers=1 drop=true`
	if got != want {
		t.Errorf("launchString mismatch\n got: %s\nwant: %s", got, want)
	}
}
