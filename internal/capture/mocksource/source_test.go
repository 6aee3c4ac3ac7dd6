package mocksource

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseAddress(t *testing.T) {
	testCases := []struct {
		address string
		want    Params
		wantErr bool
	}{
		{"mock://320x240", Params{Width: 320, Height: 240, FPS: 30}, false},
		{"mock://8X4?fps=100&fail=3", Params{Width: 8, Height: 4, FPS: 100, FailEvery: 3}, false},
		{"mock://", Params{Width: 640, Height: 480, FPS: 30}, false},
		{"mock://320", Params{}, true},
		{"mock://0x10", Params{}, true},
		{"mock://4x4?fps=0", Params{}, true},
		{"rtsp://cam/stream", Params{}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.address, func(t *testing.T) {
			got, err := ParseAddress(tc.address)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tc.address)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("ParseAddress(%q) = %+v, want %+v", tc.address, got, tc.want)
			}
		})
	}
}

func TestSource_ReadProducesRGBFrames(t *testing.T) {
	src, err := Opener{}.Open(context.Background(), "mock://4x2?fps=1000")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	f1, err := src.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	f2, err := src.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if f1.Width != 4 || f1.Height != 2 || len(f1.Data) != 4*2*3 {
		t.Errorf("unexpected frame geometry: %dx%d len=%d", f1.Width, f1.Height, len(f1.Data))
	}
	if f2.Seq != f1.Seq+1 {
		t.Errorf("sequence not monotonic: %d then %d", f1.Seq, f2.Seq)
	}
}

func TestSource_FailEvery(t *testing.T) {
	src := New(Params{Width: 2, Height: 2, FPS: 1000, FailEvery: 2})
	defer src.Close()

	if _, err := src.Read(context.Background()); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if _, err := src.Read(context.Background()); !errors.Is(err, ErrInjected) {
		t.Errorf("second read: expected ErrInjected, got %v", err)
	}
}

func TestSource_CloseUnblocksRead(t *testing.T) {
	src := New(Params{Width: 2, Height: 2, FPS: 1})

	errCh := make(chan error, 1)
	go func() {
		_, err := src.Read(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = src.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Close")
	}
	if !src.Closed() {
		t.Error("Closed() = false after Close")
	}
}
