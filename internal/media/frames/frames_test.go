package frames

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListFramesSortedCaptureOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame-0003.jpg", "frame-0001.jpg", "frame-0002.jpg", "audio.wav", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	paths, err := listFrames(dir)
	if err != nil {
		t.Fatalf("listFrames: %v", err)
	}
	want := []string{
		filepath.Join(dir, "frame-0001.jpg"),
		filepath.Join(dir, "frame-0002.jpg"),
		filepath.Join(dir, "frame-0003.jpg"),
	}
	if len(paths) != len(want) {
		t.Fatalf("expected %v, got %v", want, paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, paths)
		}
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := formatSeconds(4.26667); got != "4.267" {
		t.Fatalf("formatSeconds(4.26667) = %q", got)
	}
	if got := formatSeconds(0); got != "0.000" {
		t.Fatalf("formatSeconds(0) = %q", got)
	}
}
