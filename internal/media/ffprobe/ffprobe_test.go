package ffprobe

import "testing"

func TestResultStreamHelpers(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "video"},
			{CodecType: "audio"},
		},
		Format: Format{Duration: "123.45"},
	}
	if !result.HasVideoStream() {
		t.Fatal("expected video stream")
	}
	if !result.HasAudioStream() {
		t.Fatal("expected audio stream")
	}
	if result.DurationSeconds() != 123.45 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
}

func TestDurationFallsBackToStreams(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "video", Duration: "30.5"},
			{CodecType: "audio", Duration: "29.9"},
		},
	}
	if result.DurationSeconds() != 30.5 {
		t.Fatalf("expected longest stream duration, got %v", result.DurationSeconds())
	}
}

func TestDurationHandlesInvalidValues(t *testing.T) {
	result := Result{Format: Format{Duration: "bad"}}
	if result.DurationSeconds() != 0 {
		t.Fatalf("expected 0 for invalid duration, got %v", result.DurationSeconds())
	}
	silent := Result{Streams: []Stream{{CodecType: "video"}}}
	if silent.HasAudioStream() {
		t.Fatal("expected no audio stream")
	}
}
