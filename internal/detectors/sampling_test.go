package detectors

import "testing"

func TestSampleFramesShortVideoTakesEveryFrame(t *testing.T) {
	samples := SampleFrames(10, 30, 32)
	if len(samples) != 10 {
		t.Fatalf("expected 10 samples, got %d", len(samples))
	}
	for i, sample := range samples {
		if sample.Index != i {
			t.Fatalf("expected consecutive indexes, got %+v", samples)
		}
	}
}

func TestSampleFramesAppliesStride(t *testing.T) {
	samples := SampleFrames(300, 30, 32)
	if len(samples) != 10 {
		t.Fatalf("expected 10 strided samples, got %d", len(samples))
	}
	if samples[1].Index != 30 {
		t.Fatalf("expected stride 30, got index %d", samples[1].Index)
	}
	if samples[1].TimestampMS != 1000 {
		t.Fatalf("expected 1s timestamp for frame 30, got %d", samples[1].TimestampMS)
	}
}

func TestSampleFramesRespectsBudget(t *testing.T) {
	samples := SampleFrames(100000, 30, 32)
	if len(samples) > 32 {
		t.Fatalf("budget exceeded: %d samples", len(samples))
	}
	// Widened stride must still span most of the video.
	last := samples[len(samples)-1]
	if last.Index < 90000 {
		t.Fatalf("samples stop too early at frame %d", last.Index)
	}
}

func TestSampleFramesEmptyVideo(t *testing.T) {
	if samples := SampleFrames(0, 30, 32); samples != nil {
		t.Fatalf("expected no samples, got %v", samples)
	}
}

func TestSampleFramesDefaults(t *testing.T) {
	samples := SampleFrames(60, 0, 0)
	if len(samples) != 60 {
		t.Fatalf("expected defaults to sample all 60 frames, got %d", len(samples))
	}
}
