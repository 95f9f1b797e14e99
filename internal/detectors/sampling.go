package detectors

const (
	// DefaultFrameStride samples one frame per stride at the nominal rate.
	DefaultFrameStride = 30
	// DefaultFrameBudget caps how many frames a single evaluation may use.
	DefaultFrameBudget = 32
	// nominalFPS converts frame indexes to timestamps for backends that
	// prefer time positions. Detector backends re-decode the video anyway,
	// so a nominal rate is sufficient for mapping findings back.
	nominalFPS = 30
)

// SampleFrames picks evaluation frames at a fixed stride up to the frame
// budget. Videos shorter than the budget sample every strided frame; longer
// videos widen the stride so samples still span the whole duration.
func SampleFrames(totalFrames, stride, budget int) []FrameSample {
	if totalFrames <= 0 {
		return nil
	}
	if stride <= 0 {
		stride = DefaultFrameStride
	}
	if budget <= 0 {
		budget = DefaultFrameBudget
	}
	if totalFrames <= budget {
		stride = 1
	} else if (totalFrames+stride-1)/stride > budget {
		stride = (totalFrames + budget - 1) / budget
	}

	samples := make([]FrameSample, 0, budget)
	for index := 0; index < totalFrames && len(samples) < budget; index += stride {
		samples = append(samples, FrameSample{
			Index:       index,
			TimestampMS: int64(index) * 1000 / nominalFPS,
		})
	}
	return samples
}
