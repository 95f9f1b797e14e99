package enums

import "fmt"

// DetectorKind identifies one of the model backends behind the adapter pool.
type DetectorKind string

const (
	DetectorCLIP   DetectorKind = "clip"
	DetectorResNet DetectorKind = "resnet"
	DetectorLAA    DetectorKind = "laa"
)

var validDetectorKinds = []DetectorKind{
	DetectorCLIP,
	DetectorResNet,
	DetectorLAA,
}

func (d DetectorKind) String() string {
	return string(d)
}

// IsValid reports whether the value names a known detector backend.
func (d DetectorKind) IsValid() bool {
	for _, candidate := range validDetectorKinds {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDetectorKind converts raw input into DetectorKind.
func ParseDetectorKind(value string) (DetectorKind, error) {
	for _, candidate := range validDetectorKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid detector kind %q", value)
}
