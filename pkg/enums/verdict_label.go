package enums

import "fmt"

// VerdictLabel is the classification a detector or the fused verdict assigns.
type VerdictLabel string

const (
	VerdictAuthentic     VerdictLabel = "authentic"
	VerdictManipulated   VerdictLabel = "manipulated"
	VerdictIndeterminate VerdictLabel = "indeterminate"
)

var validVerdictLabels = []VerdictLabel{
	VerdictAuthentic,
	VerdictManipulated,
	VerdictIndeterminate,
}

// String returns the literal string for the label.
func (v VerdictLabel) String() string {
	return string(v)
}

// IsValid reports whether the label is known.
func (v VerdictLabel) IsValid() bool {
	for _, candidate := range validVerdictLabels {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseVerdictLabel converts raw input into a VerdictLabel.
func ParseVerdictLabel(value string) (VerdictLabel, error) {
	for _, candidate := range validVerdictLabels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid verdict label %q", value)
}
