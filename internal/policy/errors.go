package policy

import "fmt"

// ReasonCode represents violation reason codes for clear error reporting
type ReasonCode string

const (
	ReasonThresholdOutOfBounds ReasonCode = "THRESHOLD_OUT_OF_BOUNDS"
	ReasonInvalidHardStopLimit ReasonCode = "INVALID_HARD_STOP_LIMIT"
	ReasonWeakeningRestore     ReasonCode = "WEAKENING_RESTORE"
	ReasonVersionNotFound      ReasonCode = "VERSION_NOT_FOUND"
	ReasonCorruptSnapshot      ReasonCode = "CORRUPT_SNAPSHOT"
)

// ValidationError contains detailed violation information. Invariant
// violations are rejected synchronously with a named reason, never
// coerced into a safe default.
type ValidationError struct {
	Reason  ReasonCode
	Field   string
	Message string
	Details map[string]interface{}
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field=%s)", e.Reason, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Reason, e.Message)
}

// IsReason reports whether err is a ValidationError carrying the given code
func IsReason(err error, reason ReasonCode) bool {
	ve, ok := err.(ValidationError)
	return ok && ve.Reason == reason
}
