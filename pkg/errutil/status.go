package errutil

type CoreStatus string

const (
	StatusUnknown          CoreStatus = "unknown"
	StatusNotFound         CoreStatus = "not_found"
	StatusBadRequest       CoreStatus = "bad_request"
	StatusValidationFailed CoreStatus = "validation_failed"
	StatusConflict         CoreStatus = "conflict"
	StatusInternal         CoreStatus = "internal"
	StatusTimeout          CoreStatus = "timeout"
)

// Retryable reports whether a caller may reasonably repeat the operation.
func (s CoreStatus) Retryable() bool {
	switch s {
	case StatusConflict, StatusTimeout:
		return true
	default:
		return false
	}
}
