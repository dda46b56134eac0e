package crawler

import "errors"

// Code is a machine-readable failure code reported to callers and events.
type Code string

// Failure codes shared by the stores, the upload pipeline and the CLI.
const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidStatus     Code = "INVALID_STATUS"
	CodeDuplicateChunk    Code = "DUPLICATE_CHUNK"
	CodeDuplicateDocument Code = "DUPLICATE_DOCUMENT"
	CodeBatchError        Code = "BATCH_ERROR"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeAuthFailed        Code = "AUTH_FAILED"
	CodeNetwork           Code = "NETWORK_ERROR"
	CodeServer            Code = "SERVER_ERROR"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// CodedError attaches a Code to an error. Package-level *CodedError values
// work as sentinels with errors.Is.
type CodedError struct {
	Code Code
	Msg  string
	Err  error
}

// NewCodedError wraps err with a code and message.
func NewCodedError(code Code, msg string, err error) *CodedError {
	return &CodedError{Code: code, Msg: msg, Err: err}
}

func (e *CodedError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *CodedError) Unwrap() error { return e.Err }

// CodeOf returns the first code found in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}
