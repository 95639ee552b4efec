package dto

// ErrorResponse is the envelope for every non-2xx API response. Code is a
// public domain error code or an adapter-level condition; TraceID lets a
// client report be matched to server spans.
type ErrorResponse struct {
	Code    string `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
	TraceID string `json:"trace_id,omitempty" msgpack:"trace_id,omitempty"`
}

func NewErrorResponse(code, message, traceID string) *ErrorResponse {
	return &ErrorResponse{
		Code:    code,
		Message: message,
		TraceID: traceID,
	}
}
