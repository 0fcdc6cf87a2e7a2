package httpapi

import "fmt"

// ErrorResponse is the JSON body of every error reply, in ntfy's format.
type ErrorResponse struct {
	Code  int    `json:"code"`
	HTTP  int    `json:"http"`
	Error string `json:"error"`
}

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Healthy bool `json:"healthy"`
}

// httpError is a handler failure that maps to a specific reply.
type httpError struct {
	Code     int
	HTTPCode int
	Message  string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http %d (code %d): %s", e.HTTPCode, e.Code, e.Message)
}

func (e *httpError) withDetail(detail string) *httpError {
	return &httpError{Code: e.Code, HTTPCode: e.HTTPCode, Message: e.Message + ": " + detail}
}

var (
	errHTTPBadRequestTopicInvalid      = &httpError{40001, 400, "invalid topic"}
	errHTTPBadRequestPriorityInvalid   = &httpError{40002, 400, "invalid priority"}
	errHTTPBadRequestSinceInvalid      = &httpError{40003, 400, "invalid since parameter"}
	errHTTPBadRequestDelayInvalid      = &httpError{40004, 400, "invalid delay parameter"}
	errHTTPBadRequestDelayNoCache      = &httpError{40005, 400, "cannot disable cache for delayed message"}
	errHTTPBadRequestActionsInvalid    = &httpError{40006, 400, "invalid actions"}
	errHTTPBadRequestAttachmentInvalid = &httpError{40007, 400, "invalid attachment URL"}
	errHTTPUnauthorized                = &httpError{40101, 401, "unauthorized"}
	errHTTPForbidden                   = &httpError{40301, 403, "forbidden"}
	errHTTPNotFound                    = &httpError{40401, 404, "page not found"}
	errHTTPEntityTooLarge              = &httpError{41301, 413, "message too large"}
	errHTTPTooManyRequests             = &httpError{42901, 429, "limit reached: too many requests"}
	errHTTPInternalError               = &httpError{50001, 500, "internal server error"}
)
