package http

import "strconv"

// Status is an HTTP response status code.
type Status int

// Common status codes
const (
	StatusContinue           Status = 100
	StatusSwitchingProtocols Status = 101

	StatusOK        Status = 200
	StatusCreated   Status = 201
	StatusAccepted  Status = 202
	StatusNoContent Status = 204

	StatusMovedPermanently Status = 301
	StatusFound            Status = 302
	StatusSeeOther         Status = 303
	StatusNotModified      Status = 304

	StatusBadRequest                  Status = 400
	StatusUnauthorized                Status = 401
	StatusForbidden                   Status = 403
	StatusNotFound                    Status = 404
	StatusMethodNotAllowed            Status = 405
	StatusNotAcceptable               Status = 406
	StatusRequestTimeout              Status = 408
	StatusConflict                    Status = 409
	StatusLengthRequired              Status = 411
	StatusPayloadTooLarge             Status = 413
	StatusURITooLong                  Status = 414
	StatusUnsupportedMediaType        Status = 415
	StatusUnprocessableEntity         Status = 422
	StatusTooManyRequests             Status = 429
	StatusRequestHeaderFieldsTooLarge Status = 431

	StatusInternalServerError     Status = 500
	StatusNotImplemented          Status = 501
	StatusBadGateway              Status = 502
	StatusServiceUnavailable      Status = 503
	StatusGatewayTimeout          Status = 504
	StatusHTTPVersionNotSupported Status = 505
)

var reasons = map[Status]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	408: "Request Timeout",
	409: "Conflict",
	411: "Length Required",
	413: "Payload Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	422: "Unprocessable Entity",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

// Reason returns the standard reason phrase, or "Unknown".
func (s Status) Reason() string {
	if r, ok := reasons[s]; ok {
		return r
	}
	return "Unknown"
}

func (s Status) String() string {
	return strconv.Itoa(int(s)) + " " + s.Reason()
}

// AllowsBody reports whether a response with this status may carry a body.
func (s Status) AllowsBody() bool {
	return s >= 200 && s != StatusNoContent && s != StatusNotModified
}

// IsError reports whether s is a 4xx or 5xx status.
func (s Status) IsError() bool {
	return s >= 400
}
