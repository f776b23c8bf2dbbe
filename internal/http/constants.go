package http

// Generic HTTP / JSON strings
const (
	HTTPErrorMethodNotAllowedText = "method not allowed"
	HTTPErrorInvalidJSONText      = "invalid JSON"
	HTTPErrorForbiddenText        = "forbidden"
	HTTPErrorForbiddenHostText    = "forbidden host"
	HTTPErrorForbiddenOriginText  = "forbidden origin"
	HTTPErrorUpstreamText         = "upstream unavailable"
)

// Common JSON keys
const (
	JSONKeyOK     = "ok"
	JSONKeyError  = "error"
	JSONKeyStatus = "status"
)

const (
	requestIDHeader = "X-Request-Id"
	maxBodyBytes    = 1 << 20
)
