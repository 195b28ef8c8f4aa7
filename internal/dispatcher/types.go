// Package dispatcher implements the API/Message dispatcher (§4.7): a
// single envelope entry point shared by the HTTP origin ("webserver") and
// the pub/sub broker origin ("broker"), a static endpoint->handler table,
// and a uniform response envelope. Grounded on the original
// NSMessageProcessor's handle/handle_api routing and its
// build_success/build_error response shape, translated from Python's
// exception-driven control flow into explicit (interface{}, error)
// handler returns per §9.
package dispatcher

import (
	"context"
	"fmt"
)

// Origin identifies which transport delivered a request, matching §4.7's
// `origin ∈ {webserver, broker}`.
type Origin string

const (
	OriginWebserver Origin = "webserver"
	OriginBroker    Origin = "broker"
)

// Request is the decoded request envelope (§6.4): `{id, endpoint,
// api_payload}`.
type Request struct {
	ID         string                 `json:"id"`
	Endpoint   string                 `json:"endpoint"`
	APIPayload map[string]interface{} `json:"api_payload"`
}

// Response is the decorated reply envelope (§6.4): `{id, endpoint, status,
// api_payload: {result|error}, request_payload}`.
type Response struct {
	ID             string                 `json:"id"`
	Endpoint       string                 `json:"endpoint"`
	Status         int                    `json:"status"`
	APIPayload     map[string]interface{} `json:"api_payload"`
	RequestPayload map[string]interface{} `json:"request_payload"`
}

// Handler implements one endpoint. It returns the value that goes under
// api_payload.result on success; a non-nil error is turned into
// api_payload.error with status 500.
type Handler func(ctx context.Context, payload map[string]interface{}) (interface{}, error)

func buildSuccess(req Request, result interface{}) Response {
	return Response{
		ID:             req.ID,
		Endpoint:       req.Endpoint,
		Status:         200,
		APIPayload:     map[string]interface{}{"result": result},
		RequestPayload: req.APIPayload,
	}
}

func buildError(req Request, err error) Response {
	return Response{
		ID:             req.ID,
		Endpoint:       req.Endpoint,
		Status:         500,
		APIPayload:     map[string]interface{}{"error": err.Error()},
		RequestPayload: req.APIPayload,
	}
}

// errUnrecognizedEndpoint is returned when Request.Endpoint has no entry
// in the handler table (§4.7 "unknown endpoints return a structured
// error").
func errUnrecognizedEndpoint(endpoint string) error {
	return fmt.Errorf("unrecognized api endpoint: %s", endpoint)
}

// payloadString extracts a required string field, mirroring the original's
// `payload['key']` KeyError-as-missing-field check.
func payloadString(payload map[string]interface{}, key string) (string, error) {
	v, ok := payload[key]
	if !ok {
		return "", fmt.Errorf("missing required payload key %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("payload key %q must be a string", key)
	}
	return s, nil
}

func payloadBool(payload map[string]interface{}, key string, def bool) bool {
	v, ok := payload[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func payloadMap(payload map[string]interface{}, key string) (map[string]interface{}, error) {
	v, ok := payload[key]
	if !ok {
		return nil, fmt.Errorf("missing required payload key %q", key)
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("payload key %q must be an object", key)
	}
	return m, nil
}
