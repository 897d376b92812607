package main

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"insights-backend/internal/shared/server/respond"
)

func TestWithRequestIDForwardsGatewayID(t *testing.T) {
	req := events.APIGatewayV2HTTPRequest{Headers: map[string]string{"accept": "application/json"}}
	req.RequestContext.RequestID = "gw-1"

	got := withRequestID(req)
	if got.Headers["x-request-id"] != "gw-1" {
		t.Fatalf("expected forwarded id, got %v", got.Headers)
	}
	if _, ok := req.Headers["x-request-id"]; ok {
		t.Fatalf("expected original headers untouched")
	}
}

func TestWithRequestIDKeepsCallerID(t *testing.T) {
	req := events.APIGatewayV2HTTPRequest{Headers: map[string]string{"x-request-id": "caller"}}
	req.RequestContext.RequestID = "gw-2"

	if got := withRequestID(req); got.Headers["x-request-id"] != "caller" {
		t.Fatalf("expected caller id kept, got %v", got.Headers)
	}
}

func TestErrorResponseUsesEnvelope(t *testing.T) {
	resp := errorResponse("bootstrap_failed", "service unavailable")
	var body respond.ErrorResponse
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != 503 || body.Error.Code != "bootstrap_failed" {
		t.Fatalf("unexpected response %+v", resp)
	}
}
