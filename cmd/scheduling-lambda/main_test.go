package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/careflow-scheduling/internal/actions"
	"github.com/wolfman30/careflow-scheduling/internal/actor"
)

type recordingDispatcher struct {
	action string
	body   string
	actor  string
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, action string, body []byte) actions.Response {
	d.action = action
	d.body = string(body)
	d.actor, _ = actor.IDFromContext(ctx)
	return actions.Response{StatusCode: http.StatusCreated, Body: []byte(`{"id":"r-1"}`)}
}

func request(method, path, body string) events.APIGatewayV2HTTPRequest {
	return events.APIGatewayV2HTTPRequest{
		RawPath: path,
		Body:    body,
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{Method: method, Path: path},
		},
	}
}

func TestHandleHealth(t *testing.T) {
	resp, err := handle(context.Background(), &recordingDispatcher{}, "", request(http.MethodGet, "/health", ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Body != "ok" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHandleRejectsNonPost(t *testing.T) {
	resp, _ := handle(context.Background(), &recordingDispatcher{}, "", request(http.MethodGet, "/scheduling/schedule-exam", ""))
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, resp.StatusCode)
	}
}

func TestHandleDispatchesLastPathSegment(t *testing.T) {
	d := &recordingDispatcher{}
	evt := request(http.MethodPost, "/prod/scheduling/schedule-exam/", `{"patient_id":"p1"}`)
	evt.Headers = map[string]string{"X-Actor-Id": "nurse-7"}

	resp, err := handle(context.Background(), d, "", evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.action != "schedule-exam" {
		t.Fatalf("expected schedule-exam, got %q", d.action)
	}
	if d.actor != "nurse-7" {
		t.Fatalf("expected actor from header, got %q", d.actor)
	}
	if resp.StatusCode != http.StatusCreated || resp.Body != `{"id":"r-1"}` {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Headers["content-type"] != "application/json" {
		t.Fatalf("expected json content type, got %q", resp.Headers["content-type"])
	}
}

func TestHandleDecodesBase64Body(t *testing.T) {
	d := &recordingDispatcher{}
	evt := request(http.MethodPost, "/scheduling/auto-schedule", base64.StdEncoding.EncodeToString([]byte(`{"patient_id":"p1"}`)))
	evt.IsBase64Encoded = true
	if _, err := handle(context.Background(), d, "", evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.body != `{"patient_id":"p1"}` {
		t.Fatalf("unexpected body %q", d.body)
	}

	evt.Body = "%%%"
	resp, _ := handle(context.Background(), d, "", evt)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

func TestHandleStaffToken(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantActor  string
	}{
		{"missing token", map[string]string{"X-Actor-Id": "nurse-7"}, http.StatusUnauthorized, ""},
		{"wrong secret", map[string]string{"Authorization": "Bearer " + signedToken(t, "other", "nurse-1")}, http.StatusUnauthorized, ""},
		{"valid token wins over header", map[string]string{
			"authorization": "Bearer " + signedToken(t, "s3cret", "nurse-1"),
			"x-actor-id":    "spoofed",
		}, http.StatusCreated, "nurse-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{}
			evt := request(http.MethodPost, "/scheduling/schedule-exam", `{}`)
			evt.Headers = tt.headers

			resp, err := handle(context.Background(), d, "s3cret", evt)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected status %d, got %d (%s)", tt.wantStatus, resp.StatusCode, resp.Body)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				if d.action != "" {
					t.Fatalf("expected no dispatch, got %q", d.action)
				}
				if !strings.Contains(resp.Body, `"error"`) {
					t.Fatalf("expected json error body, got %q", resp.Body)
				}
				return
			}
			if d.actor != tt.wantActor {
				t.Fatalf("expected actor %q, got %q", tt.wantActor, d.actor)
			}
		})
	}
}

func signedToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestHeaderValueCaseInsensitive(t *testing.T) {
	if got := headerValue(map[string]string{"Content-Type": "application/json"}, "content-type"); got != "application/json" {
		t.Fatalf("unexpected header value %q", got)
	}
}
