// Command scheduling-lambda serves the scheduling actions behind API Gateway.
// The action is the last path segment, e.g. POST /scheduling/schedule-exam.
//
// With ADMIN_JWT_SECRET set every action needs a staff bearer token and the
// token subject is the actor. Without it the X-Actor-ID header is trusted,
// which is only safe behind an API Gateway authorizer that sets it.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/careflow-scheduling/cmd/mainconfig"
	"github.com/wolfman30/careflow-scheduling/internal/actions"
	"github.com/wolfman30/careflow-scheduling/internal/actor"
	"github.com/wolfman30/careflow-scheduling/internal/app/bootstrap"
	appconfig "github.com/wolfman30/careflow-scheduling/internal/config"
	"github.com/wolfman30/careflow-scheduling/internal/http/middleware"
	"github.com/wolfman30/careflow-scheduling/pkg/logging"
)

type dispatcher interface {
	Dispatch(ctx context.Context, action string, body []byte) actions.Response
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	app, err := bootstrap.Build(ctx, cfg, logger, &awsCfg)
	if err != nil {
		logger.Error("failed to build scheduling engine", "error", err)
		os.Exit(1)
	}

	lambda.Start(func(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		return handle(ctx, app.Dispatcher, cfg.AdminJWTSecret, evt)
	})
}

func handle(ctx context.Context, d dispatcher, authSecret string, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	rawPath := strings.TrimSpace(evt.RawPath)
	if rawPath == "" {
		rawPath = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}

	if rawPath == "/health" || rawPath == "/_health" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK, Body: "ok"}, nil
	}
	if method != http.MethodPost {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusMethodNotAllowed}, nil
	}

	action := path.Base(strings.TrimRight(rawPath, "/"))
	if action == "." || action == "/" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusNotFound}, nil
	}

	body, err := decodeBody(evt)
	if err != nil {
		return jsonError(http.StatusBadRequest, "invalid body"), nil
	}

	if authSecret != "" {
		claims, err := middleware.ParseStaffToken(authSecret, headerValue(evt.Headers, "authorization"))
		if err != nil {
			return jsonError(http.StatusUnauthorized, err.Error()), nil
		}
		if claims.Subject != "" {
			ctx = actor.WithID(ctx, claims.Subject)
		}
	} else if id := strings.TrimSpace(headerValue(evt.Headers, "x-actor-id")); id != "" {
		ctx = actor.WithID(ctx, id)
	}

	resp := d.Dispatch(ctx, action, body)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: resp.StatusCode,
		Body:       string(resp.Body),
		Headers:    map[string]string{"content-type": "application/json"},
	}, nil
}

func jsonError(status int, msg string) events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(map[string]string{"error": msg})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"content-type": "application/json"},
	}
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(evt.Body)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
