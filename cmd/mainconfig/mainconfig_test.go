package mainconfig

import (
	"context"
	"testing"

	appconfig "github.com/wolfman30/careflow-scheduling/internal/config"
)

func TestUsesAWS(t *testing.T) {
	if UsesAWS(&appconfig.Config{}) {
		t.Fatal("expected no AWS usage without queue or table")
	}
	if !UsesAWS(&appconfig.Config{AutoScheduleRunsTable: "runs"}) {
		t.Fatal("expected AWS usage with a run table")
	}
	if !UsesAWS(&appconfig.Config{SeedFile: "s3://careflow-dev/seed.json"}) {
		t.Fatal("expected AWS usage with an s3 seed")
	}
	if UsesAWS(&appconfig.Config{SeedFile: "testdata/seed.json"}) {
		t.Fatal("expected no AWS usage with a local seed")
	}
	if !UsesAWS(&appconfig.Config{ReservationEventsQueueURL: "http://localhost:4566/000000000000/events"}) {
		t.Fatal("expected AWS usage with an event queue")
	}
}

func TestLoadAWSConfigStaticCredentials(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	cfg := &appconfig.Config{
		AWSRegion:           "us-west-2",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "secret",
		AWSEndpointOverride: "http://localhost:4566",
	}
	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if awsCfg.Region != "us-west-2" {
		t.Fatalf("expected region us-west-2, got %s", awsCfg.Region)
	}
	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("retrieve credentials: %v", err)
	}
	if creds.AccessKeyID != "test" {
		t.Fatalf("expected static credentials, got %s", creds.AccessKeyID)
	}
	if awsCfg.EndpointResolverWithOptions == nil {
		t.Fatal("expected endpoint override resolver")
	}
}
