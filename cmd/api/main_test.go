package main

import (
	"context"
	"testing"

	appconfig "github.com/wolfman30/careflow-scheduling/internal/config"
)

func TestLoadAWSSkippedWithoutQueueOrTable(t *testing.T) {
	awsCfg, err := loadAWS(context.Background(), &appconfig.Config{AWSRegion: "us-east-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if awsCfg != nil {
		t.Fatal("expected nil AWS config")
	}
}

func TestLoadAWSWithQueue(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	cfg := &appconfig.Config{
		AWSRegion:                 "us-east-1",
		AWSAccessKeyID:            "test",
		AWSSecretAccessKey:        "test",
		ReservationEventsQueueURL: "http://localhost:4566/000000000000/reservation-events",
	}
	awsCfg, err := loadAWS(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if awsCfg == nil || awsCfg.Region != "us-east-1" {
		t.Fatalf("unexpected AWS config %+v", awsCfg)
	}
}
