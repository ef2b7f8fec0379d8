package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/careflow-scheduling/internal/masterdata"
	"github.com/wolfman30/careflow-scheduling/internal/protocols"
)

// Seed is the master data loaded into the in-memory stores.
type Seed struct {
	Patients  []masterdata.Patient `json:"patients"`
	Medics    []masterdata.Medic   `json:"medics"`
	Exams     []masterdata.Exam    `json:"exams"`
	Protocols []protocols.Protocol `json:"protocols"`
}

// S3API is the subset of the S3 client used to fetch seed documents.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// LoadSeed reads a seed document from a local path.
func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: read seed: %w", err)
	}
	return decodeSeed(path, raw)
}

// LoadSeedFromS3 reads a seed document from an s3://bucket/key URI.
func LoadSeedFromS3(ctx context.Context, client S3API, uri string) (*Seed, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: fetch seed %s: %w", uri, err)
	}
	defer out.Body.Close()
	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: read seed %s: %w", uri, err)
	}
	return decodeSeed(uri, raw)
}

func isS3URI(s string) bool {
	return strings.HasPrefix(s, "s3://")
}

func parseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("bootstrap: %q is not an s3 uri", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("bootstrap: s3 uri %q needs a bucket and a key", uri)
	}
	return bucket, key, nil
}

func decodeSeed(source string, raw []byte) (*Seed, error) {
	var seed Seed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("bootstrap: decode seed %s: %w", source, err)
	}
	return &seed, nil
}

// Apply loads the seed into dir and store.
func (s *Seed) Apply(ctx context.Context, dir *masterdata.MemoryDirectory, store protocols.Store) error {
	for _, p := range s.Patients {
		dir.PutPatient(p)
	}
	for _, m := range s.Medics {
		dir.PutMedic(m)
	}
	for _, e := range s.Exams {
		dir.PutExam(e)
	}
	for i := range s.Protocols {
		p := s.Protocols[i]
		if err := store.Create(ctx, &p); err != nil {
			return fmt.Errorf("bootstrap: seed protocol %s: %w", p.ID, err)
		}
	}
	return nil
}
