package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/careflow-scheduling/internal/masterdata"
	"github.com/wolfman30/careflow-scheduling/internal/protocols"
)

type fakeS3 struct {
	objects map[string][]byte
	lastKey string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.lastKey = aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	data, ok := f.objects[f.lastKey]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestLoadSeedAndApply(t *testing.T) {
	seed, err := LoadSeed("testdata/seed.json")
	require.NoError(t, err)
	assert.Len(t, seed.Patients, 2)
	assert.Len(t, seed.Protocols, 1)

	dir := masterdata.NewMemoryDirectory()
	store := protocols.NewMemoryStore()
	require.NoError(t, seed.Apply(context.Background(), dir, store))

	exam, err := dir.GetExam(context.Background(), "ecg")
	require.NoError(t, err)
	assert.Equal(t, 20, exam.DurationMinutes)
	p, err := store.Get(context.Background(), "chest-pain")
	require.NoError(t, err)
	assert.Equal(t, []string{"ecg", "xray-chest"}, p.RecommendedExams)
}

func TestLoadSeedFromS3(t *testing.T) {
	raw, err := os.ReadFile("testdata/seed.json")
	require.NoError(t, err)
	client := &fakeS3{objects: map[string][]byte{"careflow-dev/seeds/clinic.json": raw}}

	seed, err := LoadSeedFromS3(context.Background(), client, "s3://careflow-dev/seeds/clinic.json")
	require.NoError(t, err)
	assert.Equal(t, "careflow-dev/seeds/clinic.json", client.lastKey)
	assert.Len(t, seed.Medics, 2)

	_, err = LoadSeedFromS3(context.Background(), client, "s3://careflow-dev/missing.json")
	assert.Error(t, err)
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://bucket/seed.json", "bucket", "seed.json", false},
		{"s3://bucket/a/b/seed.json", "bucket", "a/b/seed.json", false},
		{"s3://bucket", "", "", true},
		{"s3:///seed.json", "", "", true},
		{"testdata/seed.json", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := parseS3URI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestS3SeedNeedsAWSConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.SeedFile = "s3://careflow-dev/seed.json"
	_, err := Build(context.Background(), cfg, nil, nil)
	assert.Error(t, err)
}
