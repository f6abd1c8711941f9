package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/phrazzld/kcjob/internal/blob"
	"github.com/phrazzld/kcjob/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI implements API with overridable behavior.
type fakeAPI struct {
	GetObjectFn func(ctx context.Context, in *s3.GetObjectInput) (*s3.GetObjectOutput, error)
	PutObjectFn func(ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error)
}

func (f *fakeAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return f.GetObjectFn(ctx, in)
}

func (f *fakeAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return f.PutObjectFn(ctx, in)
}

func TestPut(t *testing.T) {
	t.Parallel()

	var got *s3.PutObjectInput
	var body []byte
	api := &fakeAPI{PutObjectFn: func(_ context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		got = in
		body, _ = io.ReadAll(in.Body)
		return &s3.PutObjectOutput{}, nil
	}}

	key, err := NewWithAPI(api, "kc").Put(context.Background(), "concepts/task_1_concepts.csv", []byte("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, "concepts/task_1_concepts.csv", key)
	assert.Equal(t, "kc", *got.Bucket)
	assert.Equal(t, "text/csv", *got.ContentType)
	assert.Equal(t, int64(4), *got.ContentLength)
	assert.Equal(t, "a,b\n", string(body))
}

func TestPutError(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{PutObjectFn: func(context.Context, *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return nil, errors.New("throttled")
	}}
	_, err := NewWithAPI(api, "kc").Put(context.Background(), "a/b", nil)
	assert.ErrorContains(t, err, "throttled")

	_, err = NewWithAPI(api, "kc").Put(context.Background(), "", nil)
	assert.ErrorIs(t, err, blob.ErrInvalidKey)
}

func TestGet(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{GetObjectFn: func(_ context.Context, in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		if *in.Key == "missing" {
			return nil, &types.NoSuchKey{}
		}
		return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("payload"))}, nil
	}}
	s := NewWithAPI(api, "kc")

	data, err := s.Get(context.Background(), "uploads/x")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestGetAgainstHTTPEndpoint(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_CONFIG_FILE", "/dev/null")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/dev/null")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/kc/uploads/quiz.jsonl":
			w.Header().Set("Content-Type", "application/x-ndjson")
			_, _ = w.Write([]byte(`{"id":1}` + "\n"))
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
		}
	}))
	defer srv.Close()

	s, err := New(context.Background(), config.StorageConfig{
		Bucket:   "kc",
		Region:   "us-east-1",
		Endpoint: srv.URL,
	})
	require.NoError(t, err)

	data, err := s.Get(context.Background(), "uploads/quiz.jsonl")
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`+"\n", string(data))

	_, err = s.Get(context.Background(), "uploads/none.jsonl")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}
