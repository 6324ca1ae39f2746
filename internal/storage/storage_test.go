package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gojob/email-sender/internal/config"
)

func TestLocalStoreReadWrite(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "u1/report.pdf", []byte("%PDF"), "application/pdf"))
	data, err := s.Read(ctx, "u1/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)

	_, err = s.Read(ctx, "u1/missing.pdf")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	assert.NoError(t, s.Ping(ctx))
}

func TestLocalStoreAbsolutePathInsideRoot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewLocalStore(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0o644))

	data, err := s.Read(ctx, filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestLocalStoreRejectsEscapes(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, p := range []string{"", "../etc/passwd", "a/../../x", "/etc/passwd", "."} {
		_, err := s.Read(ctx, p)
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
	assert.ErrorIs(t, s.Write(ctx, "../x", nil, ""), ErrInvalidPath)
}

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
	headErr error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = data
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	api := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	s := newS3Store(api, "bucket", "uploads")

	require.NoError(t, s.Write(ctx, "u1/a.txt", []byte("hello"), "text/plain"))
	assert.Equal(t, "text/plain", api.types["bucket/uploads/u1/a.txt"])

	data, err := s.Read(ctx, "u1/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = s.Read(ctx, "u1/none.txt")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	assert.NoError(t, s.Ping(ctx))
	api.headErr = errors.New("forbidden")
	assert.Error(t, s.Ping(ctx))
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(context.Background(), config.StorageConfig{Backend: "local", UploadPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)

	_, err = New(context.Background(), config.StorageConfig{Backend: "ftp"})
	assert.Error(t, err)
}
