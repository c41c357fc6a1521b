package documents

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3Client struct {
	objects map[string][]byte
	puts    []*s3.PutObjectInput
}

func (m *mockS3Client) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	m.objects[aws.ToString(in.Key)] = body
	m.puts = append(m.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(m.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_RoundTrip(t *testing.T) {
	client := &mockS3Client{objects: map[string][]byte{}}
	store := NewS3Store(client, "oh-documents")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "documents/e/d/a.pdf", []byte("content"), "application/pdf"))
	require.Len(t, client.puts, 1)
	assert.Equal(t, "oh-documents", aws.ToString(client.puts[0].Bucket))
	assert.Equal(t, s3types.ServerSideEncryptionAes256, client.puts[0].ServerSideEncryption)
	assert.Equal(t, int64(7), aws.ToInt64(client.puts[0].ContentLength))

	rc, err := store.Get(ctx, "documents/e/d/a.pdf")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "content", string(body))

	require.NoError(t, store.Delete(ctx, "documents/e/d/a.pdf"))
	_, err = store.Get(ctx, "documents/e/d/a.pdf")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestStorageKeySanitisesFileName(t *testing.T) {
	assert.Equal(t, "documents/e1/d1/report.pdf", StorageKey("e1", "d1", `C:\Users\x\report.pdf`))
	assert.Equal(t, "documents/e1/d1/file", StorageKey("e1", "d1", "  "))
}
