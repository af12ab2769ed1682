package artifacts

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeString(s string) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestModelNaming(t *testing.T) {
	name, err := ModelFileName("1.6")
	require.NoError(t, err)
	assert.Equal(t, "model_cnn_lstm_v1_6.gob", name)

	display, err := ModelName("1.6")
	require.NoError(t, err)
	assert.Equal(t, "model_cnn_lstm_v1_6", display)

	v, ok := VersionFromName("model_cnn_lstm_v1_6")
	assert.True(t, ok)
	assert.Equal(t, "1.6", v)

	v, ok = VersionFromName("model_cnn_lstm_v2_10.gob")
	assert.True(t, ok)
	assert.Equal(t, "2.10", v)

	_, ok = VersionFromName("model.h5")
	assert.False(t, ok)

	_, err = ModelFileName("1")
	assert.Error(t, err)
}

func TestLocalStoreStageCommit(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	staged, err := store.Stage(ctx, "m.gob", writeString("weights"))
	require.NoError(t, err)

	exists, err := store.Exists(ctx, "m.gob")
	require.NoError(t, err)
	assert.False(t, exists, "staged artifact must not be visible")

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, staged.Commit(ctx))
	rc, err := store.Open(ctx, "m.gob")
	require.NoError(t, err)
	assert.Equal(t, "weights", readAll(t, rc))

	again, err := store.Stage(ctx, "m.gob", writeString("other"))
	require.NoError(t, err)
	assert.Error(t, again.Commit(ctx), "commit must not overwrite")
	require.NoError(t, again.Discard())

	names, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m.gob"}, names)
}

func TestLocalStoreDiscardAndMissing(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	staged, err := store.Stage(ctx, "m.gob", writeString("x"))
	require.NoError(t, err)
	require.NoError(t, staged.Discard())

	_, err = store.Open(ctx, "m.gob")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "m.gob"), ErrNotFound)

	_, err = store.Stage(ctx, "../escape", writeString("x"))
	assert.Error(t, err)
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store, err := NewS3Store(fake, "bucket", "models")
	require.NoError(t, err)

	staged, err := store.Stage(ctx, "model_cnn_lstm_v1_1.gob", writeString("w"))
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/models/model_cnn_lstm_v1_1.gob", staged.Location())
	assert.Empty(t, fake.objects)

	require.NoError(t, staged.Commit(ctx))
	assert.Contains(t, fake.objects, "models/model_cnn_lstm_v1_1.gob")

	exists, err := store.Exists(ctx, "model_cnn_lstm_v1_1.gob")
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := store.Open(ctx, "model_cnn_lstm_v1_1.gob")
	require.NoError(t, err)
	assert.Equal(t, "w", readAll(t, rc))

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"model_cnn_lstm_v1_1.gob"}, names)

	_, err = store.Open(ctx, "missing.gob")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewS3Store(fake, "", "")
	assert.Error(t, err)
}
