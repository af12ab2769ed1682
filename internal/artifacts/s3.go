package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3API подмножество клиента S3, которое использует хранилище
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store артефакты в бакете под префиксом
type S3Store struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Client клиент из стандартной цепочки AWS (переменные окружения, профиль)
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	return s3.New(s3.Options{
		Region:       cfg.Region,
		Credentials:  cfg.Credentials,
		HTTPClient:   cfg.HTTPClient,
		BaseEndpoint: cfg.BaseEndpoint,
		UsePathStyle: true,
	}), nil
}

func NewS3Store(client s3API, bucket, prefix string) (*S3Store, error) {
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *S3Store) key(name string) string { return s.prefix + name }

func (s *S3Store) Stage(ctx context.Context, name string, write func(io.Writer) error) (Staged, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return nil, err
	}
	return &s3Staged{store: s, name: name, data: buf.Bytes()}, nil
}

// s3Staged держит артефакт в памяти до Commit
type s3Staged struct {
	store *S3Store
	name  string
	data  []byte
}

func (st *s3Staged) Name() string { return st.name }

func (st *s3Staged) Location() string {
	return fmt.Sprintf("s3://%s/%s", st.store.bucket, st.store.key(st.name))
}

func (st *s3Staged) Commit(ctx context.Context) error {
	if st.data == nil {
		return errors.New("artifact already committed or discarded")
	}
	_, err := st.store.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(st.store.bucket),
		Key:         aws.String(st.store.key(st.name)),
		Body:        bytes.NewReader(st.data),
		ContentType: aws.String("application/octet-stream"),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("upload artifact %s: %w", st.name, err)
	}
	st.data = nil
	return nil
}

func (st *s3Staged) Discard() error {
	st.data = nil
	return nil
}

func (s *S3Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return out.Body, nil
}

func (s *S3Store) Exists(ctx context.Context, name string) (bool, error) {
	if err := validName(name); err != nil {
		return false, err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3Store) Delete(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	return err
}

func (s *S3Store) List(ctx context.Context) ([]string, error) {
	var names []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			if name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix); name != "" && !strings.Contains(name, "/") {
				names = append(names, name)
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Strings(names)
	return names, nil
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
