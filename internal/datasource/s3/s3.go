// Package s3 is the datasource.Store for s3://bucket/key references.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"stardim/internal/datasource"
)

// API is the subset of *s3.Client used here.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store reads and writes S3 objects.
type Store struct {
	Client API
	// ContentType is set on created objects.
	ContentType string
}

var _ datasource.Store = (*Store)(nil)

// New builds a Store from the default AWS credential chain.
func New(ctx context.Context) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Store{Client: s3.NewFromConfig(cfg), ContentType: "text/csv"}, nil
}

// ParseRef splits s3://bucket/key into bucket and key.
func ParseRef(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(ref, "s3://")
	if !ok {
		if rest, ok = strings.CutPrefix(ref, "S3://"); !ok {
			return "", "", fmt.Errorf("not an s3 reference: %q", ref)
		}
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 reference needs bucket and key: %q", ref)
	}
	return bucket, key, nil
}

// Open implements datasource.Store.
func (s *Store) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	bucket, key, err := ParseRef(ref)
	if err != nil {
		return nil, datasource.NotFound(ref, err)
	}
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, datasource.NotFound(ref, err)
		}
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	return out.Body, nil
}

// Create implements datasource.Store. The object is buffered in memory and
// uploaded on Close.
func (s *Store) Create(ctx context.Context, ref string) (io.WriteCloser, error) {
	bucket, key, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	return &objectWriter{ctx: ctx, s: s, ref: ref, bucket: bucket, key: key}, nil
}

type objectWriter struct {
	ctx         context.Context
	s           *Store
	ref         string
	bucket, key string
	buf         bytes.Buffer
	closed      bool
}

func (w *objectWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write %s: closed", w.ref)
	}
	return w.buf.Write(p)
}

func (w *objectWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	in := &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(w.key),
		Body:   bytes.NewReader(w.buf.Bytes()),
	}
	if w.s.ContentType != "" {
		in.ContentType = aws.String(w.s.ContentType)
	}
	if _, err := w.s.Client.PutObject(w.ctx, in); err != nil {
		return fmt.Errorf("put %s: %w", w.ref, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		switch coded.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound", "AccessDenied":
			return true
		}
	}
	return false
}
