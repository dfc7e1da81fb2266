package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Store keeps attachments in an S3-compatible bucket.
type S3Store struct {
	client *s3.S3
}

func NewS3Store(region, endpoint, accessKey, secretKey string) (*S3Store, error) {
	cfg := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewStaticCredentials(accessKey, secretKey, ""),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("create s3 session: %w", err)
	}
	return &S3Store{client: s3.New(sess)}, nil
}

func (s *S3Store) Upload(ctx context.Context, bucket, p, contentType string, data []byte) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(p),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 upload %s: %w", p, err)
	}
	return nil
}

func (s *S3Store) Remove(ctx context.Context, bucket string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	objects := make([]*s3.ObjectIdentifier, 0, len(paths))
	for _, p := range paths {
		objects = append(objects, &s3.ObjectIdentifier{Key: aws.String(p)})
	}

	out, err := s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(bucket),
		Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("s3 delete: %w", err)
	}
	if len(out.Errors) > 0 {
		first := out.Errors[0]
		return fmt.Errorf("s3 delete %s: %s", aws.StringValue(first.Key), aws.StringValue(first.Message))
	}
	return nil
}

// CreateSignedURL presigns a GET locally; no request is sent to S3.
func (s *S3Store) CreateSignedURL(_ context.Context, bucket, p string, ttl time.Duration) (string, error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(p),
	})
	signed, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("s3 presign %s: %w", p, err)
	}
	return signed, nil
}
