package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/copperd/piper/piper"
)

// S3 is an aws-sdk-go-backed piper.ObjectStore. GetObjectStream issues an
// independent whole-object GetObject per call (no Range is set), which is
// what makes fan-out over a remote blob free (spec.md §9): every consumer
// opens its own read against the same bucket/key, with no coordination
// needed between them.
type S3 struct {
	client *s3.S3
}

// NewS3 builds an S3 adapter from an AWS session.
func NewS3(sess *session.Session) *S3 {
	return &S3{client: s3.New(sess)}
}

func (a *S3) GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := a.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: s3 GetObject %s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

func (a *S3) CreateMultipartUpload(ctx context.Context, bucket, key, mime string) (piper.MultipartUpload, error) {
	out, err := a.client.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(mime),
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: s3 CreateMultipartUpload %s/%s: %w", bucket, key, err)
	}
	return &s3Upload{client: a.client, bucket: bucket, key: key, uploadID: aws.StringValue(out.UploadId)}, nil
}

type s3Upload struct {
	client   *s3.S3
	bucket   string
	key      string
	uploadID string

	mu    sync.Mutex
	parts []*s3.CompletedPart
	n     int
}

func (u *s3Upload) UploadPart(ctx context.Context, data []byte, partIndex1Based int) error {
	out, err := u.client.UploadPartWithContext(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(u.bucket),
		Key:        aws.String(u.key),
		UploadId:   aws.String(u.uploadID),
		PartNumber: aws.Int64(int64(partIndex1Based)),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("objectstore: s3 UploadPart %d: %w", partIndex1Based, err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.parts = append(u.parts, &s3.CompletedPart{ETag: out.ETag, PartNumber: aws.Int64(int64(partIndex1Based))})
	u.n++
	return nil
}

func (u *s3Upload) Finish(ctx context.Context) (string, string, error) {
	u.mu.Lock()
	parts := append([]*s3.CompletedPart(nil), u.parts...)
	u.mu.Unlock()

	sortCompletedParts(parts)

	_, err := u.client.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.bucket),
		Key:             aws.String(u.key),
		UploadId:        aws.String(u.uploadID),
		MultipartUpload: &s3.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return "", "", fmt.Errorf("objectstore: s3 CompleteMultipartUpload: %w", err)
	}
	return u.bucket, u.key, nil
}

func (u *s3Upload) Cancel(ctx context.Context) error {
	_, err := u.client.AbortMultipartUploadWithContext(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(u.uploadID),
	})
	if err != nil {
		return fmt.Errorf("objectstore: s3 AbortMultipartUpload: %w", err)
	}
	return nil
}

func (u *s3Upload) NCompletedParts() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.n
}

func sortCompletedParts(parts []*s3.CompletedPart) {
	for i := 1; i < len(parts); i++ {
		for j := i; j > 0 && aws.Int64Value(parts[j-1].PartNumber) > aws.Int64Value(parts[j].PartNumber); j-- {
			parts[j-1], parts[j] = parts[j], parts[j-1]
		}
	}
}
