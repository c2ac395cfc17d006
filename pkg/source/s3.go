package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/dittomount/internal/ratelimiter"
	"github.com/marmos91/dittomount/pkg/vfs"
)

// S3ObjectAPI is the subset of the S3 client an S3Object needs.
type S3ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Object is a Source over one S3 object, read with ranged GetObject
// requests.
type S3Object struct {
	client  S3ObjectAPI
	bucket  string
	key     string
	size    int64
	limiter *ratelimiter.RateLimiter
}

// OpenS3Object learns the object size with HeadObject.
func OpenS3Object(ctx context.Context, client S3ObjectAPI, bucket, key string, limiter *ratelimiter.RateLimiter) (*S3Object, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}
	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("head s3://%s/%s: %w", bucket, key, S3Error(err))
	}
	var size int64
	if head.ContentLength != nil {
		size = *head.ContentLength
	}
	return NewS3Object(client, bucket, key, size, limiter), nil
}

// NewS3Object builds a source for an object whose size is already known,
// for example from a listing.
func NewS3Object(client S3ObjectAPI, bucket, key string, size int64, limiter *ratelimiter.RateLimiter) *S3Object {
	return &S3Object{client: client, bucket: bucket, key: key, size: size, limiter: limiter}
}

func (o *S3Object) Size() int64 { return o.size }

func (o *S3Object) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: %w", off, vfs.ErrInvalidArgument)
	}
	if off >= o.size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > o.size {
		want = o.size - off
	}
	if want == 0 {
		return 0, nil
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	result, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+want-1)),
	})
	if err != nil {
		return 0, fmt.Errorf("get s3://%s/%s: %w", o.bucket, o.key, S3Error(err))
	}
	defer func() { _ = result.Body.Close() }()

	n, err := io.ReadFull(result.Body, p[:want])
	if err != nil {
		return n, fmt.Errorf("read s3://%s/%s: %w", o.bucket, o.key, errors.Join(vfs.ErrIO, err))
	}
	if int64(len(p)) > want {
		return n, io.EOF
	}
	return n, nil
}

// S3Error classifies an S3 API error into the vfs taxonomy while keeping
// the original error in the chain.
func S3Error(err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &notFound) || errors.As(err, &noBucket) {
		return errors.Join(vfs.ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return errors.Join(vfs.ErrNotFound, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return errors.Join(vfs.ErrPermission, err)
		case "InvalidRange":
			return errors.Join(vfs.ErrInvalidArgument, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Join(vfs.ErrIO, err)
}
