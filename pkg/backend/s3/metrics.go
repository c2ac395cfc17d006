package s3

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Metrics receives one observation per S3 API call. Implementations must
// be safe for concurrent use.
type Metrics interface {
	// ObserveOperation records a completed call. bytes is the payload
	// moved by GetObject and PutObject, zero otherwise.
	ObserveOperation(operation string, duration time.Duration, bytes int64, err error)
}

// Instrument wraps newClient (NewClient when nil) so every client it
// builds reports its calls to m. A nil m returns newClient unchanged.
func Instrument(newClient ClientFactory, m Metrics) ClientFactory {
	if newClient == nil {
		newClient = NewClient
	}
	if m == nil {
		return newClient
	}
	return func(ctx context.Context, cfg Config) (API, error) {
		api, err := newClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &instrumentedAPI{api: api, metrics: m}, nil
	}
}

type instrumentedAPI struct {
	api     API
	metrics Metrics
}

func (i *instrumentedAPI) observe(op string, start time.Time, bytes int64, err error) {
	i.metrics.ObserveOperation(op, time.Since(start), bytes, err)
}

func (i *instrumentedAPI) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	start := time.Now()
	out, err := i.api.GetObject(ctx, params, optFns...)
	var n int64
	if out != nil {
		n = aws.ToInt64(out.ContentLength)
	}
	i.observe("GetObject", start, n, err)
	return out, err
}

func (i *instrumentedAPI) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	start := time.Now()
	out, err := i.api.HeadObject(ctx, params, optFns...)
	i.observe("HeadObject", start, 0, err)
	return out, err
}

func (i *instrumentedAPI) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	start := time.Now()
	out, err := i.api.ListObjectsV2(ctx, params, optFns...)
	i.observe("ListObjectsV2", start, 0, err)
	return out, err
}

func (i *instrumentedAPI) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	start := time.Now()
	out, err := i.api.HeadBucket(ctx, params, optFns...)
	i.observe("HeadBucket", start, 0, err)
	return out, err
}

func (i *instrumentedAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	start := time.Now()
	out, err := i.api.PutObject(ctx, params, optFns...)
	i.observe("PutObject", start, aws.ToInt64(params.ContentLength), err)
	return out, err
}

func (i *instrumentedAPI) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	start := time.Now()
	out, err := i.api.CopyObject(ctx, params, optFns...)
	i.observe("CopyObject", start, 0, err)
	return out, err
}

func (i *instrumentedAPI) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	start := time.Now()
	out, err := i.api.DeleteObject(ctx, params, optFns...)
	i.observe("DeleteObject", start, 0, err)
	return out, err
}
