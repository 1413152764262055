// Package s3 provides an AWS SDK v2 implementation of filestore.Store that
// works against AWS S3 and S3-compatible services (R2, Spaces, MinIO, …).
package s3

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/koustreak/bucketdesk/internal/filestore"
)

// maxPageSize is the largest page a single ListObjectsV2 call returns.
const maxPageSize = 1000

// Test seams, swapped in unit tests.
var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = s3.NewFromConfig
	newS3PresignClient    = s3.NewPresignClient
)

// objectAPI is the subset of *s3.Client the driver calls.
type objectAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// presignAPI is the subset of *s3.PresignClient the driver calls.
type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Driver is an S3 implementation of filestore.Store.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	api     objectAPI
	presign presignAPI
}

var _ filestore.Store = (*Driver)(nil)

// New builds an S3 client from cfg and verifies cfg.Bucket is reachable.
// Static credentials are used when both keys are set; otherwise the default
// AWS credential chain applies.
func New(ctx context.Context, cfg *filestore.Config) (*Driver, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loaders := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, loaders...)
	if err != nil {
		return nil, mapError(err, "failed to load aws config")
	}

	endpoint := endpointURL(cfg)
	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	d := NewWithClient(client, newS3PresignClient(client))
	if err := d.Ping(ctx, cfg.Bucket); err != nil {
		return nil, err
	}
	return d, nil
}

// NewWithClient wires a Driver around already-built clients.
func NewWithClient(api objectAPI, presign presignAPI) *Driver {
	return &Driver{api: api, presign: presign}
}

// endpointURL turns a bare host:port into a URL honouring UseSSL.
func endpointURL(cfg *filestore.Config) string {
	ep := strings.TrimSpace(cfg.Endpoint)
	if ep == "" {
		return ""
	}
	if strings.HasPrefix(ep, "http://") || strings.HasPrefix(ep, "https://") {
		return ep
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, strings.TrimPrefix(ep, "//"))
}

// --- filestore.Store implementation ---

// Ping issues HeadBucket, which fails when the bucket is missing or the
// credentials cannot access it.
func (d *Driver) Ping(ctx context.Context, bucket string) error {
	if _, err := d.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return mapError(err, fmt.Sprintf("cannot access bucket %q", bucket))
	}
	return nil
}

// Close is a no-op; the SDK client pools connections through net/http.
func (d *Driver) Close() error {
	return nil
}

// ListObjects issues a single ListObjectsV2 request. Results beyond one
// page are not fetched.
func (d *Driver) ListObjects(ctx context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	pageSize := maxPageSize
	if opts.Limit > 0 && opts.Limit < pageSize {
		pageSize = opts.Limit
	}

	out, err := d.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(opts.Prefix),
		MaxKeys: aws.Int32(int32(pageSize)),
	})
	if err != nil {
		return nil, mapError(err, "failed to list objects")
	}

	results := make([]filestore.ObjectInfo, 0, len(out.Contents))
	for _, obj := range out.Contents {
		results = append(results, filestore.ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	return results, nil
}

// PutObject uploads r to key inside bucket.
func (d *Driver) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts filestore.PutOptions) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}

	if _, err := d.api.PutObject(ctx, in); err != nil {
		return mapError(err, "failed to put object")
	}
	return nil
}

// DeleteObject removes the object at key inside bucket.
func (d *Driver) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := d.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapError(err, "failed to delete object")
	}
	return nil
}

// PresignGetURL returns a time-limited GET URL for the object.
func (d *Driver) PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	req, err := d.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", mapError(err, "failed to generate presigned URL")
	}
	return req.URL, nil
}
