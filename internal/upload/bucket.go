package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/animate-mix-cli/internal/config"
	"github.com/fpang/animate-mix-cli/internal/filehandler"
)

// ErrMissingCredentials is returned when the bucket strategy is selected
// without access keys.
var ErrMissingCredentials = errors.New("bucket access key ID and secret are required")

// ObjectAPI is the subset of the S3 client used by BucketUploader.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Presigner creates signed GET URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// BucketUploader uploads to an S3-compatible bucket.
type BucketUploader struct {
	api       ObjectAPI
	presigner Presigner
	bucket    string
	endpoint  string
	prefix    string
	signTTL   time.Duration
	now       func() time.Time
}

// NewBucketUploader builds an S3 client against the configured endpoint
// using static credentials.
func NewBucketUploader(ctx context.Context, cfg config.BucketConfig) (*BucketUploader, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, &Error{Strategy: StrategyBucket, Step: "credentials", Err: ErrMissingCredentials}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, &Error{Strategy: StrategyBucket, Step: "credentials", Err: fmt.Errorf("load config: %w", err)}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpointURL(cfg.Endpoint))
		// OSS rejects the flexible checksum trailers newer SDKs send by default.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	log.Debug().Str("bucket", cfg.Name).Str("endpoint", cfg.Endpoint).Msg("Bucket uploader ready")
	return newBucketUploader(client, s3.NewPresignClient(client), cfg), nil
}

func newBucketUploader(api ObjectAPI, presigner Presigner, cfg config.BucketConfig) *BucketUploader {
	return &BucketUploader{
		api:       api,
		presigner: presigner,
		bucket:    cfg.Name,
		endpoint:  strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://"),
		prefix:    cfg.Prefix,
		signTTL:   cfg.SignURLExpiry,
		now:       time.Now,
	}
}

func endpointURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return "https://" + endpoint
}

// Strategy returns StrategyBucket.
func (u *BucketUploader) Strategy() Strategy {
	return StrategyBucket
}

// ObjectKey returns the remote key for a local file uploaded at t.
// The random suffix keeps two uploads in the same second apart.
func (u *BucketUploader) ObjectKey(localPath string, t time.Time) string {
	return fmt.Sprintf("%s%s_%s_%s", u.prefix, t.Format("20060102_150405"), uuid.NewString()[:8], filepath.Base(localPath))
}

// PublicURL is the unsigned virtual-hosted URL of key.
func (u *BucketUploader) PublicURL(key string) string {
	return fmt.Sprintf("https://%s.%s/%s", u.bucket, u.endpoint, key)
}

// Upload streams localPath to the bucket.
func (u *BucketUploader) Upload(ctx context.Context, localPath string) (*Result, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, &Error{Strategy: StrategyBucket, Step: "open", Path: localPath, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &Error{Strategy: StrategyBucket, Step: "open", Path: localPath, Err: err}
	}

	key := u.ObjectKey(localPath, u.now())
	contentType := filehandler.MIMEType(filepath.Ext(localPath))

	start := time.Now()
	_, err = u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return nil, &Error{Strategy: StrategyBucket, Step: "put", Path: localPath, Err: err}
	}

	url := u.PublicURL(key)
	if u.signTTL > 0 {
		if url, err = u.SignedURL(ctx, key, u.signTTL); err != nil {
			return nil, &Error{Strategy: StrategyBucket, Step: "presign", Path: localPath, Err: err}
		}
	}

	log.Info().
		Str("key", key).
		Str("bucket", u.bucket).
		Int64("size_bytes", info.Size()).
		Dur("duration", time.Since(start)).
		Bool("signed", u.signTTL > 0).
		Msg("File uploaded to bucket")

	return &Result{URL: url, Key: key, Strategy: StrategyBucket}, nil
}

// SignedURL creates a pre-signed GET URL for key valid for expiry.
func (u *BucketUploader) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	result, err := u.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}

// Delete removes a single object.
func (u *BucketUploader) Delete(ctx context.Context, key string) error {
	_, err := u.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &Error{Strategy: StrategyBucket, Step: "delete", Err: fmt.Errorf("%s: %w", key, err)}
	}
	log.Debug().Str("key", key).Msg("Object deleted")
	return nil
}

// CleanupOlderThan deletes objects under the upload prefix last modified
// more than days ago. Individual delete failures are logged and skipped.
func (u *BucketUploader) CleanupOlderThan(ctx context.Context, days int) (int, error) {
	cutoff := u.now().Add(-time.Duration(days) * 24 * time.Hour)
	paginator := s3.NewListObjectsV2Paginator(u.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(u.bucket),
		Prefix: aws.String(u.prefix),
	})

	deleted := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, &Error{Strategy: StrategyBucket, Step: "list", Err: err}
		}
		for _, obj := range page.Contents {
			if obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			key := aws.ToString(obj.Key)
			if err := u.Delete(ctx, key); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Failed to delete old upload")
				continue
			}
			deleted++
		}
	}

	log.Info().Int("deleted", deleted).Int("days", days).Str("prefix", u.prefix).Msg("Bucket cleanup complete")
	return deleted, nil
}
