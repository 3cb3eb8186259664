package archive

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"pqi-go/internal/pqi"
)

// S3Archive stores export bundles in an S3 bucket under
// <prefix>/exports/<tourID>.json. Uploads go through the transfer manager
// so large bundles stream in parts.
type S3Archive struct {
	name     string
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

var _ pqi.Archive = (*S3Archive)(nil)

// NewS3Archive creates an S3 archive. When accessKeyID/secretAccessKey are
// empty the SDK's default credential chain applies (env, shared config,
// instance role).
func NewS3Archive(ctx context.Context, name, bucket, prefix, region, accessKeyID, secretAccessKey string) (*S3Archive, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3Archive{
		name:     name,
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

func (v *S3Archive) exportKey(tourID string) string {
	return path.Join(v.prefix, "exports", tourID+".json")
}

// PutExport uploads a tour's export bundle, overwriting any previous one.
func (v *S3Archive) PutExport(ctx context.Context, tourID string, r io.Reader, _ int64) error {
	_, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(v.bucket),
		Key:         aws.String(v.exportKey(tourID)),
		Body:        r,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading export to s3: %w", err)
	}
	return nil
}

// GetExport downloads a tour's export bundle and writes it to w.
func (v *S3Archive) GetExport(ctx context.Context, tourID string, w io.Writer) error {
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.exportKey(tourID)),
	})
	if err != nil {
		return fmt.Errorf("downloading export from s3: %w", err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading export body: %w", err)
	}
	return nil
}

// ValidateSetup verifies the bucket is reachable with the configured
// credentials.
func (v *S3Archive) ValidateSetup(ctx context.Context) error {
	_, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(v.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3 bucket %q not accessible: %w", v.bucket, err)
	}
	return nil
}
