package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/hotdata-dev/rivetdb/internal/config"
)

// S3Store is the object-storage Blob Store backend, built on the same AWS
// SDK v2 surface (aws-sdk-go-v2/config, .../service/s3, .../feature/s3/manager)
// already required by the teacher's common/go.mod AwsConfig wiring.
type S3Store struct {
	client     *s3.Client
	uploader   *manager.Uploader
	bucket     string
	stagingDir string
}

func newS3Store(cfg *config.Config) (Store, error) {
	ctx := context.Background()
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Aws.Region),
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Aws.S3Endpoint != "" {
			o.BaseEndpoint = &cfg.Aws.S3Endpoint
		}
	})

	stagingDir := cfg.BlobRoot
	if stagingDir == "" {
		stagingDir = os.TempDir()
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating local staging dir %q: %w", stagingDir, err)
	}

	return &S3Store{
		client:     client,
		uploader:   manager.NewUploader(client),
		bucket:     cfg.Aws.S3Bucket,
		stagingDir: stagingDir,
	}, nil
}

func (s *S3Store) stagingPath() string {
	return s.stagingDir + "/" + uuid.NewString() + ".parquet"
}

func (s *S3Store) PrepareWrite(ctx context.Context, connectionID int64, schema, table string) (Handle, error) {
	return Handle{
		LocalPath: s.stagingPath(),
		finalURL:  s.urlFor(artifactPath(connectionID, schema, table, false)),
	}, nil
}

func (s *S3Store) PrepareVersionedWrite(ctx context.Context, connectionID int64, schema, table string) (Handle, error) {
	return Handle{
		LocalPath: s.stagingPath(),
		finalURL:  s.urlFor(artifactPath(connectionID, schema, table, true)),
	}, nil
}

func (s *S3Store) urlFor(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

func (s *S3Store) keyFromURL(url string) (string, error) {
	prefix := "s3://" + s.bucket + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", fmt.Errorf("URL %q is not under bucket %q", url, s.bucket)
	}
	return strings.TrimPrefix(url, prefix), nil
}

// Finalize uploads the staged local file to S3 under the handle's key and
// removes the staging file (spec.md §4.2: "finalize may upload from the
// local staging file").
func (s *S3Store) Finalize(ctx context.Context, h Handle) (string, error) {
	key, err := s.keyFromURL(h.finalURL)
	if err != nil {
		return "", err
	}

	f, err := os.Open(h.LocalPath)
	if err != nil {
		return "", fmt.Errorf("opening staged artifact: %w", err)
	}
	defer f.Close()
	defer os.Remove(h.LocalPath)

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("uploading artifact to s3://%s/%s: %w", s.bucket, key, err)
	}
	return h.finalURL, nil
}

func (s *S3Store) Delete(ctx context.Context, url string) error {
	key, err := s.keyFromURL(url)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return fmt.Errorf("deleting %q: %w", url, err)
	}
	return nil
}

func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) error {
	var continuationToken *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return fmt.Errorf("listing prefix %q: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: obj.Key}); err != nil {
				return fmt.Errorf("deleting %q: %w", *obj.Key, err)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}
	return nil
}

func (s *S3Store) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	var urls []string
	var continuationToken *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing prefix %q: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			urls = append(urls, s.urlFor(*obj.Key))
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}
	return urls, nil
}

