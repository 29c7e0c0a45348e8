package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-xray-sdk-go/instrumentation/awsv2"
)

// StorageService is the gateway to durable artifact storage. Uploads have
// overwrite semantics.
type StorageService interface {
	UploadFile(ctx context.Context, localPath, key string) error
	DownloadFile(ctx context.Context, key, localPath string) error
}

// LocalStorageService implements StorageService on the local filesystem,
// used in development and tests
type LocalStorageService struct {
	basePath string
}

func NewLocalStorageService(basePath string) (*LocalStorageService, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, err
	}
	return &LocalStorageService{basePath: basePath}, nil
}

func (s *LocalStorageService) UploadFile(ctx context.Context, localPath, key string) error {
	destPath := filepath.Join(s.basePath, key)
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}
	return copyFile(localPath, destPath)
}

func (s *LocalStorageService) DownloadFile(ctx context.Context, key, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	return copyFile(filepath.Join(s.basePath, key), localPath)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// S3StorageService implements StorageService against any S3-compatible
// endpoint (AWS, GCS interop, MinIO)
type S3StorageService struct {
	client *s3.Client
	bucket string
}

func NewS3StorageService(ctx context.Context, endpoint, accessKey, secretKey, region, bucket string) (*S3StorageService, error) {
	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if accessKey != "" {
		loadOptions = append(loadOptions,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, err
	}

	// Instrument AWS SDK v2 with X-Ray for automatic S3 operation tracing
	awsv2.AWSV2Instrumentor(&cfg.APIOptions)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			// custom endpoints generally don't support virtual-hosted buckets
			o.UsePathStyle = true
		}
	})

	svc := &S3StorageService{client: client, bucket: bucket}
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("storage bucket %s not reachable: %w", bucket, err)
	}
	return svc, nil
}

func (s *S3StorageService) UploadFile(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	return err
}

func (s *S3StorageService) DownloadFile(ctx context.Context, key, localPath string) error {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer output.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	out, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, output.Body)
	return err
}

// NewStorageService creates the appropriate storage backend based on environment
func NewStorageService(ctx context.Context, storageType, pathOrEndpoint, accessKey, secretKey, region, bucket string) (StorageService, error) {
	switch storageType {
	case "s3":
		return NewS3StorageService(ctx, pathOrEndpoint, accessKey, secretKey, region, bucket)
	case "local":
		return NewLocalStorageService(pathOrEndpoint)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", storageType)
	}
}

// ResultKey derives the storage key for one synced result file. Consumers
// construct the same path independently, so the format is fixed:
// results/<dataset_id>/<workflow_name lowercased>/<invocation_id>_<artifact_id><.ext>
func ResultKey(datasetID int64, workflowName, invocationID, artifactID, fileExt string) string {
	if fileExt != "" && !strings.HasPrefix(fileExt, ".") {
		fileExt = "." + fileExt
	}
	return fmt.Sprintf("results/%d/%s/%s_%s%s", datasetID, strings.ToLower(workflowName), invocationID, artifactID, fileExt)
}
