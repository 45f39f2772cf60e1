package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"slate/internal/config"
	"slate/internal/logging"
	"slate/internal/services"
)

// capturePrefix is the object key prefix for delivered capture binaries.
const capturePrefix = "captures"

// s3Transport stores capture binaries in S3. Objects are keyed by artifact
// ID, so re-putting after a failed attempt overwrites the same object and
// the transport stays idempotent without offset bookkeeping.
type s3Transport struct {
	uploader *manager.Uploader
	region   string
	bucket   string
	logger   *slog.Logger
}

func newS3Transport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*s3Transport, error) {
	region := strings.TrimSpace(cfg.Ledger.S3Region)
	bucket := strings.TrimSpace(cfg.Ledger.S3Bucket)
	if region == "" || bucket == "" {
		return nil, fmt.Errorf("s3 binary backend requires s3_region and s3_bucket")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	accessKey := strings.TrimSpace(cfg.Ledger.S3AccessKeyID)
	secretKey := strings.TrimSpace(cfg.Ledger.S3SecretAccessKey)
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024 // 5MB parts for streaming
	})

	return &s3Transport{
		uploader: uploader,
		region:   region,
		bucket:   bucket,
		logger:   logging.NewComponentLogger(logger, "ledger.s3"),
	}, nil
}

// Put streams the payload to S3 and returns the object URL as the remote
// reference.
func (t *s3Transport) Put(ctx context.Context, put BinaryPut) (string, error) {
	key := captureKey(put.ArtifactID, put.MimeType)
	reader := &countingReader{r: put.Body, progress: put.Progress}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(t.bucket),
		Key:         aws.String(key),
		Body:        reader,
		ContentType: aws.String(put.MimeType),
	}
	if _, err := t.uploader.Upload(ctx, input); err != nil {
		return "", services.Wrap(services.ErrTransport, "ledger", "put binary", "s3 upload failed", err)
	}

	t.logger.Info("binary stored",
		logging.String(logging.FieldArtifactID, put.ArtifactID),
		logging.String("bucket", t.bucket),
		logging.String("key", key),
	)
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", t.bucket, t.region, key), nil
}

// captureKey returns the S3 object key: captures/{artifact_id}.{ext}.
func captureKey(artifactID, mimeType string) string {
	ext := ".webm"
	if strings.Contains(mimeType, "mp4") {
		ext = ".mp4"
	}
	return path.Join(capturePrefix, artifactID+ext)
}
