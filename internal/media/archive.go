// Package media archives profile pictures received through the gateway, whose
// download links expire, into S3 and hands out presigned links for delivery.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/matchbot/internal/config"
)

const (
	refScheme      = "s3://"
	keyPrefix      = "profile-pics/"
	maxPictureSize = 5 << 20
)

// Archive stores pictures and resolves stored references to fetchable URLs.
type Archive interface {
	Store(ctx context.Context, userID, sourceURL string) (string, error)
	URL(ctx context.Context, ref string) (string, error)
}

// Passthrough keeps the gateway URL as the reference. Used when no bucket is configured.
type Passthrough struct{}

func (Passthrough) Store(ctx context.Context, userID, sourceURL string) (string, error) {
	return sourceURL, nil
}

func (Passthrough) URL(ctx context.Context, ref string) (string, error) {
	return ref, nil
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Archive copies pictures into a bucket.
type S3Archive struct {
	bucket    string
	putter    objectPutter
	presigner objectPresigner
	ttl       time.Duration
	fetch     func(ctx context.Context, url string) ([]byte, error)
	now       func() time.Time
}

// New returns an S3 archive when a bucket is configured, otherwise Passthrough.
func New(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Archive, error) {
	if cfg.Bucket == "" {
		logger.Warn("S3_BUCKET_NAME not set; profile pictures keep gateway links")
		return Passthrough{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	logger.Info("archiving pictures to s3", zap.String("bucket", cfg.Bucket), zap.String("region", cfg.Region))
	return newS3Archive(cfg.Bucket, client, s3.NewPresignClient(client), cfg.PresignTTL()), nil
}

func newS3Archive(bucket string, putter objectPutter, presigner objectPresigner, ttl time.Duration) *S3Archive {
	return &S3Archive{
		bucket:    bucket,
		putter:    putter,
		presigner: presigner,
		ttl:       ttl,
		fetch:     download,
		now:       time.Now,
	}
}

// Store downloads sourceURL and uploads it, returning an s3:// reference.
func (a *S3Archive) Store(ctx context.Context, userID, sourceURL string) (string, error) {
	data, err := a.fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("media: %s is not an image", contentType)
	}

	key := fmt.Sprintf("%s%s/%s%s", keyPrefix, userID, a.now().UTC().Format("20060102150405"), extension(contentType))
	_, err = a.putter.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("media: put %s: %w", key, err)
	}
	return refScheme + a.bucket + "/" + key, nil
}

// URL presigns archived references and passes other references through.
func (a *S3Archive) URL(ctx context.Context, ref string) (string, error) {
	if !strings.HasPrefix(ref, refScheme) {
		return ref, nil
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(ref, refScheme), "/")
	if !ok || key == "" {
		return "", fmt.Errorf("media: malformed reference %q", ref)
	}
	req, err := a.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(a.ttl))
	if err != nil {
		return "", fmt.Errorf("media: presign %s: %w", key, err)
	}
	return req.URL, nil
}

func download(ctx context.Context, url string) ([]byte, error) {
	agent := fiber.Get(url)
	agent.Timeout(15 * time.Second)
	agent.MaxRedirectsCount(3)
	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("media: download: %w", errors.Join(errs...))
	}
	if status != fiber.StatusOK {
		return nil, fmt.Errorf("media: download: http %d", status)
	}
	if len(body) > maxPictureSize {
		return nil, fmt.Errorf("media: picture exceeds %d bytes", maxPictureSize)
	}
	return body, nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
