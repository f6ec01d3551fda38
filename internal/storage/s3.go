// Package storage keeps rendered trace graphs in an S3 compatible bucket and
// hands out presigned download links for them.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/OFFIS-RIT/reqtrace/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	ArtifactPrefix        = "traces"
	DefaultPresignExpires = 15 * time.Minute
)

var ErrNotConfigured = errors.New("artifact storage is not configured")

// ArtifactStore is a bucket of rendered artifacts.
//
// PublicEndpoint, when set, is the externally reachable base url used for
// presigned links; a path on it is kept as prefix of the signed url path.
type ArtifactStore struct {
	Client         *s3.Client
	Bucket         string
	PublicEndpoint string
	Expires        time.Duration
}

func NewS3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(util.GetEnvString("AWS_REGION", "us-east-1")),
		config.WithBaseEndpoint(util.GetEnv("AWS_ENDPOINT")),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			util.GetEnv("AWS_ACCESS_KEY"),
			util.GetEnv("AWS_SECRET_KEY"),
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// NewArtifactStoreFromEnv returns nil without error when AWS_BUCKET is unset;
// exports are then unavailable.
func NewArtifactStoreFromEnv(ctx context.Context) (*ArtifactStore, error) {
	bucket := util.GetEnv("AWS_BUCKET")
	if bucket == "" {
		return nil, nil
	}
	client, err := NewS3Client(ctx)
	if err != nil {
		return nil, err
	}
	return &ArtifactStore{
		Client:         client,
		Bucket:         bucket,
		PublicEndpoint: util.GetEnv("AWS_PUBLIC_ENDPOINT"),
		Expires:        util.GetEnvDuration("AWS_PRESIGN_EXPIRES", DefaultPresignExpires),
	}, nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ArtifactKey is the object key of a rendered trace graph.
func ArtifactKey(modelID int64, customerReqID, platformReqID, ext string) string {
	part := func(s string) string {
		s = unsafeKeyChars.ReplaceAllString(strings.TrimSpace(s), "_")
		if s == "" {
			return "_"
		}
		return s
	}
	return fmt.Sprintf("%s/%d/%s__%s.%s", ArtifactPrefix, modelID, part(customerReqID), part(platformReqID), ext)
}

// ModelPrefix is the key prefix of all artifacts of one model.
func ModelPrefix(modelID int64) string {
	return fmt.Sprintf("%s/%d/", ArtifactPrefix, modelID)
}

func (s *ArtifactStore) PutArtifact(ctx context.Context, key, contentType string, data []byte) error {
	if s == nil || s.Client == nil {
		return ErrNotConfigured
	}
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload artifact to S3: %w", err)
	}
	return nil
}

func (s *ArtifactStore) DownloadLink(ctx context.Context, key string) (string, error) {
	if s == nil || s.Client == nil {
		return "", ErrNotConfigured
	}
	expires := s.Expires
	if expires <= 0 {
		expires = DefaultPresignExpires
	}

	presignClient := s.Client
	prefix := ""
	if s.PublicEndpoint != "" {
		publicURL, err := url.Parse(s.PublicEndpoint)
		if err != nil || publicURL.Scheme == "" || publicURL.Host == "" {
			return "", fmt.Errorf("invalid AWS_PUBLIC_ENDPOINT: %s", s.PublicEndpoint)
		}
		prefix = strings.TrimSuffix(publicURL.Path, "/")

		// The signature covers the Host header, so sign against the public host.
		opts := s.Client.Options()
		presignClient = s3.NewFromConfig(
			aws.Config{
				Region:      opts.Region,
				Credentials: opts.Credentials,
				HTTPClient:  opts.HTTPClient,
			},
			func(o *s3.Options) {
				o.BaseEndpoint = aws.String(publicURL.Scheme + "://" + publicURL.Host)
				o.UsePathStyle = true
			},
		)
	}

	out, err := s3.NewPresignClient(presignClient).PresignGetObject(
		ctx,
		&s3.GetObjectInput{
			Bucket: aws.String(s.Bucket),
			Key:    aws.String(key),
		},
		s3.WithPresignExpires(expires),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate download link: %w", err)
	}

	if prefix == "" {
		return out.URL, nil
	}
	signedURL, err := url.Parse(out.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse presigned url: %w", err)
	}
	signedURL.Path = prefix + signedURL.Path
	return signedURL.String(), nil
}

func (s *ArtifactStore) ListArtifacts(ctx context.Context, prefix string) ([]string, error) {
	if s == nil || s.Client == nil {
		return nil, ErrNotConfigured
	}

	keys := make([]string, 0)
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(prefix),
	}
	for {
		listOutput, err := s.Client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}
		for _, obj := range listOutput.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if listOutput.IsTruncated == nil || !*listOutput.IsTruncated {
			break
		}
		listInput.ContinuationToken = listOutput.NextContinuationToken
	}
	return keys, nil
}

// DeleteArtifacts removes every object under prefix and returns how many
// keys were deleted.
func (s *ArtifactStore) DeleteArtifacts(ctx context.Context, prefix string) (int, error) {
	keys, err := s.ListArtifacts(ctx, prefix)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for start := 0; start < len(keys); start += 1000 {
		end := min(start+1000, len(keys))
		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}
		_, err := s.Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.Bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete objects with prefix %s: %w", prefix, err)
		}
		deleted += len(objects)
	}
	return deleted, nil
}
