// Package blobstore archives room state as objects in an S3 compatible
// bucket.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const contentType = "application/cbor"

// S3API is the subset of *s3.Client the archive uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Options configures a client built by New.
type Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// S3Archive stores one object per room under prefix. It implements
// room.Archive.
type S3Archive struct {
	client S3API
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Archive wraps an existing client.
func NewS3Archive(client S3API, bucket, prefix string, logger *slog.Logger) *S3Archive {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Archive{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

// New builds an S3 client from opts. Without static keys requests are sent
// unsigned, which suits local gateways that allow anonymous access.
func New(opts Options, logger *slog.Logger) *S3Archive {
	s3opts := s3.Options{
		Region:       opts.Region,
		UsePathStyle: opts.PathStyle,
		Credentials:  aws.AnonymousCredentials{},
	}
	if opts.Endpoint != "" {
		s3opts.BaseEndpoint = aws.String(opts.Endpoint)
	}
	if opts.AccessKeyID != "" {
		s3opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     opts.AccessKeyID,
					SecretAccessKey: opts.SecretAccessKey,
					Source:          "easel config",
				}, nil
			}))
	}
	return NewS3Archive(s3.New(s3opts), opts.Bucket, opts.Prefix, logger)
}

func (a *S3Archive) key(roomID string) string {
	return a.prefix + roomID + ".cbor"
}

func (a *S3Archive) SaveState(ctx context.Context, roomID string, state []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.key(roomID)),
		Body:        bytes.NewReader(state),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			// user metadata must be ASCII; room ids are not
			"room-id":     url.QueryEscape(roomID),
			"archived-at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", roomID, err)
	}
	a.logger.Debug("room archived to s3", "room_id", roomID, "bytes", len(state))
	return nil
}

// LoadState returns (nil, nil) when the room has no object.
func (a *S3Archive) LoadState(ctx context.Context, roomID string) ([]byte, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(roomID)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3 get %s: %w", roomID, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", roomID, err)
	}
	return data, nil
}

func (a *S3Archive) DeleteState(ctx context.Context, roomID string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(roomID)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3 delete %s: %w", roomID, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
