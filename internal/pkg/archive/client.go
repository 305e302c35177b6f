package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"

	"github.com/carboncube/tierpay/app/models"
)

// ObjectAPI is the part of the S3 client used for archiving.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Client uploads raw gateway payloads to object storage
type Client struct {
	api    ObjectAPI
	config *Config
}

// NewClient creates a new archive client and checks the bucket
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("archiving is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// S3-compatible stores need path-style URLs
			o.UsePathStyle = true
		}
	})

	if err := ensureBucket(ctx, s3Client, cfg); err != nil {
		return nil, fmt.Errorf("failed to connect to S3: %w", err)
	}

	log.Infof("[Archive] Successfully initialized S3 client for bucket: %s", cfg.BucketName)
	return &Client{api: s3Client, config: cfg}, nil
}

// NewClientWithAPI wraps an existing object API.
func NewClientWithAPI(api ObjectAPI, cfg *Config) *Client {
	return &Client{api: api, config: cfg}
}

func ensureBucket(ctx context.Context, c *s3.Client, cfg *Config) error {
	_, err := c.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.BucketName)})
	if err == nil {
		return nil
	}
	if GetAppEnv() == "prod" {
		return fmt.Errorf("bucket %s not accessible: %w", cfg.BucketName, err)
	}

	log.Warnf("[Archive] Bucket %s not found, attempting to create it", cfg.BucketName)
	input := &s3.CreateBucketInput{Bucket: aws.String(cfg.BucketName)}
	// us-east-1 and custom endpoints reject a location constraint
	if cfg.EndpointURL == "" && cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(cfg.Region),
		}
	}
	if _, err := c.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", cfg.BucketName, err)
	}
	log.Infof("[Archive] Successfully created bucket: %s", cfg.BucketName)
	return nil
}

// UploadEvent stores the raw payload of a gateway event and returns its key.
// Uploading the same event twice overwrites the object with identical bytes.
func (c *Client) UploadEvent(ctx context.Context, event *models.GatewayEvent) (string, error) {
	if event == nil {
		return "", errors.New("nil gateway event")
	}
	key := c.config.ObjectKey(event.Kind, event.ID, event.CreatedAt)
	body := []byte(event.PayloadJSON)

	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.config.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"event-kind":    event.Kind,
			"event-key":     event.EventKey,
			"upload-source": "tierpay-archive",
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload event %d: %w", event.ID, err)
	}

	log.Infof("[Archive] Archived gateway event %d to s3://%s/%s", event.ID, c.config.BucketName, key)
	return key, nil
}

// Exists checks whether an object is already stored
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.config.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object: %w", err)
	}
	return true, nil
}
