package s3

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/metrics/smithyotelmetrics"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds the connection settings of an S3 compatible server.
type Config struct {
	Endpoint   string `json:"endpoint" validate:"omitempty,url"`
	BucketName string `json:"bucketName" validate:"required"`
	Region     string `json:"region" validate:"required"`
	AccessKey  string `json:"accessKey" validate:"required"`
	SecretKey  string `json:"secretKey" validate:"required"`

	// UsePathStyle addresses buckets as <endpoint>/<bucket>, required by MinIO
	UsePathStyle bool `json:"usePathStyle"`
}

// Validate checks the configuration.
func (c Config) Validate(ctx context.Context) error {
	return validate.StructCtx(ctx, c)
}

// NewAPI builds an S3 client reporting its metrics to the global
// OpenTelemetry meter provider.
func (c Config) NewAPI() *awss3.Client {
	s3Options := awss3.Options{
		Region: c.Region,
		Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     c.AccessKey,
				SecretAccessKey: c.SecretKey,
			}, nil
		}),
		UsePathStyle:  c.UsePathStyle,
		MeterProvider: smithyotelmetrics.Adapt(otel.GetMeterProvider()),
	}
	if c.Endpoint != "" {
		s3Options.BaseEndpoint = aws.String(c.Endpoint)
	}
	return awss3.New(s3Options)
}

// GetURI returns <host>/<bucket>, without scheme and credentials.
func (c Config) GetURI() string {
	endpoint := c.Endpoint
	for _, scheme := range []string{"https", "http"} {
		endpoint = strings.TrimPrefix(endpoint, scheme+"://")
	}
	if endpoint == "" {
		endpoint = fmt.Sprintf("s3.%s.amazonaws.com", c.Region)
	}
	return fmt.Sprintf("%s/%s", endpoint, c.BucketName)
}
