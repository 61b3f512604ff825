package s3

import (
	"context"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

//go:generate mockgen -destination=mock/s3_api.go -package=mock_s3 . S3API

// S3API is the subset of the S3 client used by Endpoint.
type S3API interface {
	PutObject(ctx context.Context, input *awss3.PutObjectInput, opt ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *awss3.GetObjectInput, opt ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	HeadObject(ctx context.Context, input *awss3.HeadObjectInput, opt ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, input *awss3.DeleteObjectInput, opt ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, input *awss3.CreateMultipartUploadInput, opt ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, input *awss3.UploadPartInput, opt ...func(*awss3.Options)) (*awss3.UploadPartOutput, error)
	ListParts(ctx context.Context, input *awss3.ListPartsInput, opt ...func(*awss3.Options)) (*awss3.ListPartsOutput, error)
	CompleteMultipartUpload(ctx context.Context, input *awss3.CompleteMultipartUploadInput, opt ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, input *awss3.AbortMultipartUploadInput, opt ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error)
}
