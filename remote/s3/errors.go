package s3

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// isAwsError tests whether an error object is an instance of the AWS error
// specified by its type.
func isAwsError[T error](err error) bool {
	var awsErr T
	return errors.As(err, &awsErr)
}

func isAwsErrorCode(err error, code string) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == code
	}
	return false
}

// isNotFound covers HEAD (NotFound) and GET (NoSuchKey) misses, S3
// compatible servers do not always return the typed error.
func isNotFound(err error) bool {
	return isAwsError[*types.NotFound](err) || isAwsError[*types.NoSuchKey](err) ||
		isAwsErrorCode(err, "NotFound") || isAwsErrorCode(err, "NoSuchKey")
}

// isNoSuchUpload also accepts the error code itself, the typed error is not
// always returned (https://github.com/aws/aws-sdk-go-v2/issues/1635).
func isNoSuchUpload(err error) bool {
	return isAwsError[*types.NoSuchUpload](err) || isAwsErrorCode(err, "NoSuchUpload")
}

func isInvalidRange(err error) bool {
	return isAwsErrorCode(err, "InvalidRange")
}
