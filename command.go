package rxfer

import (
	"context"

	"github.com/go-playground/validator/v10"
)

// validate use a single instance of validate, it caches struct info
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// UploadCommand describes the resource to upload and where its bytes come
// from.
type UploadCommand struct {
	// ResourceRef is the reference of the remote resource to create
	ResourceRef string `json:"resourceRef" yaml:"resourceRef" validate:"required"`
	// LocalPath is the file to upload, it wins over Body when both are set
	LocalPath string `json:"localPath" yaml:"localPath" validate:"required_without=Body"`
	// Body is an in-memory body, spooled to a local file before the upload
	Body []byte `json:"-" yaml:"-" validate:"required_without=LocalPath"`
}

// DownloadCommand describes the resource to download and the file the bytes
// are written to.
type DownloadCommand struct {
	// ResourceRef is the reference of the remote resource to read
	ResourceRef string `json:"resourceRef" yaml:"resourceRef" validate:"required"`
	// LocalPath is the destination file, overwritten on the first chunk write
	LocalPath string `json:"localPath" yaml:"localPath" validate:"required"`
}

func (cmd UploadCommand) Validate(ctx context.Context) error {
	return validate.StructCtx(ctx, cmd)
}

func (cmd DownloadCommand) Validate(ctx context.Context) error {
	return validate.StructCtx(ctx, cmd)
}
