package xferfile

import (
	"errors"
	"time"

	"github.com/derektruong/rxfer/internal/fileutils"
	"github.com/derektruong/rxfer/state"
	"github.com/google/uuid"
)

var ErrSessionNotExists = errors.New("upload session does not exist")

// Info describes an unfinished upload session, it is stored next to the
// object being uploaded.
type Info struct {
	// SessionID identifies the session, a new session gets a new ID
	SessionID string `json:"sessionID"`

	// Key is the key of the object being uploaded
	Key string `json:"key"`

	// Name contains the name of the object (without extension)
	Name string `json:"name"`

	// Extension contains the object extension, possibly empty
	Extension string `json:"extension"`

	// StartTime is the time the session was created
	StartTime time.Time `json:"startTime"`

	// UpdateTime is the time the session last stored a chunk
	UpdateTime time.Time `json:"updateTime"`

	// Ranges are the byte ranges stored so far
	Ranges state.RangeSet `json:"ranges,omitempty"`

	// Metadata contains backend specific information (optional)
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewInfo returns the Info of a fresh session for key.
func NewInfo(key string) (info Info, err error) {
	var fileName, fileExt string
	if _, fileName, fileExt, err = fileutils.ExtractFileParts(key); err != nil {
		return
	}
	now := time.Now()
	info = Info{
		SessionID:  uuid.NewString(),
		Key:        key,
		Name:       fileName,
		Extension:  fileExt,
		StartTime:  now,
		UpdateTime: now,
	}
	return
}

// AddRange records r as stored.
func (i *Info) AddRange(r state.Range) {
	i.Ranges = i.Ranges.Add(r)
	i.UpdateTime = time.Now()
}

// GenerateInfoPath generates the path of the info file of an object.
func GenerateInfoPath(key string) (string, error) {
	return fileutils.SidecarPath(key, "info")
}

// GeneratePartPath generates the path of the file holding the bytes of an
// unfinished upload.
func GeneratePartPath(key string) (string, error) {
	return fileutils.SidecarPath(key, "part")
}
