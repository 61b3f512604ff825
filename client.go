// Package rxfer moves large files to and from a remote store in fixed-size
// chunks. Transfers can be suspended, resumed after a process restart and
// terminated. Their progress is persisted in a state.Store, scoped to the
// identity that started them, and the bytes already moved are guarded by a
// client side integrity token.
package rxfer

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/derektruong/rxfer/identity"
	"github.com/derektruong/rxfer/remote"
	"github.com/derektruong/rxfer/state"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/metric"
)

// Client hands out Uploaders, Downloaders and Managers sharing one store,
// one endpoint and one set of options.
type Client struct {
	logger   logr.Logger
	ids      identity.Provider
	store    state.Store
	endpoint remote.Endpoint
	options  options

	meterRegistration metric.Registration

	chunksCommitted  *atomic.Int64
	bytesCommitted   *atomic.Int64
	bytesTransferred *atomic.Int64
}

// NewClient creates a new Client with the optional Option(s).
func NewClient(
	logger logr.Logger,
	ids identity.Provider,
	store state.Store,
	endpoint remote.Endpoint,
	opts ...Option,
) (c *Client, err error) {
	c = &Client{
		logger:           logger.WithName("rxfer"),
		ids:              ids,
		store:            store,
		endpoint:         endpoint,
		options:          defaultOptions(),
		chunksCommitted:  new(atomic.Int64),
		bytesCommitted:   new(atomic.Int64),
		bytesTransferred: new(atomic.Int64),
	}
	for _, opt := range opts {
		opt(&c.options)
	}
	if c.meterRegistration, err = c.registerMeterCallback(); err != nil {
		return
	}
	return
}

// Close unregisters the metrics of the Client. It neither stops running
// transfers nor closes the store.
func (c *Client) Close() (err error) {
	if c.meterRegistration != nil {
		err = c.meterRegistration.Unregister()
		c.meterRegistration = nil
	}
	return
}

// Uploader returns the Uploader of cmd. When a suspended or interrupted
// upload of the same resource and local path exists for the active identity,
// the Uploader is bound to it and Transfer resumes it.
//
// Returns:
//   - u: the Uploader
//   - err: *LocalSourceError if neither LocalPath nor Body is set,
//     ErrOwnershipViolation if no identity is active, nil otherwise
func (c *Client) Uploader(ctx context.Context, cmd UploadCommand) (u *Uploader, err error) {
	if cmd.LocalPath == "" && len(cmd.Body) == 0 {
		err = localSourceError("", ReasonInvalidPath, errMissingSource)
		return
	}
	if err = cmd.Validate(ctx); err != nil {
		return
	}
	var owner string
	if owner, err = c.currentOwner(); err != nil {
		return
	}

	localPath := cmd.LocalPath
	if localPath == "" {
		if localPath, err = c.spool(cmd.Body); err != nil {
			return
		}
	}
	localPath = filepath.Clean(localPath)

	key := state.Key{
		Owner:       owner,
		ResourceRef: cmd.ResourceRef,
		Direction:   state.Upload,
		LocalPath:   localPath,
	}
	side := &uploadSide{
		fs:        c.options.fs,
		path:      localPath,
		ref:       cmd.ResourceRef,
		endpoint:  c.endpoint,
		rules:     c.options.fileRule,
		rateLimit: c.options.rateLimit,
		counter:   c.bytesTransferred,
	}
	u = &Uploader{transfer: newTransfer(c, key, side)}
	if err = u.bind(ctx); err != nil {
		u = nil
	}
	return
}

// Downloader returns the Downloader of cmd, bound to the persisted state of
// a previous download of the same resource and local path if one exists.
//
// Returns:
//   - d: the Downloader
//   - err: *LocalSourceError if LocalPath is empty, ErrOwnershipViolation
//     if no identity is active, nil otherwise
func (c *Client) Downloader(ctx context.Context, cmd DownloadCommand) (d *Downloader, err error) {
	if cmd.LocalPath == "" {
		err = localSourceError("", ReasonInvalidPath, errMissingSource)
		return
	}
	if err = cmd.Validate(ctx); err != nil {
		return
	}
	var owner string
	if owner, err = c.currentOwner(); err != nil {
		return
	}

	localPath := filepath.Clean(cmd.LocalPath)
	key := state.Key{
		Owner:       owner,
		ResourceRef: cmd.ResourceRef,
		Direction:   state.Download,
		LocalPath:   localPath,
	}
	side := &downloadSide{
		fs:        c.options.fs,
		path:      localPath,
		ref:       cmd.ResourceRef,
		endpoint:  c.endpoint,
		rateLimit: c.options.rateLimit,
		counter:   c.bytesTransferred,
	}
	d = &Downloader{transfer: newTransfer(c, key, side)}
	if err = d.bind(ctx); err != nil {
		d = nil
	}
	return
}

// TransferManager returns a Manager bound to the active identity.
func (c *Client) TransferManager() (m *Manager, err error) {
	var owner string
	if owner, err = c.currentOwner(); err != nil {
		return
	}
	m = &Manager{
		logger: c.logger.WithName("manager"),
		ids:    c.ids,
		store:  c.store,
		owner:  owner,
	}
	return
}

func (c *Client) currentOwner() (owner string, err error) {
	var ok bool
	if owner, ok = c.ids.CurrentIdentity(); !ok {
		err = ErrOwnershipViolation
	}
	return
}

// acquire marks key as running, it returns false if it already runs on
// any Client sharing the store.
func (c *Client) acquire(key state.Key) bool {
	return runningTransfers.acquire(c.store, key)
}

func (c *Client) release(key state.Key) {
	runningTransfers.release(c.store, key)
}
