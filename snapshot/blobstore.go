package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	azStorageBlob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/datatrails/go-datatrails-common/azblob"
	dtcbor "github.com/datatrails/go-datatrails-common/cbor"
	"github.com/datatrails/go-datatrails-common/logger"
)

const (
	DefaultBlobPrefix = "v1/snapshots/"
	blobExt           = ".cbor"

	azblobBlobNotFound      = "BlobNotFound"
	azblobBlobAlreadyExists = "BlobAlreadyExists"
	azblobConditionNotMet   = "ConditionNotMet"
)

// snapshotStorer is the narrow slice of azblob.Storer the blob store needs.
type snapshotStorer interface {
	Reader(
		ctx context.Context,
		identity string,
		opts ...azblob.Option,
	) (*azblob.ReaderResponse, error)

	Put(
		ctx context.Context,
		identity string,
		source io.ReadSeekCloser,
		opts ...azblob.Option,
	) (*azblob.WriteResponse, error)

	List(ctx context.Context, opts ...azblob.Option) (*azblob.ListerResponse, error)
}

type BlobStoreOptions struct {
	prefix string
}

type BlobStoreOption func(*BlobStoreOptions)

func WithBlobPrefix(prefix string) BlobStoreOption {
	return func(o *BlobStoreOptions) {
		o.prefix = prefix
	}
}

// BlobStore keeps named snapshots in an azure blob container. Every write is
// etag guarded so two operators working the same container cannot silently
// lose each other's snapshots.
type BlobStore struct {
	log    logger.Logger
	store  snapshotStorer
	codec  dtcbor.CBORCodec
	prefix string
}

func NewBlobStore(log logger.Logger, store snapshotStorer, opts ...BlobStoreOption) (*BlobStore, error) {
	options := BlobStoreOptions{prefix: DefaultBlobPrefix}
	for _, o := range opts {
		o(&options)
	}
	codec, err := NewSnapshotCodec()
	if err != nil {
		return nil, err
	}
	return &BlobStore{
		log:    log,
		store:  store,
		codec:  codec,
		prefix: options.prefix,
	}, nil
}

func (b *BlobStore) path(name string) string {
	return b.prefix + name + blobExt
}

type UploadOptions struct {
	replace bool
}

type UploadOption func(*UploadOptions)

// WithReplace overwrites an existing snapshot of the same name, guarded by
// the etag of the blob as it was read.
func WithReplace() UploadOption {
	return func(o *UploadOptions) {
		o.replace = true
	}
}

// Upload writes the snapshot under name. By default creation requires that
// no blob matches any etag, so the same name cannot be claimed twice, a
// second upload fails with ErrSnapshotExists rather than clobbering.
func (b *BlobStore) Upload(ctx context.Context, name string, snap *Snapshot, opts ...UploadOption) error {
	options := UploadOptions{}
	for _, o := range opts {
		o(&options)
	}

	data, err := b.codec.MarshalCBOR(snap)
	if err != nil {
		return err
	}
	blobPath := b.path(name)
	tags := map[string]string{"snapshotversion": fmt.Sprintf("%d", SnapshotVersion)}

	if !options.replace {
		_, err = b.store.Put(ctx, blobPath, azblob.NewBytesReaderCloser(data),
			azblob.WithTags(tags), azblob.WithEtagNoneMatch("*"))
		return b.wrapExists(err, name)
	}

	// Replacing guards on the etag of whatever is there now, and falls back
	// to a guarded create when nothing is.
	rr, err := b.store.Reader(ctx, blobPath)
	if err != nil {
		if !isNotFound(err) {
			return err
		}
		_, err = b.store.Put(ctx, blobPath, azblob.NewBytesReaderCloser(data),
			azblob.WithTags(tags), azblob.WithEtagNoneMatch("*"))
		return b.wrapExists(err, name)
	}
	etag := *rr.ETag
	rr.Reader.Close()

	b.log.Debugf("replacing snapshot %s under etag %s", name, etag)
	_, err = b.store.Put(ctx, blobPath, azblob.NewBytesReaderCloser(data),
		azblob.WithTags(tags), azblob.WithEtagMatch(etag))
	return b.wrapExists(err, name)
}

// Download reads and decodes the named snapshot. A missing blob fails with
// ErrSnapshotNotFound, an undecodable one with ErrBadSnapshot.
func (b *BlobStore) Download(ctx context.Context, name string) (*Snapshot, error) {
	rr, err := b.store.Reader(ctx, b.path(name))
	if err != nil {
		return nil, b.wrapNotFound(err, name)
	}
	defer rr.Reader.Close()

	data, err := io.ReadAll(rr.Reader)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", name, err)
	}
	snap, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return snap, nil
}

// List returns the names of every snapshot under the prefix.
func (b *BlobStore) List(ctx context.Context) ([]string, error) {
	var names []string
	var marker azblob.ListMarker
	for {
		r, err := b.store.List(ctx,
			azblob.WithListPrefix(b.prefix), azblob.WithListMarker(marker))
		if err != nil {
			return nil, err
		}
		for _, i := range r.Items {
			name := strings.TrimPrefix(*i.Name, b.prefix)
			names = append(names, strings.TrimSuffix(name, blobExt))
		}
		if len(r.Items) == 0 || r.Marker == nil {
			break
		}
		marker = r.Marker
	}
	return names, nil
}

func asStorageError(err error) (azStorageBlob.StorageError, bool) {
	serr := &azStorageBlob.StorageError{}
	//nolint
	ierr, ok := err.(*azStorageBlob.InternalError)
	if ierr == nil || !ok {
		return azStorageBlob.StorageError{}, false
	}
	if !ierr.As(&serr) {
		return azStorageBlob.StorageError{}, false
	}
	return *serr, true
}

func isNotFound(err error) bool {
	if errors.Is(err, ErrSnapshotNotFound) {
		return true
	}
	serr, ok := asStorageError(err)
	if !ok {
		return false
	}
	return serr.ErrorCode == azblobBlobNotFound
}

// wrapNotFound translates the azure blob not found error to
// ErrSnapshotNotFound. Any other error, including nil, passes through as is.
func (b *BlobStore) wrapNotFound(err error, name string) error {
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return err
	}
	if errors.Is(err, ErrSnapshotNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
}

// wrapExists translates the etag guard failures to ErrSnapshotExists. Any
// other error, including nil, passes through as is.
func (b *BlobStore) wrapExists(err error, name string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSnapshotExists) {
		return err
	}
	serr, ok := asStorageError(err)
	if !ok {
		return err
	}
	if serr.ErrorCode != azblobBlobAlreadyExists && serr.ErrorCode != azblobConditionNotMet {
		return err
	}
	return fmt.Errorf("%w: %s", ErrSnapshotExists, name)
}
