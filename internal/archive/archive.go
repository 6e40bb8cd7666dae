// Package archive writes immutable, zstd-compressed copies of resource revisions
// to a blob store. Keys are derived from the content hash, so a changed body is a
// new object and an unchanged body maps onto the object already written.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

// ContentType is the MIME type of archived objects.
const ContentType = "application/zstd"

// Reader is implemented by blob stores that can return archived objects.
type Reader interface {
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Archiver compresses revisions into a BlobStore.
type Archiver struct {
	blobs   warmup.BlobStore
	prefix  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New builds an Archiver writing under prefix.
func New(blobs warmup.BlobStore, prefix string) (*Archiver, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Archiver{
		blobs:   blobs,
		prefix:  strings.Trim(prefix, "/"),
		encoder: enc,
		decoder: dec,
	}, nil
}

// Key returns the object path for a revision: <prefix>/<kind>/<hash[:2]>/<hash>.<kind>.zst.
func (a *Archiver) Key(kind warmup.Kind, hash string) string {
	shard := hash
	if len(shard) > 2 {
		shard = shard[:2]
	}
	name := fmt.Sprintf("%s.%s.zst", hash, kind)
	return path.Join(a.prefix, string(kind), shard, name)
}

// Archive compresses res.Content and stores it. It returns the blob URI.
func (a *Archiver) Archive(ctx context.Context, res warmup.StoredResource) (string, error) {
	if res.Hash == "" {
		return "", fmt.Errorf("archive %s: hash is required", res.URL)
	}
	compressed := a.encoder.EncodeAll(res.Content, make([]byte, 0, len(res.Content)/2))
	uri, err := a.blobs.PutObject(ctx, a.Key(res.Kind, res.Hash), ContentType, compressed)
	if err != nil {
		return "", fmt.Errorf("put archive object: %w", err)
	}
	return uri, nil
}

// Restore reads and decompresses a revision previously written by Archive.
func (a *Archiver) Restore(ctx context.Context, kind warmup.Kind, hash string) ([]byte, error) {
	reader, ok := a.blobs.(Reader)
	if !ok {
		return nil, fmt.Errorf("blob store %T cannot read objects", a.blobs)
	}
	data, err := reader.GetObject(ctx, a.Key(kind, hash))
	if err != nil {
		return nil, fmt.Errorf("get archive object: %w", err)
	}
	out, err := a.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress archive object: %w", err)
	}
	return out, nil
}

// Close releases encoder and decoder resources.
func (a *Archiver) Close() {
	_ = a.encoder.Close()
	a.decoder.Close()
}
