package binstore

import (
	"context"

	"github.com/cespare/xxhash/v2"
)

// Checksum returns the xxhash64 of the index stream stored in src. Two
// publishes of the same records produce the same checksum.
func Checksum(ctx context.Context, src BlobSource) (uint64, error) {
	data, err := src.Get(ctx, IndexBlob)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(data), nil
}
