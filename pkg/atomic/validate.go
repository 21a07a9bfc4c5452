package atomic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// WriteValidator inspects freshly written content before it is committed.
// A non-nil error aborts the operation and triggers rollback.
type WriteValidator func(ctx context.Context, data []byte) error

// EntriesValidator inspects the top-level entry names of a staged directory
// copy before it is committed.
type EntriesValidator func(ctx context.Context, entries []string) error

// PathValidator inspects the destination of a completed rename before it is
// committed.
type PathValidator func(ctx context.Context, path string) error

// Checksum returns a WriteValidator accepting only content whose xxhash64
// digest equals sum.
func Checksum(sum uint64) WriteValidator {
	return func(_ context.Context, data []byte) error {
		if got := xxhash.Sum64(data); got != sum {
			return fmt.Errorf("%w: checksum %016x, want %016x", ErrValidation, got, sum)
		}
		return nil
	}
}

// JSONObject returns a WriteValidator accepting only a JSON object that
// contains every required key.
func JSONObject(requiredKeys ...string) WriteValidator {
	return func(_ context.Context, data []byte) error {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		for _, k := range requiredKeys {
			if _, ok := obj[k]; !ok {
				return fmt.Errorf("%w: missing key %q", ErrValidation, k)
			}
		}
		return nil
	}
}
