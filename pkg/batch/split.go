// Package batch partitions identifier lists into bounded-size chunks for
// sequential dispatch against the registry service.
package batch

import (
	"errors"
)

// ErrChunkSize is returned when the configured chunk size is not positive.
var ErrChunkSize = errors.New("chunk size must be positive")

// Split partitions ids into chunks of at most size elements, preserving
// input order. An empty input yields no chunks. Concatenating the returned
// chunks in order reproduces the input exactly.
func Split(ids []string, size int) ([][]string, error) {
	if size <= 0 {
		return nil, ErrChunkSize
	}

	if len(ids) == 0 {
		return nil, nil
	}

	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}

	return chunks, nil
}
