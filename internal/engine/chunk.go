package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/logreach/logreach/internal/cache"
	"github.com/logreach/logreach/internal/metrics"
)

// ChunkResult is the chunked-read envelope. Data is base64 in JSON.
type ChunkResult struct {
	Data        []byte `json:"data"`
	Position    int64  `json:"position"`
	NewPosition int64  `json:"new_position"`
	ChunkSize   int64  `json:"chunk_size"`
	FileSize    int64  `json:"file_size"`
	EOF         bool   `json:"eof"`
	Error       string `json:"error,omitempty"`
}

// Size tiers for the default chunk size.
const (
	wholeFileBelow = 1 * 1024 * 1024
	tier1Below     = 10 * 1024 * 1024
	tier1Chunk     = 1 * 1024 * 1024
	tier2Below     = 100 * 1024 * 1024
	tier2Chunk     = 5 * 1024 * 1024
	tier3Chunk     = 10 * 1024 * 1024
)

// chunkSizeFor picks a chunk size from the file size when the caller
// leaves it unset: whole file under 1MB, then 1MB, 5MB, and 10MB tiers.
func chunkSizeFor(fileSize int64) int64 {
	switch {
	case fileSize < wholeFileBelow:
		if fileSize < 1 {
			return 1
		}
		return fileSize
	case fileSize < tier1Below:
		return tier1Chunk
	case fileSize < tier2Below:
		return tier2Chunk
	default:
		return tier3Chunk
	}
}

// ReadChunk reads one chunk of a file starting at position. Repeated calls
// advancing NewPosition reconstruct the whole file; EOF reports true once
// NewPosition reaches the file size. Chunk content is cached by
// (path, position, size).
func (e *Engine) ReadChunk(ctx context.Context, p string, position, chunkSize int64) ChunkResult {
	start := time.Now()
	res := e.readChunk(ctx, p, position, chunkSize)
	metrics.RecordOperation("read_chunk", time.Since(start), res.Error == "")
	return res
}

func (e *Engine) readChunk(ctx context.Context, p string, position, chunkSize int64) ChunkResult {
	if err := e.gate.ValidatePath(p); err != nil {
		metrics.RecordSecurityRejection("path")
		return ChunkResult{Position: position, Error: fmt.Sprintf("%v: %v", ErrSecurityRejected, err)}
	}
	if position < 0 {
		position = 0
	}

	r, err := e.acquire(ctx)
	if err != nil {
		return ChunkResult{Position: position, Error: err.Error()}
	}

	fi, err := e.statCached(r, p)
	if err != nil {
		return ChunkResult{Position: position, Error: err.Error()}
	}
	if fi.IsDir {
		return ChunkResult{Position: position, Error: fmt.Sprintf("%s is a directory", p)}
	}

	if chunkSize <= 0 {
		if e.opts.ChunkSize > 0 {
			chunkSize = e.opts.ChunkSize
		} else {
			chunkSize = chunkSizeFor(fi.Size)
		}
	}

	if position >= fi.Size {
		return ChunkResult{
			Data: []byte{}, Position: position, NewPosition: position,
			ChunkSize: chunkSize, FileSize: fi.Size, EOF: true,
		}
	}

	key := fmt.Sprintf("chunk:%s:%d:%d", p, position, chunkSize)
	data, ok := e.cache.GetBytes(key)
	if ok {
		metrics.RecordCacheHit()
	} else {
		metrics.RecordCacheMiss()
		data, err = r.ReadAt(p, position, int(chunkSize))
		if err != nil {
			return ChunkResult{Position: position, Error: fmt.Sprintf("read %s: %v", p, err)}
		}
		metrics.RecordRemoteBytesRead(int64(len(data)))
		e.cache.Set(key, data, cache.DefaultTTL)
	}

	newPos := position + int64(len(data))
	return ChunkResult{
		Data:        data,
		Position:    position,
		NewPosition: newPos,
		ChunkSize:   chunkSize,
		FileSize:    fi.Size,
		EOF:         newPos >= fi.Size,
	}
}
