// Package engine implements the remote log-file operations: listing,
// reading, chunked reads, tail, search, and download. Every operation
// validates its paths through the security gate and borrows a pooled
// session before touching the network, and every operation returns an
// envelope whose Error field is set on any failure instead of propagating
// a fault to the caller.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/logreach/logreach/internal/cache"
	"github.com/logreach/logreach/internal/parser"
	"github.com/logreach/logreach/internal/security"
	"github.com/logreach/logreach/internal/sshpool"
)

// Options bound the engine's defaults and ceilings. Values arrive already
// clamped by the config layer.
type Options struct {
	DefaultLogPath  string
	MaxFileSize     int64
	MaxPreviewLines int
	ChunkSize       int64 // 0 picks a size per file
}

const (
	// maxListDepth caps directory recursion regardless of the request.
	maxListDepth = 5
	// maxSearchMatches caps line matches returned by ReadFile.
	maxSearchMatches = 100
	// maxTailLines caps lines returned by Tail.
	maxTailLines = 1000
	// maxDownloadSize is the hard ceiling for Download.
	maxDownloadSize = 100 * 1024 * 1024
	// defaultDownloadSize applies when a download request leaves the cap unset.
	defaultDownloadSize = 10 * 1024 * 1024
	// sniffLen is how many leading bytes feed content classification.
	sniffLen = 4096
	// statTTL bounds how long stat and chunk results may be served stale.
	statTTL = 5 * time.Minute
)

// Remote is the slice of a pooled session the engine needs. Tests provide
// a fake; production uses *sshpool.Session.
type Remote interface {
	Stat(path string) (sshpool.FileInfo, error)
	ReadDir(path string) ([]sshpool.FileInfo, error)
	ReadAt(path string, offset int64, n int) ([]byte, error)
	Exec(ctx context.Context, cmd string) (sshpool.ExecResult, error)
}

// Engine executes remote log-file operations for one configured identity.
type Engine struct {
	gate  *security.Gate
	cache *cache.Cache
	opts  Options

	acquire func(ctx context.Context) (Remote, error)
}

// New wires an engine to a session pool for a fixed identity.
func New(gate *security.Gate, pool *sshpool.Pool, c *cache.Cache, creds sshpool.Credentials, opts Options) *Engine {
	if opts.DefaultLogPath == "" {
		opts.DefaultLogPath = "/var/log"
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 1024 * 1024
	}
	if opts.MaxPreviewLines <= 0 {
		opts.MaxPreviewLines = 50
	}
	return &Engine{
		gate:  gate,
		cache: c,
		opts:  opts,
		acquire: func(ctx context.Context) (Remote, error) {
			s, err := pool.Acquire(ctx, creds)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
			}
			return s, nil
		},
	}
}

// statCached stats a remote path, serving a recent snapshot from cache.
// The result may be stale by up to statTTL.
func (e *Engine) statCached(r Remote, path string) (sshpool.FileInfo, error) {
	key := "stat:" + path
	if v, ok := e.cache.Get(key); ok {
		if fi, ok := v.(sshpool.FileInfo); ok {
			return fi, nil
		}
	}
	fi, err := r.Stat(path)
	if err != nil {
		return sshpool.FileInfo{}, classifyStatErr(path, err)
	}
	e.cache.Set(key, fi, statTTL)
	return fi, nil
}

// ParseContent classifies and parses raw content, optionally extracting
// named fields (dotted paths for JSON, hex patterns for binary). An empty
// kind lets the content sniff decide.
func (e *Engine) ParseContent(data []byte, kind string, fields []string) parser.Record {
	t := parser.Type(kind)
	switch t {
	case parser.TypeText, parser.TypeJSON, parser.TypeBinary:
	default:
		t = parser.Classify(data)
	}
	rec := parser.ParseAs(t, data)
	if len(fields) > 0 {
		rec.Fields = parser.ExtractFields(t, data, fields)
	}
	return rec
}

// ParseNamed is ParseContent with an extension hint: a .json or known
// binary extension picks the parser before the content sniff runs.
func (e *Engine) ParseNamed(p string, data []byte, kind string, fields []string) parser.Record {
	if kind == "" && p != "" {
		if t := parser.ForPath(p); t != parser.TypeText {
			kind = string(t)
		}
	}
	return e.ParseContent(data, kind, fields)
}
