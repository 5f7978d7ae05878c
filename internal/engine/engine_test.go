package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/logreach/logreach/internal/cache"
	"github.com/logreach/logreach/internal/parser"
	"github.com/logreach/logreach/internal/security"
	"github.com/logreach/logreach/internal/sshpool"
)

type fakeFile struct {
	data []byte
	mod  time.Time
}

type fakeRemote struct {
	files map[string]fakeFile
	dirs  map[string][]string

	execFn  func(cmd string) (sshpool.ExecResult, error)
	execLog []string

	statCalls int
	readCalls int
}

func (f *fakeRemote) Stat(p string) (sshpool.FileInfo, error) {
	f.statCalls++
	if _, ok := f.dirs[p]; ok {
		return sshpool.FileInfo{Name: path.Base(p), Path: p, IsDir: true, Mode: fs.ModeDir | 0755}, nil
	}
	if ff, ok := f.files[p]; ok {
		return sshpool.FileInfo{
			Name: path.Base(p), Path: p, Size: int64(len(ff.data)),
			Mode: 0644, ModTime: ff.mod,
		}, nil
	}
	return sshpool.FileInfo{}, fs.ErrNotExist
}

func (f *fakeRemote) ReadDir(p string) ([]sshpool.FileInfo, error) {
	names, ok := f.dirs[p]
	if !ok {
		return nil, fs.ErrNotExist
	}
	var out []sshpool.FileInfo
	for _, name := range names {
		full := path.Join(p, name)
		fi, err := f.Stat(full)
		if err != nil {
			return nil, err
		}
		out = append(out, fi)
	}
	return out, nil
}

func (f *fakeRemote) ReadAt(p string, offset int64, n int) ([]byte, error) {
	f.readCalls++
	ff, ok := f.files[p]
	if !ok {
		return nil, fs.ErrNotExist
	}
	if offset >= int64(len(ff.data)) {
		return nil, nil
	}
	end := offset + int64(n)
	if end > int64(len(ff.data)) {
		end = int64(len(ff.data))
	}
	return ff.data[offset:end], nil
}

func (f *fakeRemote) Exec(ctx context.Context, cmd string) (sshpool.ExecResult, error) {
	f.execLog = append(f.execLog, cmd)
	if f.execFn != nil {
		return f.execFn(cmd)
	}
	// Probes fail cleanly; the engine falls back to local sniffing.
	return sshpool.ExecResult{ExitCode: 1}, nil
}

func newTestEngine(r Remote) *Engine {
	return &Engine{
		gate:  security.NewGate(),
		cache: cache.New(10 * 1024 * 1024),
		opts: Options{
			DefaultLogPath:  "/var/log",
			MaxFileSize:     1024 * 1024,
			MaxPreviewLines: 50,
		},
		acquire: func(ctx context.Context) (Remote, error) { return r, nil },
	}
}

func logTree() *fakeRemote {
	now := time.Now()
	return &fakeRemote{
		dirs: map[string][]string{
			"/var/log":     {"a.log", "c.txt", "sub"},
			"/var/log/sub": {"b.log"},
		},
		files: map[string]fakeFile{
			"/var/log/a.log":     {data: bytes.Repeat([]byte("a"), 500), mod: now.Add(-time.Hour)},
			"/var/log/sub/b.log": {data: bytes.Repeat([]byte("b"), 2000), mod: now},
			"/var/log/c.txt":     {data: bytes.Repeat([]byte("c"), 100), mod: now.Add(-2 * time.Hour)},
		},
	}
}

func TestListFilesGlobAndCounts(t *testing.T) {
	e := newTestEngine(logTree())

	res := e.ListFiles(context.Background(), ListRequest{
		Path: "/var/log", Pattern: "*.log", MaxDepth: 2,
	})
	if res.Error != "" {
		t.Fatalf("error: %s", res.Error)
	}
	if len(res.Files) != 2 {
		t.Fatalf("files = %d, want 2", len(res.Files))
	}
	if res.TotalFiles != 3 {
		t.Errorf("total_files = %d, want 3", res.TotalFiles)
	}
	if res.FilteredFiles != 1 {
		t.Errorf("filtered_files = %d, want 1", res.FilteredFiles)
	}
	if res.TotalSize != 2600 {
		t.Errorf("total_size = %d, want 2600", res.TotalSize)
	}
	// Newest first.
	if res.Files[0].Path != "/var/log/sub/b.log" || res.Files[1].Path != "/var/log/a.log" {
		t.Errorf("order = %s, %s", res.Files[0].Path, res.Files[1].Path)
	}
}

func TestListFilesDepthBound(t *testing.T) {
	e := newTestEngine(logTree())

	res := e.ListFiles(context.Background(), ListRequest{
		Path: "/var/log", Pattern: "*.log", MaxDepth: 1,
	})
	if res.Error != "" {
		t.Fatalf("error: %s", res.Error)
	}
	if len(res.Files) != 1 || res.Files[0].Path != "/var/log/a.log" {
		t.Errorf("depth 1 should only see a.log, got %+v", res.Files)
	}
}

func TestListFilesPreviewAndTooLarge(t *testing.T) {
	r := logTree()
	r.files["/var/log/a.log"] = fakeFile{
		data: []byte("line one\nline two\nline three\n"), mod: time.Now(),
	}
	e := newTestEngine(r)

	res := e.ListFiles(context.Background(), ListRequest{
		Path: "/var/log", Pattern: "*.log", MaxDepth: 2,
		ReadContent: true, MaxFileSize: 1000, MaxPreviewLines: 2,
	})
	if res.Error != "" {
		t.Fatalf("error: %s", res.Error)
	}
	byPath := map[string]FileEntry{}
	for _, f := range res.Files {
		byPath[f.Path] = f
	}

	a := byPath["/var/log/a.log"]
	if a.Preview != "line one\nline two" {
		t.Errorf("preview = %q", a.Preview)
	}
	b, ok := byPath["/var/log/sub/b.log"]
	if !ok {
		t.Fatal("too-large file should still be listed")
	}
	if !b.TooLarge || b.Preview != "" {
		t.Errorf("b.log should be marked too large with no preview: %+v", b)
	}
}

func TestListFilesContentFilter(t *testing.T) {
	r := logTree()
	r.files["/var/log/a.log"] = fakeFile{data: []byte("error: disk full\n"), mod: time.Now()}
	r.files["/var/log/sub/b.log"] = fakeFile{data: []byte("all quiet\n"), mod: time.Now()}
	e := newTestEngine(r)

	res := e.ListFiles(context.Background(), ListRequest{
		Path: "/var/log", Pattern: "*.log", MaxDepth: 2, SearchPattern: "disk full",
	})
	if res.Error != "" {
		t.Fatalf("error: %s", res.Error)
	}
	if len(res.Files) != 1 || res.Files[0].Path != "/var/log/a.log" {
		t.Errorf("content filter should keep only a.log, got %+v", res.Files)
	}
	// c.txt (glob) + b.log (content) excluded.
	if res.FilteredFiles != 2 {
		t.Errorf("filtered_files = %d, want 2", res.FilteredFiles)
	}
}

func TestListFilesBadSearchPattern(t *testing.T) {
	e := newTestEngine(logTree())
	res := e.ListFiles(context.Background(), ListRequest{Path: "/var/log", SearchPattern: "("})
	if !strings.Contains(res.Error, ErrInvalidPattern.Error()) {
		t.Errorf("error = %q", res.Error)
	}
}

func TestListFilesRejectedPathNeverAcquires(t *testing.T) {
	e := newTestEngine(nil)
	e.acquire = func(ctx context.Context) (Remote, error) {
		t.Fatal("gate rejection must not reach the pool")
		return nil, nil
	}

	res := e.ListFiles(context.Background(), ListRequest{Path: "/etc/ssh"})
	if !strings.Contains(res.Error, ErrSecurityRejected.Error()) {
		t.Errorf("error = %q", res.Error)
	}
	if res.Files == nil || len(res.Files) != 0 {
		t.Errorf("files should be empty on error, got %v", res.Files)
	}
}

func TestReadFileText(t *testing.T) {
	r := logTree()
	content := "2024-01-01 [ERROR] boom\n2024-01-01 [INFO] fine\n"
	r.files["/var/log/a.log"] = fakeFile{data: []byte(content), mod: time.Now()}
	e := newTestEngine(r)

	res := e.ReadFile(context.Background(), ReadRequest{Path: "/var/log/a.log", SearchPattern: "ERROR"})
	if res.Error != "" {
		t.Fatalf("error: %s", res.Error)
	}
	if res.Content != content {
		t.Errorf("content = %q", res.Content)
	}
	if res.Encoding != parser.EncodingUTF8 {
		t.Errorf("encoding = %q", res.Encoding)
	}
	if res.Truncated || res.IsBinary {
		t.Errorf("flags: truncated=%v binary=%v", res.Truncated, res.IsBinary)
	}
	if len(res.Matches) != 1 || res.Matches[0].Line != 1 {
		t.Errorf("matches = %+v", res.Matches)
	}
}

func TestReadFilePNGMagicIsBinary(t *testing.T) {
	r := logTree()
	png := append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, bytes.Repeat([]byte{0}, 100)...)
	r.files["/var/log/trap.log"] = fakeFile{data: png, mod: time.Now()}
	r.dirs["/var/log"] = append(r.dirs["/var/log"], "trap.log")
	e := newTestEngine(r)

	res := e.ReadFile(context.Background(), ReadRequest{Path: "/var/log/trap.log"})
	if !res.IsBinary {
		t.Error("is_binary should be true")
	}
	if res.Error == "" {
		t.Error("error should be set")
	}
	if res.Content != "" {
		t.Error("content should be empty")
	}
}

func TestReadFileRejectsDirectoryAndExtension(t *testing.T) {
	e := newTestEngine(logTree())

	res := e.ReadFile(context.Background(), ReadRequest{Path: "/var/log/sub"})
	if res.Error == "" || !strings.Contains(res.Error, "directory") {
		t.Errorf("directory error = %q", res.Error)
	}

	r := logTree()
	r.files["/var/log/bundle.gz"] = fakeFile{data: []byte("x"), mod: time.Now()}
	e = newTestEngine(r)
	res = e.ReadFile(context.Background(), ReadRequest{Path: "/var/log/bundle.gz"})
	if !res.IsBinary || res.Error == "" {
		t.Errorf("gz should be rejected as binary: %+v", res)
	}
}

func TestReadFileRemoteMIMEProbe(t *testing.T) {
	r := logTree()
	r.files["/var/log/blob.log"] = fakeFile{data: []byte("looks texty"), mod: time.Now()}
	r.execFn = func(cmd string) (sshpool.ExecResult, error) {
		if strings.Contains(cmd, "--mime-type") {
			return sshpool.ExecResult{Stdout: "application/octet-stream\n"}, nil
		}
		return sshpool.ExecResult{ExitCode: 1}, nil
	}
	e := newTestEngine(r)

	res := e.ReadFile(context.Background(), ReadRequest{Path: "/var/log/blob.log"})
	if !res.IsBinary || res.Error == "" {
		t.Errorf("remote probe should reject: %+v", res)
	}
}

func TestReadFileTruncates(t *testing.T) {
	r := logTree()
	r.files["/var/log/a.log"] = fakeFile{data: bytes.Repeat([]byte("x"), 100), mod: time.Now()}
	e := newTestEngine(r)

	res := e.ReadFile(context.Background(), ReadRequest{Path: "/var/log/a.log", MaxSize: 40})
	if res.Error != "" {
		t.Fatalf("error: %s", res.Error)
	}
	if !res.Truncated {
		t.Error("truncated should be true")
	}
	if len(res.Content) != 40 {
		t.Errorf("content length = %d, want 40", len(res.Content))
	}
	if res.Size != 100 {
		t.Errorf("size = %d, want full file size 100", res.Size)
	}
}

func TestReadFileMatchCap(t *testing.T) {
	r := logTree()
	var sb strings.Builder
	for i := 0; i < 150; i++ {
		fmt.Fprintf(&sb, "match line %d\n", i)
	}
	r.files["/var/log/a.log"] = fakeFile{data: []byte(sb.String()), mod: time.Now()}
	e := newTestEngine(r)

	res := e.ReadFile(context.Background(), ReadRequest{Path: "/var/log/a.log", SearchPattern: "match"})
	if len(res.Matches) != maxSearchMatches {
		t.Errorf("matches = %d, want %d", len(res.Matches), maxSearchMatches)
	}
}

func TestReadFileBadPattern(t *testing.T) {
	e := newTestEngine(logTree())
	res := e.ReadFile(context.Background(), ReadRequest{Path: "/var/log/a.log", SearchPattern: "["})
	if !strings.Contains(res.Error, ErrInvalidPattern.Error()) {
		t.Errorf("error = %q", res.Error)
	}
}

func TestReadFileLatin1Fallback(t *testing.T) {
	r := logTree()
	r.files["/var/log/a.log"] = fakeFile{
		data: append([]byte("caf"), append([]byte{0xe9}, []byte(" au lait ordered at dawn\n")...)...),
		mod:  time.Now(),
	}
	e := newTestEngine(r)

	res := e.ReadFile(context.Background(), ReadRequest{Path: "/var/log/a.log"})
	if res.Error != "" {
		t.Fatalf("error: %s", res.Error)
	}
	if res.Encoding != parser.EncodingLatin1 {
		t.Errorf("encoding = %q", res.Encoding)
	}
	if !strings.HasPrefix(res.Content, "café") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestChunkSizeTiers(t *testing.T) {
	cases := []struct {
		size int64
		want int64
	}{
		{512 * 1024, 512 * 1024},
		{5 * 1024 * 1024, 1024 * 1024},
		{50 * 1024 * 1024, 5 * 1024 * 1024},
		{500 * 1024 * 1024, 10 * 1024 * 1024},
	}
	for _, tc := range cases {
		if got := chunkSizeFor(tc.size); got != tc.want {
			t.Errorf("chunkSizeFor(%d) = %d, want %d", tc.size, got, tc.want)
		}
	}
}

func TestReadChunkReconstructsFile(t *testing.T) {
	r := logTree()
	content := bytes.Repeat([]byte("0123456789"), 250) // 2500 bytes
	r.files["/var/log/big.log"] = fakeFile{data: content, mod: time.Now()}
	e := newTestEngine(r)
	e.opts.ChunkSize = 1000

	var got []byte
	pos := int64(0)
	eofs := 0
	for i := 0; i < 10; i++ {
		res := e.ReadChunk(context.Background(), "/var/log/big.log", pos, 0)
		if res.Error != "" {
			t.Fatalf("error: %s", res.Error)
		}
		got = append(got, res.Data...)
		pos = res.NewPosition
		if res.EOF {
			eofs++
			break
		}
	}
	if !bytes.Equal(got, content) {
		t.Errorf("reconstructed %d bytes, want %d", len(got), len(content))
	}
	if eofs != 1 {
		t.Errorf("eof reported %d times, want exactly once", eofs)
	}
}

func TestReadChunkCaches(t *testing.T) {
	r := logTree()
	r.files["/var/log/big.log"] = fakeFile{data: bytes.Repeat([]byte("z"), 400), mod: time.Now()}
	e := newTestEngine(r)

	first := e.ReadChunk(context.Background(), "/var/log/big.log", 0, 100)
	if first.Error != "" {
		t.Fatalf("error: %s", first.Error)
	}
	reads := r.readCalls

	second := e.ReadChunk(context.Background(), "/var/log/big.log", 0, 100)
	if second.Error != "" {
		t.Fatalf("error: %s", second.Error)
	}
	if r.readCalls != reads {
		t.Error("repeated chunk should be served from cache")
	}
	if !bytes.Equal(first.Data, second.Data) {
		t.Error("cached chunk differs")
	}
}

func TestReadChunkPastEOF(t *testing.T) {
	e := newTestEngine(logTree())
	res := e.ReadChunk(context.Background(), "/var/log/a.log", 10_000, 0)
	if res.Error != "" {
		t.Fatalf("error: %s", res.Error)
	}
	if !res.EOF || len(res.Data) != 0 || res.NewPosition != 10_000 {
		t.Errorf("past-eof result: %+v", res)
	}
}

func TestTail(t *testing.T) {
	r := logTree()
	r.execFn = func(cmd string) (sshpool.ExecResult, error) {
		if !strings.HasPrefix(cmd, "tail -n 10 ") {
			t.Errorf("cmd = %q", cmd)
		}
		return sshpool.ExecResult{Stdout: "line1\nline2\n"}, nil
	}
	e := newTestEngine(r)

	res := e.Tail(context.Background(), "/var/log/syslog", 10)
	if res.Error != "" {
		t.Fatalf("error: %s", res.Error)
	}
	if len(res.Lines) != 2 || res.Lines[0] != "line1" {
		t.Errorf("lines = %v", res.Lines)
	}
}

func TestTailClampsLines(t *testing.T) {
	r := logTree()
	r.execFn = func(cmd string) (sshpool.ExecResult, error) {
		if !strings.HasPrefix(cmd, "tail -n 1000 ") {
			t.Errorf("cmd = %q", cmd)
		}
		return sshpool.ExecResult{}, nil
	}
	e := newTestEngine(r)
	e.Tail(context.Background(), "/var/log/syslog", 50_000)
}

func TestTailNonzeroExitCarriesStderr(t *testing.T) {
	r := logTree()
	r.execFn = func(cmd string) (sshpool.ExecResult, error) {
		return sshpool.ExecResult{ExitCode: 1, Stderr: "tail: cannot open"}, nil
	}
	e := newTestEngine(r)

	res := e.Tail(context.Background(), "/var/log/syslog", 10)
	if !strings.Contains(res.Error, "tail: cannot open") {
		t.Errorf("error = %q", res.Error)
	}
	if len(res.Lines) != 0 {
		t.Errorf("lines should be empty, got %v", res.Lines)
	}
}

func TestSearch(t *testing.T) {
	r := logTree()
	r.execFn = func(cmd string) (sshpool.ExecResult, error) {
		if !strings.Contains(cmd, "grep -n") || !strings.Contains(cmd, "'disk error'") {
			t.Errorf("cmd = %q", cmd)
		}
		return sshpool.ExecResult{Stdout: "12:disk error on sda\n98:disk error on sdb\n"}, nil
	}
	e := newTestEngine(r)

	res := e.Search(context.Background(), "/var/log/syslog", "disk error", 10, 0)
	if res.Error != "" {
		t.Fatalf("error: %s", res.Error)
	}
	want := []Match{
		{Line: 12, Content: "disk error on sda"},
		{Line: 98, Content: "disk error on sdb"},
	}
	if len(res.Matches) != 2 || res.Matches[0] != want[0] || res.Matches[1] != want[1] {
		t.Errorf("matches = %+v", res.Matches)
	}
}

func TestSearchSkipsContextLines(t *testing.T) {
	r := logTree()
	r.execFn = func(cmd string) (sshpool.ExecResult, error) {
		return sshpool.ExecResult{Stdout: "11-before\n12:hit\n13-after\n--\n20:hit two\n"}, nil
	}
	e := newTestEngine(r)

	res := e.Search(context.Background(), "/var/log/syslog", "hit", 10, 1)
	if len(res.Matches) != 2 || res.Matches[0].Line != 12 || res.Matches[1].Line != 20 {
		t.Errorf("matches = %+v", res.Matches)
	}
}

func TestSearchNoMatchesIsNotAnError(t *testing.T) {
	r := logTree()
	r.execFn = func(cmd string) (sshpool.ExecResult, error) {
		return sshpool.ExecResult{ExitCode: 1}, nil
	}
	e := newTestEngine(r)

	res := e.Search(context.Background(), "/var/log/syslog", "absent", 10, 0)
	if res.Error != "" {
		t.Errorf("exit 1 means no matches, got error %q", res.Error)
	}
	if len(res.Matches) != 0 {
		t.Errorf("matches = %+v", res.Matches)
	}
}

func TestSearchBadPattern(t *testing.T) {
	e := newTestEngine(logTree())
	res := e.Search(context.Background(), "/var/log/syslog", "(", 10, 0)
	if !strings.Contains(res.Error, ErrInvalidPattern.Error()) {
		t.Errorf("error = %q", res.Error)
	}
}

func TestDownload(t *testing.T) {
	r := logTree()
	content := []byte("some log content\n")
	r.files["/var/log/a.log"] = fakeFile{data: content, mod: time.Now()}
	e := newTestEngine(r)

	res := e.Download(context.Background(), "/var/log/a.log", 0)
	if res.Error != "" {
		t.Fatalf("error: %s", res.Error)
	}
	decoded, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, content) {
		t.Errorf("payload = %q", decoded)
	}
	if res.Size != int64(len(content)) {
		t.Errorf("size = %d", res.Size)
	}
	if !strings.HasPrefix(res.MIMEType, "text/plain") {
		t.Errorf("mime = %q", res.MIMEType)
	}
}

func TestDownloadOversizeRejectedBeforeTransfer(t *testing.T) {
	r := logTree()
	e := newTestEngine(r)

	res := e.Download(context.Background(), "/var/log/sub/b.log", 1000)
	if !strings.Contains(res.Error, ErrTooLarge.Error()) {
		t.Errorf("error = %q", res.Error)
	}
	if res.Data != "" {
		t.Error("data should be empty on rejection")
	}
	if r.readCalls != 0 {
		t.Error("oversize file must be rejected before any transfer")
	}
}

func TestDownloadRejectsDirectory(t *testing.T) {
	e := newTestEngine(logTree())
	res := e.Download(context.Background(), "/var/log/sub", 0)
	if res.Error == "" || !strings.Contains(res.Error, "directory") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestStatCached(t *testing.T) {
	r := logTree()
	e := newTestEngine(r)

	e.ReadChunk(context.Background(), "/var/log/a.log", 0, 100)
	calls := r.statCalls
	e.ReadChunk(context.Background(), "/var/log/a.log", 100, 100)
	if r.statCalls != calls {
		t.Error("second operation should hit the stat cache")
	}
}

func TestOperationsReportMissingFiles(t *testing.T) {
	e := newTestEngine(logTree())
	res := e.ReadFile(context.Background(), ReadRequest{Path: "/var/log/ghost.log"})
	if !strings.Contains(res.Error, ErrNotFound.Error()) {
		t.Errorf("error = %q", res.Error)
	}
}

func TestParseContent(t *testing.T) {
	e := newTestEngine(nil)

	rec := e.ParseContent([]byte(`{"user":{"name":"ada"}}`), "", []string{"user.name"})
	if rec.Type != parser.TypeJSON {
		t.Errorf("type = %s", rec.Type)
	}
	if rec.Fields["user.name"] != "ada" {
		t.Errorf("fields = %+v", rec.Fields)
	}

	rec = e.ParseContent([]byte("2024-01-01 12:00:00 [WARN] low disk"), "text", nil)
	if rec.Type != parser.TypeText {
		t.Errorf("type = %s", rec.Type)
	}
}

func TestParseNamedUsesExtension(t *testing.T) {
	e := newTestEngine(nil)

	// A .json path selects the JSON parser even when the payload does not
	// sniff as JSON.
	rec := e.ParseNamed("/var/log/app.json", []byte("definitely not json"), "", nil)
	if rec.Type != parser.TypeJSON {
		t.Errorf("type = %s, want json", rec.Type)
	}
	if rec.Format != parser.FormatInvalidJSON {
		t.Errorf("format = %s", rec.Format)
	}

	// An explicit kind overrides the extension.
	rec = e.ParseNamed("/var/log/app.json", []byte("plain line"), "text", nil)
	if rec.Type != parser.TypeText {
		t.Errorf("type = %s, want text", rec.Type)
	}
}
