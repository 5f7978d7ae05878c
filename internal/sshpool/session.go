package sshpool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// FileInfo is a point-in-time snapshot of a remote file's metadata. It may
// be served from cache and become stale.
type FileInfo struct {
	Name       string
	Path       string
	Size       int64
	Mode       fs.FileMode
	ModTime    time.Time
	AccessTime time.Time
	UID        uint32
	GID        uint32
	IsDir      bool
}

// ExecResult carries the outcome of one remote command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// sftpClient is the slice of *sftp.Client the session uses, broken out so
// pool tests can fake file transfer without a network.
type sftpClient interface {
	Stat(path string) (fs.FileInfo, error)
	ReadDir(path string) ([]fs.FileInfo, error)
	Open(path string) (io.ReadCloser, error)
	Close() error
}

// Session is an authenticated remote session owned by the pool. It stays
// valid across operations until a liveness probe fails, a command times
// out, or the pool is closed.
type Session struct {
	key        string
	conn       conn
	pool       *Pool
	cmdTimeout time.Duration

	sftpMu sync.Mutex
	ftp    sftpClient
}

// Key returns the session identity (username@host:port).
func (s *Session) Key() string {
	return s.key
}

func (s *Session) close() {
	s.sftpMu.Lock()
	if s.ftp != nil {
		s.ftp.Close()
		s.ftp = nil
	}
	s.sftpMu.Unlock()
	s.conn.Close()
}

func (s *Session) fileClient() (sftpClient, error) {
	s.sftpMu.Lock()
	defer s.sftpMu.Unlock()
	if s.ftp != nil {
		return s.ftp, nil
	}
	c, err := s.conn.OpenSFTP()
	if err != nil {
		return nil, fmt.Errorf("open sftp: %w", err)
	}
	s.ftp = c
	return c, nil
}

// Stat returns metadata for a remote path.
func (s *Session) Stat(path string) (FileInfo, error) {
	c, err := s.fileClient()
	if err != nil {
		return FileInfo{}, err
	}
	fi, err := c.Stat(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return toFileInfo(path, fi), nil
}

// ReadDir lists a remote directory.
func (s *Session) ReadDir(path string) ([]FileInfo, error) {
	c, err := s.fileClient()
	if err != nil {
		return nil, err
	}
	entries, err := c.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", path, err)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, fi := range entries {
		out = append(out, toFileInfo(joinRemote(path, fi.Name()), fi))
	}
	return out, nil
}

// ReadAt reads up to n bytes from a remote file starting at offset. A short
// read at end of file is not an error.
func (s *Session) ReadAt(path string, offset int64, n int) ([]byte, error) {
	c, err := s.fileClient()
	if err != nil {
		return nil, err
	}
	f, err := c.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if offset > 0 {
		if seeker, ok := f.(io.Seeker); ok {
			if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
				return nil, fmt.Errorf("seek %s: %w", path, err)
			}
		} else if _, err := io.CopyN(io.Discard, f, offset); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, fmt.Errorf("skip to offset %d in %s: %w", offset, path, err)
		}
	}

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return buf[:read], nil
}

// Exec runs one sanitized remote command under the pool's command timeout.
// A timed-out session is discarded rather than reused: the remote side may
// still be running the command.
func (s *Session) Exec(ctx context.Context, cmd string) (ExecResult, error) {
	if s.cmdTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cmdTimeout)
		defer cancel()
	}

	res, err := s.conn.Exec(ctx, cmd)
	if err != nil && ctx.Err() != nil {
		s.pool.Invalidate(s.key)
		return ExecResult{}, fmt.Errorf("remote command timed out: %w", ctx.Err())
	}
	return res, err
}

func toFileInfo(path string, fi fs.FileInfo) FileInfo {
	out := FileInfo{
		Name:    fi.Name(),
		Path:    path,
		Size:    fi.Size(),
		Mode:    fi.Mode(),
		ModTime: fi.ModTime(),
		IsDir:   fi.IsDir(),
	}
	if st, ok := fi.Sys().(*sftp.FileStat); ok && st != nil {
		out.UID = st.UID
		out.GID = st.GID
		out.AccessTime = time.Unix(int64(st.Atime), 0)
	}
	return out
}

func joinRemote(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// sshConn adapts *ssh.Client to the conn interface.
type sshConn struct {
	client *ssh.Client
}

// Ping sends an SSH keepalive request as a no-op liveness probe.
func (c *sshConn) Ping() error {
	_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
	return err
}

func (c *sshConn) Exec(ctx context.Context, cmd string) (ExecResult, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return ExecResult{}, fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case <-ctx.Done():
		sess.Close()
		return ExecResult{}, ctx.Err()
	case err := <-done:
		res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				res.ExitCode = exitErr.ExitStatus()
				return res, nil
			}
			return res, fmt.Errorf("run %q: %w", cmd, err)
		}
		return res, nil
	}
}

func (c *sshConn) OpenSFTP() (sftpClient, error) {
	client, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, err
	}
	return &sftpAdapter{client}, nil
}

func (c *sshConn) Close() error {
	return c.client.Close()
}

// sftpAdapter narrows *sftp.Client to the sftpClient interface.
type sftpAdapter struct {
	c *sftp.Client
}

func (a *sftpAdapter) Stat(path string) (fs.FileInfo, error) {
	return a.c.Stat(path)
}

func (a *sftpAdapter) ReadDir(path string) ([]fs.FileInfo, error) {
	return a.c.ReadDir(path)
}

func (a *sftpAdapter) Open(path string) (io.ReadCloser, error) {
	return a.c.Open(path)
}

func (a *sftpAdapter) Close() error {
	return a.c.Close()
}
