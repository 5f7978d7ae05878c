// Package sshpool manages authenticated remote sessions keyed by
// username@host:port, reusing live sessions across operations and
// reconnecting with bounded exponential backoff when they fail.
package sshpool

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/logreach/logreach/internal/logging"
	"github.com/logreach/logreach/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Credentials identifies and authenticates a remote host.
type Credentials struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Key returns the session identity: username@host:port.
func (c Credentials) Key() string {
	return fmt.Sprintf("%s@%s:%d", c.Username, c.Host, c.Port)
}

func (c Credentials) addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// Config bounds connection attempts and remote command execution.
type Config struct {
	Attempts       int           // dial attempts per Acquire
	BaseDelay      time.Duration // backoff start, doubled each attempt
	ConnectTimeout time.Duration // per attempt
	CommandTimeout time.Duration // ceiling for one remote command
}

// Defaults applied by New for zero fields.
const (
	DefaultAttempts       = 3
	DefaultBaseDelay      = 5 * time.Second
	DefaultConnectTimeout = 30 * time.Second
	DefaultCommandTimeout = 60 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	return c
}

// conn abstracts one authenticated SSH connection so tests can stand in a
// fake without a network.
type conn interface {
	// Ping performs a lightweight liveness probe.
	Ping() error
	// Exec runs one remote command and returns stdout, stderr, and exit code.
	Exec(ctx context.Context, cmd string) (ExecResult, error)
	// OpenSFTP returns a file-transfer client over this connection.
	OpenSFTP() (sftpClient, error)
	// Close tears the connection down.
	Close() error
}

type dialFunc func(ctx context.Context, creds Credentials, cfg Config) (conn, error)

// slot serializes all work for one identity: concurrent Acquire calls for
// the same identity cannot race to create duplicate sessions, while other
// identities proceed independently.
type slot struct {
	mu   sync.Mutex
	sess *Session
}

// Pool manages one reusable session per identity.
type Pool struct {
	cfg  Config
	dial dialFunc

	mu    sync.Mutex
	slots map[string]*slot
	live  int
}

// New creates a pool dialing real SSH connections.
func New(cfg Config) *Pool {
	return &Pool{
		cfg:   cfg.withDefaults(),
		dial:  sshDial,
		slots: make(map[string]*slot),
	}
}

func (p *Pool) slot(key string) *slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[key]
	if !ok {
		s = &slot{}
		p.slots[key] = s
	}
	return s
}

// Acquire returns a live session for the credentials, reusing an existing
// one when its liveness probe passes, and otherwise dialing with bounded
// exponential backoff. Retries apply to connection establishment only.
func (p *Pool) Acquire(ctx context.Context, creds Credentials) (*Session, error) {
	key := creds.Key()
	sl := p.slot(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.sess != nil {
		if err := sl.sess.conn.Ping(); err == nil {
			logging.Debug("reusing session", zap.String("identity", key))
			return sl.sess, nil
		}
		logging.Info("session failed liveness probe, reconnecting",
			zap.String("identity", key))
		metrics.RecordSessionProbeFailure()
		sl.sess.close()
		sl.sess = nil
		p.addLive(-1)
	}

	c, attempts, err := p.dialWithRetry(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", key, err)
	}
	if attempts > 1 {
		// Reconnection after failed attempts is a recovery, not an error.
		logging.Info("connection recovered",
			zap.String("identity", key), zap.Int("attempts", attempts))
		metrics.RecordSessionReconnect()
	} else {
		logging.Info("session established", zap.String("identity", key))
	}

	sl.sess = &Session{key: key, conn: c, pool: p, cmdTimeout: p.cfg.CommandTimeout}
	p.addLive(1)
	return sl.sess, nil
}

// addLive adjusts the live-session count under p.mu; callers hold the
// slot mutex, never p.mu.
func (p *Pool) addLive(delta int) {
	p.mu.Lock()
	p.live += delta
	n := p.live
	p.mu.Unlock()
	metrics.SetSessionsActive(n)
}

// dialWithRetry dials up to cfg.Attempts times, doubling the delay after
// each failure. A timeout counts as a failed attempt. The last error is
// returned when all attempts fail.
func (p *Pool) dialWithRetry(ctx context.Context, creds Credentials) (conn, int, error) {
	var lastErr error
	delay := p.cfg.BaseDelay

	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		c, err := p.dial(ctx, creds, p.cfg)
		metrics.RecordSessionConnect(err == nil)
		if err == nil {
			return c, attempt, nil
		}
		lastErr = err
		logging.Warn("connection attempt failed",
			zap.String("identity", creds.Key()),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == p.cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, p.cfg.Attempts, lastErr
}

// Invalidate closes and forgets the session for an identity, if present.
func (p *Pool) Invalidate(key string) {
	p.mu.Lock()
	sl, ok := p.slots[key]
	p.mu.Unlock()
	if !ok {
		return
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.sess != nil {
		sl.sess.close()
		sl.sess = nil
		p.addLive(-1)
		logging.Info("session invalidated", zap.String("identity", key))
	}
}

// CloseAll closes every pooled session.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	slots := make([]*slot, 0, len(p.slots))
	for _, sl := range p.slots {
		slots = append(slots, sl)
	}
	p.slots = make(map[string]*slot)
	p.mu.Unlock()

	for _, sl := range slots {
		sl.mu.Lock()
		if sl.sess != nil {
			sl.sess.close()
			sl.sess = nil
			p.addLive(-1)
		}
		sl.mu.Unlock()
	}
}

// sshDial establishes a real SSH connection with per-attempt timeouts.
func sshDial(ctx context.Context, creds Credentials, cfg Config) (conn, error) {
	clientCfg := &ssh.ClientConfig{
		User: creds.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(creds.Password),
		},
		// Hosts are operator-supplied; key pinning is the operator's concern.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.ConnectTimeout,
	}

	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	nc, err := d.DialContext(ctx, "tcp", creds.addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", creds.addr(), err)
	}

	sc, chans, reqs, err := ssh.NewClientConn(nc, creds.addr(), clientCfg)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", creds.addr(), err)
	}
	return &sshConn{client: ssh.NewClient(sc, chans, reqs)}, nil
}
