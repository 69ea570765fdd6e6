package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultPort           = 22
	defaultUser           = "dokku"
	defaultCommandPrefix  = "dokku"
	defaultDialTimeout    = 30 * time.Second
	defaultCommandTimeout = 5 * time.Minute
)

// Config holds the connection settings for the remote PaaS host. Exactly
// one of KeyPath, Key or Password must be provided.
type Config struct {
	Host           string
	Port           int
	User           string
	KeyPath        string
	Key            string
	Password       string
	KnownHosts     string
	CommandPrefix  string
	DialTimeout    time.Duration
	CommandTimeout time.Duration
}

// Client drives the remote PaaS host over a single authenticated SSH
// connection. One SSH session is opened per command, so a Client is safe
// to use from a single workflow at a time; concurrent workflows should
// each dial their own client via Factory.
type Client struct {
	cfg     Config
	timeout time.Duration

	mu   sync.Mutex
	conn *ssh.Client

	// runner executes one raw command; replaced in tests
	runner func(ctx context.Context, command string) (string, error)
}

// NewClient creates a disconnected client. Call Connect before issuing
// commands.
func NewClient(cfg Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.User == "" {
		cfg.User = defaultUser
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = defaultCommandPrefix
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}

	c := &Client{
		cfg:     cfg,
		timeout: cfg.CommandTimeout,
	}
	c.runner = c.runSSH
	return c
}

// Connect establishes the SSH connection. Calling Connect on an already
// connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	auth, err := c.authMethods()
	if err != nil {
		return err
	}

	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return err
	}

	sshConfig := &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.cfg.DialTimeout,
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("connect aborted: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	conn, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return fmt.Errorf("failed to dial remote host %s: %w", addr, err)
	}

	c.conn = conn
	zap.S().Named("remote:connect").Infow("Connected to remote host", "host", c.cfg.Host, "user", c.cfg.User)
	return nil
}

// Close releases the SSH connection. Closing a disconnected client is a
// no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Execute runs one raw command on the remote host and returns its stdout.
// A non-zero exit code is returned as a *CommandError carrying the
// captured stderr.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	return c.runner(ctx, command)
}

func (c *Client) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	keyData := []byte(c.cfg.Key)
	if c.cfg.KeyPath != "" {
		data, err := os.ReadFile(c.cfg.KeyPath)
		if err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("cannot read key file %s: %v", c.cfg.KeyPath, err)}
		}
		keyData = data
	}

	if len(keyData) > 0 {
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("cannot parse private key: %v", err)}
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if c.cfg.Password != "" {
		methods = append(methods, ssh.Password(c.cfg.Password))
	}

	if len(methods) == 0 {
		return nil, &ConfigurationError{Reason: "no credential material configured: set a key file path, an inline key or a password"}
	}
	return methods, nil
}

func (c *Client) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.cfg.KnownHosts == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(c.cfg.KnownHosts)
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("cannot load known_hosts file %s: %v", c.cfg.KnownHosts, err)}
	}
	return callback, nil
}

// runSSH executes one command over a fresh SSH session. Context
// cancellation closes the session so a stuck remote command cannot hang
// the caller past its deadline.
func (c *Client) runSSH(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return "", &ConfigurationError{Reason: "client is not connected"}
	}

	session, err := conn.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open SSH session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		<-done
		return "", &CommandError{
			Command: command,
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     ctx.Err(),
		}
	case err = <-done:
	}

	if err != nil {
		cmdErr := &CommandError{
			Command: command,
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitStatus()
		}
		return "", cmdErr
	}

	return stdout.String(), nil
}

// Factory produces a connected client per workflow invocation so
// concurrent workflows never share one session.
type Factory struct {
	cfg Config
}

func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

// Dial returns a freshly connected client. The caller owns the client
// and must Close it.
func (f *Factory) Dial(ctx context.Context) (*Client, error) {
	client := NewClient(f.cfg)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}
