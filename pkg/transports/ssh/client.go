// Package ssh runs the Nix evaluator on a remote NixOS host.
//
// Client satisfies nixeval.Runner by executing the evaluator over an SSH
// session, and provides ReadFile over SFTP so module files on the remote
// host can be hashed for cache freshness.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/boredom101/nix-gui/pkg/nixeval"
)

// Client holds one SSH connection to the evaluation host.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu     sync.Mutex
	client *ssh.Client
	sftp   *sftp.Client
}

// NewClient validates config and returns an unconnected client.
func NewClient(config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{
		config: config,
		logger: logger.With().Str("component", "ssh").Str("host", config.Address()).Logger(),
	}, nil
}

// Connect establishes the SSH connection if it is not already open.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.connectLocked(ctx)
	return err
}

func (c *Client) connectLocked(ctx context.Context) (*ssh.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	clientConfig, release, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	done := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", c.config.Address(), clientConfig)
		if rerr := release(); rerr != nil {
			c.logger.Debug().Err(rerr).Msg("Failed to close ssh-agent connection")
		}
		done <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		// reap the dial so its connection is not leaked
		go func() {
			if r := <-done; r.client != nil {
				r.client.Close()
			}
		}()
		return nil, &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case r := <-done:
		if r.err != nil {
			return nil, &TransportError{Op: "connect", Err: r.err, IsTemporary: true}
		}
		c.client = r.client
		c.logger.Info().Msg("SSH connection established")
		return c.client, nil
	}
}

// Close closes the SFTP and SSH connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.sftp != nil {
		errs = append(errs, c.sftp.Close())
		c.sftp = nil
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
		c.client = nil
	}
	return errors.Join(errs...)
}

// Run executes name with args on the remote host and captures its output.
// A non-zero exit status is reported in the Output, not as an error.
func (c *Client) Run(ctx context.Context, name string, args []string) (*nixeval.Output, error) {
	c.mu.Lock()
	client, err := c.connectLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "execute", Err: fmt.Errorf("failed to create session: %w", err), IsTemporary: true}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	cmd := ShellJoin(append([]string{name}, args...))
	start := time.Now()

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case runErr = <-done:
	}

	out := &nixeval.Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	c.logger.Debug().
		Str("command", name).
		Int("stdout_len", len(out.Stdout)).
		Int("stderr_len", len(out.Stderr)).
		Dur("duration", time.Since(start)).
		Err(runErr).
		Msg("remote command completed")

	if runErr != nil {
		var exitErr *ssh.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, &TransportError{Op: "execute", Err: runErr, IsTemporary: true}
		}
		out.ExitCode = exitErr.ExitStatus()
	}

	return out, nil
}

// ReadFile reads a whole file from the remote host over SFTP.
func (c *Client) ReadFile(ctx context.Context, path string) ([]byte, error) {
	sftpClient, err := c.sftpClient(ctx)
	if err != nil {
		return nil, err
	}

	f, err := sftpClient.Open(path)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: fmt.Errorf("failed to open %s: %w", path, err)}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: fmt.Errorf("failed to read %s: %w", path, err), IsTemporary: true}
	}
	return data, nil
}

func (c *Client) sftpClient(ctx context.Context) (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftp != nil {
		return c.sftp, nil
	}

	client, err := c.connectLocked(ctx)
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, &TransportError{Op: "sftp-init", Err: fmt.Errorf("failed to create SFTP client: %w", err), IsTemporary: true}
	}
	c.sftp = sftpClient
	return sftpClient, nil
}
