package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication
	AuthMethodKey AuthMethod = "key"

	// AuthMethodAgent uses the keys held by a running ssh-agent
	AuthMethodAgent AuthMethod = "agent"
)

// defaultKeyNames are tried in order under ~/.ssh when no key is configured.
var defaultKeyNames = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// Config holds the connection settings for a remote NixOS host.
type Config struct {
	Host string
	Port int
	User string

	AuthMethod AuthMethod
	Password   string

	// PrivateKeyPath defaults to the first of ~/.ssh/id_ed25519, id_ecdsa
	// and id_rsa that exists.
	PrivateKeyPath       string
	PrivateKeyPassphrase string

	// AgentSocket is the ssh-agent socket, SSH_AUTH_SOCK by default.
	AgentSocket string

	KnownHostsPath string

	// StrictHostKeyChecking rejects hosts missing from KnownHostsPath.
	// When false any host key is accepted.
	StrictHostKeyChecking bool

	ConnectionTimeout time.Duration
}

// DefaultConfig returns key authentication against port 22 with strict
// host key checking.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		AgentSocket:           os.Getenv("SSH_AUTH_SOCK"),
		KnownHostsPath:        filepath.Join(sshDir(), "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
	}
}

func sshDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ssh"
	}
	return filepath.Join(home, ".ssh")
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Port))
	}
	if c.User == "" {
		errs = append(errs, errors.New("user is required"))
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			errs = append(errs, errors.New("password is required for password authentication"))
		}
	case AuthMethodKey:
		if _, err := c.privateKey(); err != nil {
			errs = append(errs, err)
		}
	case AuthMethodAgent:
		if c.AgentSocket == "" {
			errs = append(errs, errors.New("agent socket is required for agent authentication; is SSH_AUTH_SOCK set?"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported auth method: %q", c.AuthMethod))
	}

	if c.StrictHostKeyChecking && c.KnownHostsPath == "" {
		errs = append(errs, errors.New("known hosts path is required for strict host key checking"))
	}
	if c.ConnectionTimeout <= 0 {
		errs = append(errs, errors.New("connection timeout must be positive"))
	}

	return errors.Join(errs...)
}

// privateKey returns the configured key path, or the first default key
// that exists.
func (c *Config) privateKey() (string, error) {
	if c.PrivateKeyPath != "" {
		if _, err := os.Stat(c.PrivateKeyPath); err != nil {
			return "", fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
		return c.PrivateKeyPath, nil
	}
	dir := sshDir()
	for _, name := range defaultKeyNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no private key configured and none found in %s", dir)
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the Config. The
// returned release function closes the agent connection, if any, and must
// be called once the handshake is done.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, func() error, error) {
	release := func() error { return nil }

	var authMethods []ssh.AuthMethod
	switch c.AuthMethod {
	case AuthMethodPassword:
		authMethods = append(authMethods,
			ssh.Password(c.Password),
			// many servers only offer keyboard-interactive for passwords
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			}),
		)

	case AuthMethodKey:
		signer, err := c.loadSigner()
		if err != nil {
			return nil, nil, err
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))

	case AuthMethodAgent:
		conn, err := net.Dial("unix", c.AgentSocket)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to ssh-agent: %w", err)
		}
		release = conn.Close
		authMethods = append(authMethods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))

	default:
		return nil, nil, fmt.Errorf("unsupported auth method: %q", c.AuthMethod)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.StrictHostKeyChecking {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			_ = release()
			return nil, nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, release, nil
}

func (c *Config) loadSigner() (ssh.Signer, error) {
	path, err := c.privateKey()
	if err != nil {
		return nil, err
	}
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	var signer ssh.Signer
	if c.PrivateKeyPassphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
	}
	return signer, nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
