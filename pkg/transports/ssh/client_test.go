package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/boredom101/nix-gui/pkg/nixeval"
)

type execHandler func(cmd string) (stdout, stderr string, status uint32)

// startTestServer runs an SSH server on localhost that answers exec requests
// with handler and serves the sftp subsystem from the local filesystem.
func startTestServer(t *testing.T, handler execHandler) *Config {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	serverConfig := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) == "secret" {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected")
		},
	}
	serverConfig.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, serverConfig, handler)
		}
	}()

	host, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := DefaultConfig(host, "nixos")
	cfg.Port = port
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "secret"
	cfg.StrictHostKeyChecking = false
	return cfg
}

func serveConn(conn net.Conn, config *ssh.ServerConfig, handler execHandler) {
	_, channels, requests, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(requests)

	for newChannel := range channels {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go serveSession(channel, requests, handler)
	}
}

func serveSession(channel ssh.Channel, requests <-chan *ssh.Request, handler execHandler) {
	defer channel.Close()

	for req := range requests {
		var payload struct{ Value string }
		_ = ssh.Unmarshal(req.Payload, &payload)

		switch {
		case req.Type == "exec":
			_ = req.Reply(true, nil)
			stdout, stderr, status := handler(payload.Value)
			_, _ = io.WriteString(channel, stdout)
			_, _ = io.WriteString(channel.Stderr(), stderr)
			_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
			return
		case req.Type == "subsystem" && payload.Value == "sftp":
			_ = req.Reply(true, nil)
			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			_ = server.Serve()
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}

func TestClientRun(t *testing.T) {
	var (
		mu       sync.Mutex
		commands []string
	)
	cfg := startTestServer(t, func(cmd string) (string, string, uint32) {
		mu.Lock()
		commands = append(commands, cmd)
		mu.Unlock()
		if strings.Contains(cmd, "throw") {
			return "", "error: boom\n", 1
		}
		return "2\n", "", 0
	})

	client, err := NewClient(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	out, err := client.Run(ctx, "nix-instantiate", []string{"--eval", "-E", "1 + 1", "--json"})
	require.NoError(t, err)
	assert.Equal(t, "2\n", string(out.Stdout))
	assert.Empty(t, out.Stderr)
	assert.Zero(t, out.ExitCode)

	out, err = client.Run(ctx, "nix-instantiate", []string{"--eval", "-E", `throw "it's broken"`})
	require.NoError(t, err)
	assert.Equal(t, 1, out.ExitCode)
	assert.Equal(t, "error: boom\n", string(out.Stderr))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"nix-instantiate --eval -E '1 + 1' --json",
		`nix-instantiate --eval -E 'throw "it'\''s broken"'`,
	}, commands)
}

func TestClientAsEvaluatorRunner(t *testing.T) {
	var attempts atomic.Int32
	cfg := startTestServer(t, func(cmd string) (string, string, uint32) {
		attempts.Add(1)
		if strings.Contains(cmd, "--show-trace") {
			return `{"enable":true}`, "", 0
		}
		return "", "error: transient\n", 1
	})

	client, err := NewClient(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	e, err := nixeval.New(nixeval.Config{
		Runner:   client,
		ReadFile: client.ReadFile,
		Remote:   true,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	v, err := e.Evaluate(context.Background(), "{ enable = true; }", nixeval.EvalOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"enable": true}, v)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestClientReadFile(t *testing.T) {
	cfg := startTestServer(t, func(string) (string, string, uint32) { return "", "", 0 })

	path := filepath.Join(t.TempDir(), "configuration.nix")
	require.NoError(t, os.WriteFile(path, []byte("{ networking.hostName = \"box\"; }"), 0o644))

	client, err := NewClient(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	data, err := client.ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "{ networking.hostName = \"box\"; }", string(data))

	_, err = client.ReadFile(context.Background(), filepath.Join(t.TempDir(), "missing.nix"))
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "read", transportErr.Op)
}

func TestClientConnectFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().(*net.TCPAddr)
	listener.Close()

	cfg := DefaultConfig("127.0.0.1", "nixos")
	cfg.Port = addr.Port
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "secret"
	cfg.StrictHostKeyChecking = false

	client, err := NewClient(cfg, zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Run(context.Background(), "true", nil)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "connect", transportErr.Op)
	assert.True(t, transportErr.Temporary())
}

func TestShellJoin(t *testing.T) {
	tests := []struct {
		words []string
		want  string
	}{
		{[]string{"nix-instantiate", "--eval"}, "nix-instantiate --eval"},
		{[]string{"-I", "nixpkgs=/nix/var/nix/profiles/per-user/root/channels/nixos"}, "-I nixpkgs=/nix/var/nix/profiles/per-user/root/channels/nixos"},
		{[]string{"-E", "with import <nixpkgs> {}; x"}, "-E 'with import <nixpkgs> {}; x'"},
		{[]string{"it's"}, `'it'\''s'`},
		{[]string{""}, "''"},
		{[]string{"$HOME"}, "'$HOME'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShellJoin(tt.words))
	}
}
