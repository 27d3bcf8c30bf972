// Package remote runs commands on the directory host over SSH
package remote

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/openidx/hrsync/internal/common/config"
)

// Runner runs a command remotely, authenticating with the named key
type Runner interface {
	Run(ctx context.Context, command, keyName string) (string, error)
}

var _ Runner = (*SSHRunner)(nil)

// SSHRunner runs commands as cfg.User on cfg.Host with a private key read
// from cfg.KeyDir.
type SSHRunner struct {
	cfg    config.SSHConfig
	logger *zap.Logger
}

// NewSSHRunner creates a runner for the configured host
func NewSSHRunner(cfg config.SSHConfig, logger *zap.Logger) *SSHRunner {
	return &SSHRunner{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "ssh-runner")),
	}
}

func (r *SSHRunner) clientConfig(keyName string) (*ssh.ClientConfig, error) {
	keyPath := filepath.Join(r.cfg.KeyDir, keyName)
	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key %s: %w", keyPath, err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if r.cfg.KnownHosts != "" {
		hostKeyCallback, err = knownhosts.New(r.cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            r.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         r.cfg.Timeout,
	}, nil
}

// Run executes command and returns its standard output. A non-zero exit
// status is an error carrying the standard error.
func (r *SSHRunner) Run(ctx context.Context, command, keyName string) (string, error) {
	clientCfg, err := r.clientConfig(keyName)
	if err != nil {
		return "", err
	}

	port := r.cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(r.cfg.Host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: r.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	r.logger.Debug("run command", zap.String("host", addr), zap.String("key", keyName))

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		client.Close()
		return "", ctx.Err()
	case err = <-done:
	}

	if err != nil {
		r.logger.Error("remote command failed",
			zap.String("host", addr),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
			zap.Error(err),
		)
		return stdout.String(), fmt.Errorf("remote command on %s failed: %w", addr, err)
	}
	if stderr.Len() > 0 {
		r.logger.Info("remote command error output", zap.String("stderr", strings.TrimSpace(stderr.String())))
	}
	r.logger.Debug("remote command result", zap.String("stdout", strings.TrimSpace(stdout.String())))
	return stdout.String(), nil
}
