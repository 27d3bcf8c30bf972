// Package transfer downloads HR extracts from the export server
package transfer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"github.com/openidx/hrsync/internal/common/config"
)

// Client is a connected file server session
type Client interface {
	List(ctx context.Context, dir string) ([]string, error)
	Fetch(ctx context.Context, remote string, w io.Writer) error
	Delete(ctx context.Context, remote string) error
	Close() error
}

// FTPClient is an FTP session, optionally protected with explicit TLS
type FTPClient struct {
	conn   *ftp.ServerConn
	addr   string
	logger *zap.Logger
}

var _ Client = (*FTPClient)(nil)

// DialFTP connects and logs in. With UseTLS the control and data channels are
// protected and the TLS session is shared between them, which servers
// enforcing session reuse require.
func DialFTP(ctx context.Context, cfg config.FTPConfig, logger *zap.Logger) (*FTPClient, error) {
	port := cfg.Port
	if port == 0 {
		port = 21
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(cfg.Timeout))
	}
	if cfg.UseTLS {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName:         cfg.Host,
			ClientSessionCache: tls.NewLRUClientSessionCache(0),
		}))
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ftp server %s: %w", addr, err)
	}
	if err := conn.Login(cfg.User, cfg.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login failed: %w", err)
	}

	return &FTPClient{
		conn:   conn,
		addr:   addr,
		logger: logger.With(zap.String("component", "ftp"), zap.String("host", addr)),
	}, nil
}

// List returns the names in dir as the server reports them
func (c *FTPClient) List(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names, err := c.conn.NameList(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	return names, nil
}

// Fetch copies the remote file into w
func (c *FTPClient) Fetch(ctx context.Context, remote string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := c.conn.Retr(remote)
	if err != nil {
		return fmt.Errorf("failed to retrieve %s: %w", remote, err)
	}
	defer resp.Close()

	if _, err := io.Copy(w, resp); err != nil {
		return fmt.Errorf("failed to download %s: %w", remote, err)
	}
	return nil
}

// Delete removes the remote file
func (c *FTPClient) Delete(ctx context.Context, remote string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.Delete(remote); err != nil {
		return fmt.Errorf("failed to delete %s: %w", remote, err)
	}
	return nil
}

// Close ends the session
func (c *FTPClient) Close() error {
	return c.conn.Quit()
}
