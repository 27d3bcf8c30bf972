package directory

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"github.com/openidx/hrsync/internal/common/config"
	apperrors "github.com/openidx/hrsync/internal/common/errors"
)

// LDAPConnector dials and binds directory connections
type LDAPConnector struct {
	cfg    config.LDAPConfig
	logger *zap.Logger
}

// NewLDAPConnector creates a new LDAP connector
func NewLDAPConnector(cfg config.LDAPConfig, logger *zap.Logger) *LDAPConnector {
	return &LDAPConnector{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "ldap-connector")),
	}
}

// Connect establishes an LDAP connection with TLS/StartTLS and binds.
// The returned function closes the connection.
func (c *LDAPConnector) Connect(ctx context.Context) (Conn, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)

	tlsConfig := &tls.Config{
		InsecureSkipVerify: c.cfg.SkipTLSVerify,
		ServerName:         c.cfg.Host,
	}

	var conn *ldap.Conn
	var err error

	if c.cfg.UseTLS() {
		conn, err = ldap.DialTLS("tcp", addr, tlsConfig)
	} else {
		conn, err = ldap.Dial("tcp", addr)
	}
	if err != nil {
		return nil, nil, apperrors.Transport(fmt.Sprintf("failed to connect to LDAP server %s", addr), err)
	}
	closer := func() { conn.Close() }

	if c.cfg.StartTLS && !c.cfg.UseTLS() {
		if err := conn.StartTLS(tlsConfig); err != nil {
			closer()
			return nil, nil, apperrors.Transport("StartTLS failed", err)
		}
	}

	if err := conn.Bind(c.cfg.BindDN, c.cfg.BindPassword); err != nil {
		closer()
		return nil, nil, apperrors.Transport("LDAP bind failed", err)
	}

	c.logger.Debug("LDAP session opened",
		zap.String("host", c.cfg.Host),
		zap.Bool("tls", c.cfg.UseTLS()),
		zap.Bool("start_tls", c.cfg.StartTLS),
	)
	return conn, closer, nil
}

// classify turns a go-ldap error into the application error taxonomy.
// Errors it does not recognize are returned wrapped as internal errors.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	switch {
	case ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists):
		return apperrors.AlreadyExists(what, err)
	case ldap.IsErrorAnyOf(err, ldap.ErrorNetwork, ldap.LDAPResultServerDown, ldap.LDAPResultUnavailable, ldap.LDAPResultBusy):
		return apperrors.Transport(fmt.Sprintf("directory unavailable during %s", what), err)
	}
	return apperrors.Internal(fmt.Sprintf("directory operation on %s failed", what), err)
}

// searchOne returns the first entry under base matching attr=value, or nil
func searchOne(conn Conn, base, attr, value string, attrs []string) (*ldap.Entry, error) {
	req := ldap.NewSearchRequest(
		base,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		fmt.Sprintf("(%s=%s)", ldap.EscapeFilter(attr), ldap.EscapeFilter(value)),
		attrs,
		nil,
	)

	result, err := conn.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, nil
		}
		return nil, classify(err, "search "+value)
	}
	if len(result.Entries) == 0 {
		return nil, nil
	}
	return result.Entries[0], nil
}

// encodePasswordAD encodes a password for AD's unicodePwd attribute (UTF-16LE with surrounding quotes)
func encodePasswordAD(password string) []byte {
	quoted := "\"" + password + "\""
	runes := utf16.Encode([]rune(quoted))
	buf := make([]byte, len(runes)*2)
	for i, r := range runes {
		binary.LittleEndian.PutUint16(buf[i*2:], r)
	}
	return buf
}
