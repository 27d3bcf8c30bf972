package directory

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"github.com/openidx/hrsync/internal/common/config"
	apperrors "github.com/openidx/hrsync/internal/common/errors"
)

// Dialer opens an authenticated connection and a function closing it
type Dialer interface {
	Connect(ctx context.Context) (Conn, func(), error)
}

// Directory opens sessions of the configured variant
type Directory struct {
	cfg     config.LDAPConfig
	dialer  Dialer
	runner  CommandRunner
	keyName string
	logger  *zap.Logger
}

// Option configures a Directory
type Option func(*Directory)

// WithCommandRunner sets the remote channel used by Active Directory to reset
// passwords over an unencrypted connection, and the key it authenticates with.
func WithCommandRunner(runner CommandRunner, keyName string) Option {
	return func(d *Directory) {
		d.runner = runner
		d.keyName = keyName
	}
}

// New creates a Directory. cfg.Type selects the variant.
func New(cfg config.LDAPConfig, dialer Dialer, logger *zap.Logger, opts ...Option) (*Directory, error) {
	switch cfg.Type {
	case config.DirectoryActiveDirectory, config.DirectoryOpenLDAP:
	default:
		return nil, apperrors.Validation(fmt.Sprintf("unsupported directory type %q", cfg.Type))
	}
	d := &Directory{
		cfg:     cfg,
		dialer:  dialer,
		keyName: "id_ad_server",
		logger:  logger.With(zap.String("component", "directory"), zap.String("directory_type", cfg.Type)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Open connects, binds and returns a session of the configured variant
func (d *Directory) Open(ctx context.Context) (Session, error) {
	conn, closer, err := d.dialer.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &session{Client: d.Client(conn), close: closer}, nil
}

// Client returns the configured variant bound to conn
func (d *Directory) Client(conn Conn) Client {
	if d.cfg.Type == config.DirectoryActiveDirectory {
		return NewActiveDirectory(conn, d.cfg, d.runner, d.keyName, d.logger)
	}
	return NewOpenLDAP(conn, d.cfg, d.logger)
}

type session struct {
	Client
	close func()
}

func (s *session) Close() {
	if s.close != nil {
		s.close()
		s.close = nil
	}
}

// accounts implements the operations both variants share. Accounts are
// found under usersDN by their login attribute.
type accounts struct {
	conn           Conn
	usersDN        string
	loginAttribute string
	logger         *zap.Logger
}

func (a *accounts) find(userID string, attrs []string) (*ldap.Entry, error) {
	return searchOne(a.conn, a.usersDN, a.loginAttribute, userID, attrs)
}

// exists fails with a conflict when the login attribute is already taken
func (a *accounts) exists(userID string) error {
	entry, err := a.find(userID, []string{a.loginAttribute})
	if err != nil {
		return err
	}
	if entry != nil {
		return apperrors.AlreadyExists(fmt.Sprintf("%s=%s", a.loginAttribute, userID), nil).
			WithMetadata("dn", entry.DN)
	}
	return nil
}

func (a *accounts) UpdateAccount(ctx context.Context, userID string, changes Changes) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	entry, err := a.find(userID, baseAttributeNames)
	if err != nil {
		return "", false, err
	}
	if entry == nil {
		return "", false, apperrors.NotFound(userID)
	}

	req := diffModify(entry, baseAttributeNames, baseAttributes(changes))
	if req == nil {
		return entry.DN, false, nil
	}
	a.logger.Debug("modify", zap.String("dn", entry.DN), zap.Int("changes", len(req.Changes)))
	if err := a.conn.Modify(req); err != nil {
		return entry.DN, false, classify(err, entry.DN)
	}
	return entry.DN, true, nil
}

func (a *accounts) DeleteAccount(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	entry, err := a.find(userID, []string{a.loginAttribute})
	if err != nil {
		return "", err
	}
	if entry == nil {
		return "", apperrors.NotFound(userID)
	}

	a.logger.Debug("delete", zap.String("dn", entry.DN))
	if err := a.conn.Del(ldap.NewDelRequest(entry.DN, nil)); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return entry.DN, apperrors.NotFound(userID)
		}
		return entry.DN, classify(err, entry.DN)
	}
	return entry.DN, nil
}

// rollback removes an entry whose provisioning could not be completed, so
// the next run creates it again instead of finding a disabled leftover
func (a *accounts) rollback(dn string, cause error) {
	err := a.conn.Del(ldap.NewDelRequest(dn, nil))
	if err != nil && !ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
		a.logger.Error("failed to remove incomplete entry",
			zap.String("dn", dn), zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	a.logger.Warn("incomplete entry removed", zap.String("dn", dn), zap.Error(cause))
}
