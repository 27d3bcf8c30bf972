package directory

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"github.com/openidx/hrsync/internal/common/config"
	apperrors "github.com/openidx/hrsync/internal/common/errors"
)

var userIDNumber = regexp.MustCompile(`^C(\d+)`)

// OpenLDAP provisions POSIX/Samba accounts. The login is the uid and the
// numeric identities are derived from the digits of the user identifier.
type OpenLDAP struct {
	accounts
	settings config.OpenLDAPConfig
}

// NewOpenLDAP creates an OpenLDAP client bound to conn
func NewOpenLDAP(conn Conn, cfg config.LDAPConfig, logger *zap.Logger) *OpenLDAP {
	s := cfg.OpenLDAP
	if s.UIDBase == 0 {
		s.UIDBase = 1000
	}
	if s.GIDNumber == 0 {
		s.GIDNumber = 500
	}
	if s.HomePrefix == "" {
		s.HomePrefix = "/home/users/users"
	}
	if s.SIDPrefix == "" {
		s.SIDPrefix = "S-1-5-21-1"
	}
	return &OpenLDAP{
		accounts: accounts{
			conn:           conn,
			usersDN:        cfg.UsersDN,
			loginAttribute: "uid",
			logger:         logger,
		},
		settings: s,
	}
}

// UIDNumber derives the POSIX uid number from a C<digits> identifier
func UIDNumber(userID string, base int) (int, error) {
	m := userIDNumber.FindStringSubmatch(userID)
	if m == nil {
		return 0, apperrors.Validation(fmt.Sprintf("user_id %s does not follow the correct format", userID))
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, apperrors.Validation(fmt.Sprintf("user_id %s has an out of range number", userID))
	}
	return base + n, nil
}

// CreateAccount adds the user and sets its password with the password
// modify extended operation. The initial password is the user identifier.
func (o *OpenLDAP) CreateAccount(ctx context.Context, account Account) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	uidNumber, err := UIDNumber(account.UserID, o.settings.UIDBase)
	if err != nil {
		return "", "", err
	}
	if err := o.exists(account.UserID); err != nil {
		return "", "", err
	}

	dn := fmt.Sprintf("CN=%s,%s", ldap.EscapeDN(account.UserID), o.usersDN)
	base := baseAttributes(account.Changes())
	req := newAddRequest(dn, []attribute{
		{"objectClass", []string{"top", "posixAccount", "sambaSamAccount", "inetOrgPerson"}},
		{"cn", []string{account.UserID}},
		{"givenName", base["givenName"]},
		{"sn", base["sn"]},
		{"displayName", base["displayName"]},
		{"mail", base["mail"]},
		{"uid", []string{account.UserID}},
		{"uidNumber", []string{strconv.Itoa(uidNumber)}},
		{"gidNumber", []string{strconv.Itoa(o.settings.GIDNumber)}},
		{"sambaSID", []string{fmt.Sprintf("%s-%d", o.settings.SIDPrefix, uidNumber)}},
		{"homeDirectory", []string{o.settings.HomePrefix + "/" + account.UserID}},
		{"sambaAcctFlags", []string{"[U]"}},
	})

	o.logger.Debug("add", zap.String("dn", dn), zap.Int("uid_number", uidNumber))
	if err := o.conn.Add(req); err != nil {
		return "", "", classify(err, dn)
	}

	password := account.UserID
	if _, err := o.conn.PasswordModify(ldap.NewPasswordModifyRequest(dn, "", password)); err != nil {
		err = classify(err, dn)
		o.rollback(dn, err)
		return "", "", err
	}

	o.logger.Info("account created",
		zap.String("user_id", account.UserID),
		zap.String("dn", dn),
		zap.Int("uid_number", uidNumber),
	)
	return dn, password, nil
}
