package directory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"github.com/openidx/hrsync/internal/common/config"
	apperrors "github.com/openidx/hrsync/internal/common/errors"
)

const adLoginAttribute = "userPrincipalName"

// ActiveDirectory provisions accounts in Active Directory. The login is the
// userPrincipalName; the sAMAccountName and the CN are derived from the name
// and suffixed with a counter on collision.
type ActiveDirectory struct {
	accounts
	domain    string
	encrypted bool
	runner    CommandRunner
	keyName   string
}

// NewActiveDirectory creates an Active Directory client bound to conn
func NewActiveDirectory(conn Conn, cfg config.LDAPConfig, runner CommandRunner, keyName string, logger *zap.Logger) *ActiveDirectory {
	return &ActiveDirectory{
		accounts: accounts{
			conn:           conn,
			usersDN:        cfg.UsersDN,
			loginAttribute: adLoginAttribute,
			logger:         logger,
		},
		domain:    cfg.Domain,
		encrypted: cfg.Encrypted(),
		runner:    runner,
		keyName:   keyName,
	}
}

// CreateAccount adds the user, sets its password and activates it.
// The initial password is the user identifier.
func (d *ActiveDirectory) CreateAccount(ctx context.Context, account Account) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	first := []rune(account.FirstName)
	if len(first) == 0 || account.LastName == "" {
		return "", "", apperrors.Validation(fmt.Sprintf("user %s needs a first and last name", account.UserID))
	}
	// the collision loop below only ends if the login itself is free
	if err := d.exists(account.UserID); err != nil {
		return "", "", err
	}

	username := Normalize(string(first[0]) + account.LastName)
	cn := DisplayName(account.FirstName, account.LastName)
	baseDN := fmt.Sprintf("CN=%s,%s", ldap.EscapeDN(cn), d.usersDN)

	dn := baseDN
	sam := username
	for suffix := 1; ; suffix++ {
		err := d.add(dn, sam, account)
		if err == nil {
			break
		}
		if !apperrors.IsAlreadyExists(err) {
			return "", "", err
		}
		// account name taken: suffix it and retry with the plain CN
		sam = username + strconv.Itoa(suffix)
		dn = baseDN
		err = d.add(dn, sam, account)
		if err == nil {
			break
		}
		if !apperrors.IsAlreadyExists(err) {
			return "", "", err
		}
		// full name taken too: suffix the CN
		dn = fmt.Sprintf("CN=%s,%s", ldap.EscapeDN(cn+strconv.Itoa(suffix)), d.usersDN)

		if err := ctx.Err(); err != nil {
			return "", "", err
		}
	}

	password := account.UserID
	if err := d.setPassword(ctx, dn, password); err != nil {
		d.rollback(dn, err)
		return "", "", err
	}
	if err := d.activate(dn); err != nil {
		d.rollback(dn, err)
		return "", "", err
	}

	d.logger.Info("account created",
		zap.String("user_id", account.UserID),
		zap.String("dn", dn),
		zap.String("sam_account_name", sam),
	)
	return dn, password, nil
}

func (d *ActiveDirectory) add(dn, sam string, account Account) error {
	base := baseAttributes(account.Changes())
	req := newAddRequest(dn, []attribute{
		{"objectClass", []string{"top", "user", "person", "organizationalPerson"}},
		{"givenName", base["givenName"]},
		{"sn", base["sn"]},
		{"displayName", base["displayName"]},
		{"mail", base["mail"]},
		{adLoginAttribute, []string{account.UserID}},
		{"sAMAccountName", []string{sam}},
		{"objectCategory", []string{"CN=Person,CN=Schema,CN=Configuration," + d.domain}},
		{"instanceType", []string{"4"}},
	})
	d.logger.Debug("add", zap.String("dn", dn), zap.String("sam_account_name", sam))
	return classify(d.conn.Add(req), dn)
}

// setPassword writes unicodePwd, which AD only accepts over an encrypted
// connection; otherwise the password is reset through the remote channel.
func (d *ActiveDirectory) setPassword(ctx context.Context, dn, password string) error {
	if d.encrypted {
		req := ldap.NewModifyRequest(dn, nil)
		req.Replace("unicodePwd", []string{string(encodePasswordAD(password))})
		return classify(d.conn.Modify(req), dn)
	}

	if d.runner == nil {
		return apperrors.New(apperrors.ErrInternal, "no remote channel to set the password over an unencrypted connection").
			WithMetadata("dn", dn)
	}
	cmd := fmt.Sprintf(`Set-ADAccountPassword -Identity %s -Reset -NewPassword (ConvertTo-SecureString -AsPlainText %s -Force)`,
		quotePowerShell(dn), quotePowerShell(password))
	out, err := d.runner.Run(ctx, cmd, d.keyName)
	if err != nil {
		return apperrors.Transport("remote password reset failed", err).WithMetadata("dn", dn)
	}
	d.logger.Debug("password reset", zap.String("dn", dn), zap.String("output", out))
	return nil
}

// activate enables the account and forces a password change at first logon
func (d *ActiveDirectory) activate(dn string) error {
	names := []string{"userAccountControl", "pwdLastSet"}
	entry, err := searchOne(d.conn, d.usersDN, "distinguishedName", dn, names)
	if err != nil {
		return err
	}
	if entry == nil {
		return apperrors.New(apperrors.ErrInternal, "created entry not found").WithMetadata("dn", dn)
	}

	req := diffModify(entry, names, map[string][]string{
		// NORMAL_ACCOUNT
		"userAccountControl": {"512"},
		"pwdLastSet":         {"0"},
	})
	if req == nil {
		return nil
	}
	return classify(d.conn.Modify(req), dn)
}

// quotePowerShell makes s a verbatim PowerShell string literal. Nothing is
// expanded inside single quotes; a quote is escaped by doubling it.
func quotePowerShell(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
