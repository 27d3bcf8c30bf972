// Package directory provisions user accounts in Active Directory or in a
// POSIX/Samba OpenLDAP tree.
package directory

import (
	"context"

	"github.com/go-ldap/ldap/v3"
)

// Account holds what is needed to create a directory account
type Account struct {
	UserID    string
	FirstName string
	LastName  string
	Email     string
}

// Changes returns the attributes an update may rewrite
func (a Account) Changes() Changes {
	return Changes{FirstName: a.FirstName, LastName: a.LastName, Email: a.Email}
}

// Changes holds the name and email of an account. An empty value removes
// the attribute from the entry.
type Changes struct {
	FirstName string
	LastName  string
	Email     string
}

// Client performs account operations against one directory session.
// Every operation reads the current entry before writing.
type Client interface {
	// CreateAccount adds the account and returns its DN and initial password.
	// It fails with DIRECTORY_CONFLICT when the login attribute is taken.
	// An entry added but not fully provisioned is removed before returning.
	CreateAccount(ctx context.Context, account Account) (dn, password string, err error)
	// UpdateAccount rewrites the attributes that differ and reports whether
	// anything was sent. It fails with DIRECTORY_NOT_FOUND when no account matches.
	UpdateAccount(ctx context.Context, userID string, changes Changes) (dn string, changed bool, err error)
	// DeleteAccount removes the account. It fails with DIRECTORY_NOT_FOUND
	// when no account matches.
	DeleteAccount(ctx context.Context, userID string) (dn string, err error)
}

// Session is a Client bound to an open, authenticated connection
type Session interface {
	Client
	Close()
}

// Opener opens directory sessions. A run opens one session per phase.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// Conn is the subset of *ldap.Conn used by the clients
type Conn interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Add(req *ldap.AddRequest) error
	Modify(req *ldap.ModifyRequest) error
	Del(req *ldap.DelRequest) error
	PasswordModify(req *ldap.PasswordModifyRequest) (*ldap.PasswordModifyResult, error)
}

// CommandRunner runs a command on the directory host. It is used to reset
// AD passwords when the LDAP connection is not encrypted.
type CommandRunner interface {
	Run(ctx context.Context, command, keyName string) (string, error)
}
