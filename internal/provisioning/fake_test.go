package provisioning

import (
	"context"
	"sync"

	apperrors "github.com/openidx/hrsync/internal/common/errors"
	"github.com/openidx/hrsync/internal/directory"
)

// fakeDirectory is an in-memory directory.Session keyed by user id
type fakeDirectory struct {
	mu       sync.Mutex
	accounts map[string]directory.Account

	createErr map[string]error
	updateErr map[string]error
	deleteErr map[string]error

	created []string
	updated []string
	deleted []string
	closed  int
}

func newFakeDirectory(accounts ...directory.Account) *fakeDirectory {
	d := &fakeDirectory{
		accounts:  make(map[string]directory.Account),
		createErr: make(map[string]error),
		updateErr: make(map[string]error),
		deleteErr: make(map[string]error),
	}
	for _, a := range accounts {
		d.accounts[a.UserID] = a
	}
	return d
}

func dnOf(userID string) string {
	return "CN=" + userID + ",ou=people,dc=example,dc=org"
}

func (d *fakeDirectory) CreateAccount(ctx context.Context, account directory.Account) (string, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.createErr[account.UserID]; err != nil {
		return "", "", err
	}
	if _, ok := d.accounts[account.UserID]; ok {
		return "", "", apperrors.AlreadyExists(account.UserID, nil)
	}
	d.accounts[account.UserID] = account
	d.created = append(d.created, account.UserID)
	return dnOf(account.UserID), account.UserID, nil
}

func (d *fakeDirectory) UpdateAccount(ctx context.Context, userID string, changes directory.Changes) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.updateErr[userID]; err != nil {
		return "", false, err
	}
	current, ok := d.accounts[userID]
	if !ok {
		return "", false, apperrors.NotFound(userID)
	}
	if current.Changes() == changes {
		return dnOf(userID), false, nil
	}
	current.FirstName, current.LastName, current.Email = changes.FirstName, changes.LastName, changes.Email
	d.accounts[userID] = current
	d.updated = append(d.updated, userID)
	return dnOf(userID), true, nil
}

func (d *fakeDirectory) DeleteAccount(ctx context.Context, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.deleteErr[userID]; err != nil {
		return "", err
	}
	if _, ok := d.accounts[userID]; !ok {
		return "", apperrors.NotFound(userID)
	}
	delete(d.accounts, userID)
	d.deleted = append(d.deleted, userID)
	return dnOf(userID), nil
}

func (d *fakeDirectory) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
}

func (d *fakeDirectory) account(userID string) (directory.Account, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[userID]
	return a, ok
}

// fakeOpener hands out the same fake directory for every session
type fakeOpener struct {
	dir    *fakeDirectory
	err    error
	opened int
}

func (o *fakeOpener) Open(ctx context.Context) (directory.Session, error) {
	if o.err != nil {
		return nil, o.err
	}
	o.opened++
	return o.dir, nil
}
