package directory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// fakeConn is an in-memory directory. It enforces unique DNs and unique
// values for the configured attributes, like AD does for sAMAccountName.
type fakeConn struct {
	entries   map[string]*ldap.Entry
	unique    []string
	onAdd     func(*ldap.Entry)
	passwords map[string]string
	adds      []string
	modifies  []*ldap.ModifyRequest
	failWith  error
	// failPassword fails only the password modify extended operation
	failPassword error
}

func newFakeConn(unique ...string) *fakeConn {
	return &fakeConn{
		entries:   make(map[string]*ldap.Entry),
		unique:    unique,
		passwords: make(map[string]string),
	}
}

func (f *fakeConn) entry(dn string) *ldap.Entry {
	return f.entries[strings.ToLower(dn)]
}

func parseFilter(filter string) (string, string) {
	filter = strings.TrimSuffix(strings.TrimPrefix(filter, "("), ")")
	attr, value, _ := strings.Cut(filter, "=")
	return attr, unescapeFilter(value)
}

// unescapeFilter reverses ldap.EscapeFilter's \XX hex escapes
func unescapeFilter(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' && i+2 < len(value) {
			if n, err := strconv.ParseUint(value[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(n))
				i += 2
				continue
			}
		}
		b.WriteByte(value[i])
	}
	return b.String()
}

func (f *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	attr, value := parseFilter(req.Filter)
	result := &ldap.SearchResult{}
	for _, e := range f.entries {
		if attr == "distinguishedName" {
			if strings.EqualFold(e.DN, value) {
				result.Entries = append(result.Entries, e)
			}
			continue
		}
		for _, v := range e.GetAttributeValues(attr) {
			if strings.EqualFold(v, value) {
				result.Entries = append(result.Entries, e)
				break
			}
		}
	}
	return result, nil
}

func (f *fakeConn) Add(req *ldap.AddRequest) error {
	if f.failWith != nil {
		return f.failWith
	}
	if f.entry(req.DN) != nil {
		return ldap.NewError(ldap.LDAPResultEntryAlreadyExists, fmt.Errorf("dn %s exists", req.DN))
	}
	attrs := make(map[string][]string, len(req.Attributes))
	for _, a := range req.Attributes {
		attrs[a.Type] = a.Vals
	}
	for _, name := range f.unique {
		for _, v := range attrs[name] {
			res, _ := f.Search(&ldap.SearchRequest{Filter: fmt.Sprintf("(%s=%s)", name, v)})
			if len(res.Entries) > 0 {
				return ldap.NewError(ldap.LDAPResultEntryAlreadyExists, fmt.Errorf("%s=%s exists", name, v))
			}
		}
	}

	e := ldap.NewEntry(req.DN, attrs)
	if f.onAdd != nil {
		f.onAdd(e)
	}
	f.entries[strings.ToLower(req.DN)] = e
	f.adds = append(f.adds, req.DN)
	return nil
}

func (f *fakeConn) Modify(req *ldap.ModifyRequest) error {
	if f.failWith != nil {
		return f.failWith
	}
	e := f.entry(req.DN)
	if e == nil {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
	}
	f.modifies = append(f.modifies, req)
	for _, c := range req.Changes {
		name := c.Modification.Type
		if name == "unicodePwd" {
			f.passwords[e.DN] = c.Modification.Vals[0]
			continue
		}
		setAttribute(e, name, c.Operation, c.Modification.Vals)
	}
	return nil
}

func setAttribute(e *ldap.Entry, name string, op uint, vals []string) {
	for i, a := range e.Attributes {
		if a.Name != name {
			continue
		}
		switch op {
		case ldap.DeleteAttribute:
			e.Attributes = append(e.Attributes[:i], e.Attributes[i+1:]...)
		case ldap.ReplaceAttribute:
			a.Values = vals
		case ldap.AddAttribute:
			a.Values = append(a.Values, vals...)
		}
		return
	}
	if op != ldap.DeleteAttribute {
		e.Attributes = append(e.Attributes, ldap.NewEntryAttribute(name, vals))
	}
}

func (f *fakeConn) Del(req *ldap.DelRequest) error {
	if f.failWith != nil {
		return f.failWith
	}
	if f.entry(req.DN) == nil {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
	}
	delete(f.entries, strings.ToLower(req.DN))
	return nil
}

func (f *fakeConn) PasswordModify(req *ldap.PasswordModifyRequest) (*ldap.PasswordModifyResult, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	if f.failPassword != nil {
		return nil, f.failPassword
	}
	if f.entry(req.UserIdentity) == nil {
		return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
	}
	f.passwords[req.UserIdentity] = req.NewPassword
	return &ldap.PasswordModifyResult{}, nil
}

// fakeRunner records remote commands
type fakeRunner struct {
	commands []string
	keys     []string
	err      error
}

func (r *fakeRunner) Run(_ context.Context, command, keyName string) (string, error) {
	r.commands = append(r.commands, command)
	r.keys = append(r.keys, keyName)
	return "", r.err
}

// fakeDialer hands out one connection and counts closes
type fakeDialer struct {
	conn   Conn
	closed int
	err    error
}

func (d *fakeDialer) Connect(ctx context.Context) (Conn, func(), error) {
	if d.err != nil {
		return nil, nil, d.err
	}
	return d.conn, func() { d.closed++ }, nil
}
