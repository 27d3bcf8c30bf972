package directory

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/go-ldap/ldap/v3"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonWord = regexp.MustCompile(`[^\w]`)

// Normalize turns a name into an ASCII login: accents are decomposed and
// dropped, the result is lower-cased and stripped of non-word characters.
func Normalize(value string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII
	})))
	ascii, _, err := transform.String(t, value)
	if err != nil {
		ascii = value
	}
	return nonWord.ReplaceAllString(strings.ToLower(ascii), "")
}

// DisplayName is "<first> <LAST>"
func DisplayName(firstName, lastName string) string {
	return strings.TrimSpace(firstName + " " + strings.ToUpper(lastName))
}

// baseAttributes maps name and email to the attributes shared by both
// directory variants. An empty value maps to no value.
func baseAttributes(c Changes) map[string][]string {
	return map[string][]string{
		"givenName":   values(c.FirstName),
		"sn":          values(strings.ToUpper(c.LastName)),
		"displayName": values(DisplayName(c.FirstName, c.LastName)),
		"mail":        values(c.Email),
	}
}

// baseAttributeNames is the order in which base attributes are written
var baseAttributeNames = []string{"givenName", "sn", "displayName", "mail"}

func values(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return []string{v}
}

// attribute is one attribute of an add request, kept ordered
type attribute struct {
	name   string
	values []string
}

// newAddRequest builds an add request skipping attributes without values
func newAddRequest(dn string, attrs []attribute) *ldap.AddRequest {
	req := ldap.NewAddRequest(dn, nil)
	for _, a := range attrs {
		if len(a.values) > 0 {
			req.Attribute(a.name, a.values)
		}
	}
	return req
}

// diffModify compares wanted attributes with the entry. Attributes that are
// not in wanted are left alone; a wanted attribute without values is removed
// if the entry has it. It returns nil when nothing differs.
func diffModify(entry *ldap.Entry, names []string, wanted map[string][]string) *ldap.ModifyRequest {
	req := ldap.NewModifyRequest(entry.DN, nil)
	changed := false
	for _, name := range names {
		want := wanted[name]
		have := entry.GetAttributeValues(name)
		switch {
		case len(want) == 0 && len(have) > 0:
			req.Delete(name, nil)
			changed = true
		case len(want) > 0 && !sameValues(have, want):
			req.Replace(name, want)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return req
}

func sameValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
