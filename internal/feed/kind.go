// Package feed reads the semicolon separated HR extracts and turns each row
// into a user identifier and a map of logical fields.
package feed

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Kind is the event kind of an extract, derived from its filename prefix
type Kind int

const (
	KindUnknown Kind = iota
	KindHiring
	KindEmployeeUpdate
	KindPositionUpdate
)

var kindPrefixes = []struct {
	prefix string
	kind   Kind
}{
	{"hiring", KindHiring},
	{"employee_update", KindEmployeeUpdate},
	{"position_update", KindPositionUpdate},
}

func (k Kind) String() string {
	for _, p := range kindPrefixes {
		if p.kind == k {
			return p.prefix
		}
	}
	return "unknown"
}

// priority orders creations before the updates that may refer to them
func (k Kind) priority() int {
	if k == KindHiring {
		return 0
	}
	return 1
}

// KindOf returns the kind encoded in the base name of path
func KindOf(path string) Kind {
	name := filepath.Base(path)
	for _, p := range kindPrefixes {
		if strings.HasPrefix(name, p.prefix) {
			return p.kind
		}
	}
	return KindUnknown
}

// Classify is KindOf with an error for unhandled files
func Classify(path string) (Kind, error) {
	k := KindOf(path)
	if k == KindUnknown {
		return k, fmt.Errorf("file %s is not handled", path)
	}
	return k, nil
}

// IsExtract reports whether a file name carries a known prefix
func IsExtract(path string) bool {
	return KindOf(path) != KindUnknown
}

// SortFiles drops names without a known prefix and orders the rest so that
// hiring files come first. Names of the same priority sort lexically.
func SortFiles(paths []string) []string {
	sorted := make([]string, 0, len(paths))
	for _, p := range paths {
		if IsExtract(p) {
			sorted = append(sorted, p)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := KindOf(sorted[i]).priority(), KindOf(sorted[j]).priority()
		if pi != pj {
			return pi < pj
		}
		return filepath.Base(sorted[i]) < filepath.Base(sorted[j])
	})
	return sorted
}
