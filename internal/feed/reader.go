package feed

import (
	"encoding/csv"
	"errors"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	apperrors "github.com/openidx/hrsync/internal/common/errors"
)

// Logical field names produced by the reader
const (
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldEmail     = "email"
	FieldUserID    = "user_id"
	FieldDateBegin = "date_begin"
	FieldDateEnd   = "date_end"
)

// fieldOrder is the order in which required headers are checked
var fieldOrder = []string{FieldFirstName, FieldLastName, FieldEmail, FieldUserID, FieldDateBegin, FieldDateEnd}

// Mapping maps a logical field name to the header text of the source column.
// Every mapped header is required.
type Mapping map[string]string

// Fields holds the logical values of one row, without the user identifier
type Fields map[string]string

// Get returns the value of name and whether it is present and non-empty
func (f Fields) Get(name string) (string, bool) {
	v, ok := f[name]
	return v, ok && v != ""
}

// Has reports whether the column of name exists in the row, even if empty
func (f Fields) Has(name string) bool {
	_, ok := f[name]
	return ok
}

// Record is one data row. Line is 1-based and does not count the header.
type Record struct {
	Line   int
	UserID string
	Fields Fields
}

// Reader yields records lazily from one extract
type Reader struct {
	name    string
	mapping Mapping
	csv     *csv.Reader
	columns map[string]int
	line    int
	started bool
	err     error
}

// NewReader creates a reader over r. name is only used in errors.
func NewReader(name string, r io.Reader, mapping Mapping) *Reader {
	// exports are written with a byte order mark
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	cr := csv.NewReader(decoded)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	// a quote inside an unquoted field is kept as is, e.g. O"Neil
	cr.LazyQuotes = true

	return &Reader{
		name:    name,
		mapping: mapping,
		csv:     cr,
	}
}

// Next returns the next record, or io.EOF once the file is exhausted.
// Structural problems are returned as STRUCTURAL_FILE_ERROR and end the
// iteration.
func (r *Reader) Next() (Record, error) {
	if r.err != nil {
		return Record{}, r.err
	}
	if !r.started {
		r.started = true
		if err := r.readHeader(); err != nil {
			r.err = err
			return Record{}, err
		}
	}

	row, err := r.csv.Read()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			err = r.malformed(err)
		}
		r.err = err
		return Record{}, err
	}
	r.line++

	fields := make(Fields, len(r.columns))
	for name, idx := range r.columns {
		value := ""
		if idx < len(row) {
			value = row[idx]
		}
		fields[name] = value
	}
	userID := fields[FieldUserID]
	delete(fields, FieldUserID)

	return Record{Line: r.line, UserID: userID, Fields: fields}, nil
}

func (r *Reader) readHeader() error {
	header, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return r.malformed(err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}

	r.columns = make(map[string]int, len(r.mapping))
	for _, name := range orderedFields(r.mapping) {
		source := r.mapping[name]
		idx, ok := index[source]
		if !ok {
			return apperrors.StructuralFile(r.name, source)
		}
		r.columns[name] = idx
	}
	return nil
}

func (r *Reader) malformed(err error) error {
	return apperrors.Wrap(err, apperrors.ErrStructuralFile, "malformed row").
		WithDetails(err.Error()).
		WithMetadata("file", r.name)
}

// orderedFields lists the mapped logical fields, known ones first
func orderedFields(m Mapping) []string {
	out := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, name := range fieldOrder {
		if _, ok := m[name]; ok {
			out = append(out, name)
			seen[name] = true
		}
	}
	for name := range m {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out
}
