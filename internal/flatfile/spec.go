package flatfile

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// FileSpec describes a delimited file under the storage root.
type FileSpec struct {
	Path      string `json:"path" yaml:"path"`
	Delimiter rune   `json:"delimiter" yaml:"delimiter"`
	Header    bool   `json:"header" yaml:"header"`
	Encoding  string `json:"encoding,omitempty" yaml:"encoding,omitempty"`
}

// Supported encodings. UTF-8 is the default.
const (
	EncodingUTF8        = "utf-8"
	EncodingLatin1      = "latin1"
	EncodingWindows1252 = "windows-1252"
)

// Validate checks the delimiter and encoding. The path is checked by Root.
func (s *FileSpec) Validate() error {
	if s.Delimiter == 0 {
		s.Delimiter = ','
	}
	if s.Delimiter == '\r' || s.Delimiter == '\n' || s.Delimiter == '"' ||
		s.Delimiter == utf8.RuneError || !utf8.ValidRune(s.Delimiter) {
		return fmt.Errorf("invalid delimiter %q", s.Delimiter)
	}
	if _, err := s.charset(); err != nil {
		return err
	}
	return nil
}

// charset returns nil for UTF-8.
func (s *FileSpec) charset() (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s.Encoding)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "latin1", "latin-1", "iso-8859-1":
		return charmap.ISO8859_1, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q (want %s, %s or %s)",
			s.Encoding, EncodingUTF8, EncodingLatin1, EncodingWindows1252)
	}
}

// decode wraps r so it yields UTF-8.
func (s *FileSpec) decode(r io.Reader) (io.Reader, bool, error) {
	cs, err := s.charset()
	if err != nil {
		return nil, false, err
	}
	if cs == nil {
		return r, true, nil
	}
	return cs.NewDecoder().Reader(r), false, nil
}

// encode wraps w so UTF-8 written to it lands in the file's charset.
// Characters the charset lacks are replaced.
func (s *FileSpec) encode(w io.Writer) (io.Writer, error) {
	cs, err := s.charset()
	if err != nil {
		return nil, err
	}
	if cs == nil {
		return w, nil
	}
	return encoding.ReplaceUnsupported(cs.NewEncoder()).Writer(w), nil
}

// ParseDelimiter reads a delimiter given as text. "" means the default;
// `\t` and "tab" mean a tab.
func ParseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return 0, nil
	case `\t`, "tab", "TAB":
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}
