package flatfile

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/johndauphine/chxfer/internal/driver"
)

// FileColumns returns the column names of a file: its header, or column_1..n
// sized from the first record when the file has none.
func FileColumns(root *Root, spec FileSpec) ([]string, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	f, err := root.Open(spec.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := spec.decode(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(src)
	cr.Comma = spec.Delimiter
	cr.FieldsPerRecord = -1

	first, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &driver.SchemaLookupError{Table: spec.Path, Err: errors.New("file is empty")}
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", spec.Path, err)
	}
	if spec.Header {
		return cleanHeader(first), nil
	}
	names := make([]string, len(first))
	for i := range names {
		names[i] = fmt.Sprintf("column_%d", i+1)
	}
	return names, nil
}
