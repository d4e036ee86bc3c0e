package feedparse

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

var (
	// ErrEmptyFile indicates the feed file contains no data
	ErrEmptyFile = errors.New("feedparse: file is empty")
	// ErrInvalidEncoding indicates the feed is not valid UTF-8
	ErrInvalidEncoding = errors.New("feedparse: file is not valid UTF-8")
	// ErrMissingHeader indicates the feed has no header row
	ErrMissingHeader = errors.New("feedparse: missing header row")
)

// FeedReader reads a supplier feed as a sequence of flat line-items.
// It handles UTF-8 BOM stripping, encoding validation and header mapping.
type FeedReader struct {
	delimiter  rune
	headerMap  map[string]int
	headers    []string
	currentRow int
	reader     *csv.Reader
}

// ReaderOption is a functional option for FeedReader configuration
type ReaderOption func(*FeedReader)

// WithDelimiter sets the field delimiter (default is semicolon, the common
// supplier price-list convention)
func WithDelimiter(d rune) ReaderOption {
	return func(r *FeedReader) {
		r.delimiter = d
	}
}

// NewFeedReader creates a reader over a raw feed stream
func NewFeedReader(r io.Reader, opts ...ReaderOption) (*FeedReader, error) {
	fr := &FeedReader{
		delimiter: ';',
		headerMap: make(map[string]int),
	}
	for _, opt := range opts {
		opt(fr)
	}

	buf := bufio.NewReaderSize(r, 64*1024)

	// UTF-8 BOM: 0xEF, 0xBB, 0xBF
	head, err := buf.Peek(3)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}
	if len(head) >= 3 && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF {
		_, _ = buf.Discard(3)
	}

	if err := validateUTF8(buf); err != nil {
		return nil, err
	}

	fr.reader = csv.NewReader(buf)
	fr.reader.Comma = fr.delimiter
	fr.reader.LazyQuotes = true
	fr.reader.TrimLeadingSpace = true
	fr.reader.FieldsPerRecord = -1

	return fr, nil
}

func validateUTF8(r *bufio.Reader) error {
	const checkSize = 4096
	content, err := r.Peek(checkSize)
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read feed for encoding validation: %w", err)
	}
	if len(content) == 0 {
		return ErrEmptyFile
	}
	// A multi-byte rune may be cut at the peek boundary, so trim back to the
	// last complete rune before checking.
	if len(content) == checkSize {
		for i := 0; i < 4 && len(content) > 0; i++ {
			if utf8.Valid(content) {
				break
			}
			content = content[:len(content)-1]
		}
	}
	if !utf8.Valid(content) {
		return ErrInvalidEncoding
	}
	return nil
}

// ReadHeader reads and indexes the header row. Header names are lowercased
// so feeds with inconsistent casing map onto the same columns.
func (r *FeedReader) ReadHeader() error {
	record, err := r.reader.Read()
	if err == io.EOF {
		return ErrMissingHeader
	}
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	r.headers = make([]string, len(record))
	for i, h := range record {
		name := strings.ToLower(strings.TrimSpace(h))
		r.headers[i] = name
		r.headerMap[name] = i
	}
	if len(r.headers) == 0 {
		return ErrMissingHeader
	}
	r.currentRow = 1
	return nil
}

// Headers returns the parsed header names
func (r *FeedReader) Headers() []string {
	return r.headers
}

// HasHeader checks if a column exists
func (r *FeedReader) HasHeader(name string) bool {
	_, ok := r.headerMap[name]
	return ok
}

// MissingHeaders returns the subset of required columns absent from the feed
func (r *FeedReader) MissingHeaders(required []string) []string {
	var missing []string
	for _, h := range required {
		if !r.HasHeader(h) {
			missing = append(missing, h)
		}
	}
	return missing
}

// Row is one flat line-item with its data keyed by header name
type Row struct {
	LineNumber int
	Data       map[string]string
}

// Get returns the value for a column by header name
func (row *Row) Get(header string) string {
	return row.Data[header]
}

// IsEmpty returns true if the row has no non-empty values
func (row *Row) IsEmpty() bool {
	for _, v := range row.Data {
		if v != "" {
			return false
		}
	}
	return true
}

// ReadRow reads the next line-item. Empty rows are skipped transparently.
// Returns io.EOF when the feed is exhausted.
func (r *FeedReader) ReadRow() (*Row, error) {
	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		r.currentRow++
		if err != nil {
			return nil, fmt.Errorf("error reading row %d: %w", r.currentRow, err)
		}

		row := &Row{
			LineNumber: r.currentRow,
			Data:       make(map[string]string, len(r.headers)),
		}
		for i, header := range r.headers {
			if i < len(record) {
				row.Data[header] = strings.TrimSpace(record[i])
			} else {
				row.Data[header] = ""
			}
		}
		if row.IsEmpty() {
			continue
		}
		return row, nil
	}
}

// CurrentRow returns the current row number (1-indexed, header included)
func (r *FeedReader) CurrentRow() int {
	return r.currentRow
}
