// Package textio prepares survey text files for line-oriented parsing.
//
// Dictionaries and data files are usually ASCII or UTF-8, but older exports
// use a single-byte Windows or DOS code page. NewReader sniffs the start of a
// file and either passes UTF-8 through (sanitizing stray invalid bytes one
// for one, so fixed-width positions never move) or decodes the whole stream
// with a fallback code page.
package textio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// SniffSize is how much of a file is inspected to choose an encoding.
const SniffSize = 64 * 1024

// DefaultFallback is used when no fallback encoding is configured.
var DefaultFallback encoding.Encoding = charmap.Windows1252

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Encoding names reported by Reader.
const (
	EncodingUTF8 = "utf-8"
)

// Reader is a decoded text stream with the encoding that was chosen for it.
type Reader struct {
	io.Reader
	Encoding string
	HadBOM   bool

	counter   *countingReader
	sanitizer *UTF8Sanitizer
}

// BytesRead is the number of raw bytes consumed from the source so far.
func (r *Reader) BytesRead() int64 {
	return r.counter.n
}

// Replaced is the number of invalid bytes rewritten as '?' so far. It stays
// zero for a stream decoded with the fallback encoding.
func (r *Reader) Replaced() int64 {
	if r.sanitizer == nil {
		return 0
	}
	return r.sanitizer.Replaced()
}

// LookupEncoding resolves an IANA or common name such as "windows-1252",
// "IBM850" or "cp850". An empty name selects DefaultFallback.
func LookupEncoding(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultFallback, nil
	}
	if strings.EqualFold(name, "cp850") {
		return charmap.CodePage850, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("encoding %q is not supported", name)
	}
	return enc, nil
}

// NewReader wraps src, skipping a UTF-8 BOM and choosing between UTF-8 and
// the fallback encoding from the first SniffSize bytes.
func NewReader(src io.Reader, fallback encoding.Encoding) (*Reader, error) {
	if fallback == nil {
		fallback = DefaultFallback
	}

	counter := &countingReader{r: src}
	br := bufio.NewReaderSize(counter, SniffSize)

	head, err := br.Peek(SniffSize)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("sniff encoding: %w", err)
	}

	out := &Reader{counter: counter}
	if bytes.HasPrefix(head, utf8BOM) {
		if _, err := br.Discard(len(utf8BOM)); err != nil {
			return nil, fmt.Errorf("skip BOM: %w", err)
		}
		out.HadBOM = true
		head = head[len(utf8BOM):]
	}

	if out.HadBOM || validUTF8Prefix(head, len(head) < SniffSize) {
		out.sanitizer = NewUTF8Sanitizer(br)
		out.Reader = out.sanitizer
		out.Encoding = EncodingUTF8
		return out, nil
	}

	out.Reader = transform.NewReader(br, fallback.NewDecoder())
	out.Encoding = encodingName(fallback)
	return out, nil
}

// validUTF8Prefix reports whether head is UTF-8, allowing a rune cut off by
// the sniff window when the file continues past it.
func validUTF8Prefix(head []byte, complete bool) bool {
	if !complete {
		head = head[:len(head)-incompleteTrailingBytes(head)]
	}
	return utf8.Valid(head)
}

func encodingName(enc encoding.Encoding) string {
	if name, err := ianaindex.IANA.Name(enc); err == nil && name != "" {
		return name
	}
	if s, ok := enc.(fmt.Stringer); ok {
		return s.String()
	}
	return "fallback"
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
