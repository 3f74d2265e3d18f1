// Package frame splits a chunked byte stream into newline-delimited records.
package frame

import "bytes"

// Decoder reassembles records from chunks whose boundaries need not line up
// with record boundaries. It keeps one pending partial record between calls.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	pending []byte
}

// NewDecoder creates an empty decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the pending buffer and returns every record completed
// by it, in arrival order. Whitespace-only records are skipped.
func (d *Decoder) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	d.pending = append(d.pending, chunk...)

	var records []string
	for {
		idx := bytes.IndexByte(d.pending, '\n')
		if idx < 0 {
			break
		}
		if record, ok := normalize(d.pending[:idx]); ok {
			records = append(records, record)
		}
		d.pending = d.pending[idx+1:]
	}

	// Reclaim the consumed prefix once the buffer drains.
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return records
}

// Flush returns the trailing record left without a terminating newline.
// The buffer is reset either way.
func (d *Decoder) Flush() (string, bool) {
	record, ok := normalize(d.pending)
	d.pending = nil
	return record, ok
}

// Pending reports how many bytes are buffered awaiting a delimiter
func (d *Decoder) Pending() int {
	return len(d.pending)
}

// Split decodes a complete payload in one call
func Split(payload []byte) []string {
	d := NewDecoder()
	records := d.Feed(payload)
	if last, ok := d.Flush(); ok {
		records = append(records, last)
	}
	return records
}

func normalize(segment []byte) (string, bool) {
	segment = bytes.TrimSuffix(segment, []byte{'\r'})
	if len(bytes.TrimSpace(segment)) == 0 {
		return "", false
	}
	return string(segment), true
}
