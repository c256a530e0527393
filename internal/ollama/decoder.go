// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"
)

// =============================================================================
// LINE-DELIMITED JSON DECODER
// =============================================================================

// ErrMalformedRecord marks a line that is not valid JSON.
var ErrMalformedRecord = errors.New("malformed JSON record")

const readChunkSize = 4096

// Record is one decoded line. A malformed line yields a Record with Err set
// to ErrMalformedRecord and Line holding the offending text.
type Record struct {
	Raw  json.RawMessage
	Line string
	Err  error
}

// Decoder turns a byte stream into JSON records, one per newline-terminated
// line. Lines may span any number of underlying reads. The decoder is lazy:
// it only reads from the source when the caller asks for the next record.
type Decoder struct {
	r       io.Reader
	buf     []byte
	scratch []byte
	err     error
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:       r,
		scratch: make([]byte, readChunkSize),
	}
}

// Next returns the next record. It returns io.EOF once the stream is
// exhausted, and any other read error as-is. Blank lines are skipped.
func (d *Decoder) Next() (Record, error) {
	for {
		if i := bytes.IndexByte(d.buf, '\n'); i >= 0 {
			line := d.buf[:i]
			d.buf = d.buf[i+1:]
			if rec, ok := decodeLine(line); ok {
				return rec, nil
			}
			continue
		}

		if d.err != nil {
			// A trailing line without a newline is still a record.
			if d.err == io.EOF && len(d.buf) > 0 {
				line := d.buf
				d.buf = nil
				if rec, ok := decodeLine(line); ok {
					return rec, nil
				}
			}
			return Record{}, d.err
		}

		n, err := d.r.Read(d.scratch)
		d.buf = append(d.buf, d.scratch[:n]...)
		if err != nil {
			d.err = err
		}
	}
}

// All returns the remaining records as a sequence. Iteration stops after
// the first read error, which is yielded with an empty record; io.EOF is
// not yielded.
func (d *Decoder) All() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for {
			rec, err := d.Next()
			if err == io.EOF {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

func decodeLine(line []byte) (Record, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Record{}, false
	}
	if !json.Valid(line) {
		return Record{Line: string(line), Err: ErrMalformedRecord}, true
	}
	return Record{Raw: bytes.Clone(line)}, true
}
