// Package protocol implements record framing and flow primitives for
// peer links.
//
// Wire format: every record is [lit][uvarint body length][body] where
// lit is an uppercase letter naming the record type. Framing survives
// arbitrary stream fragmentation: Split consumes whole records from a
// buffer and leaves partial tails for the next read.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var (
	ErrBadRecord  = errors.New("protocol: malformed record")
	ErrBadLit     = errors.New("protocol: record type must be in A..Z")
	ErrRecordType = errors.New("protocol: unexpected record type")
)

// MaxRecordLen caps a single record body; longer records indicate a
// corrupt or hostile stream.
const MaxRecordLen = 1 << 30

// Record frames a body under the given lit.
func Record(lit byte, body ...[]byte) []byte {
	if lit < 'A' || lit > 'Z' {
		panic(ErrBadLit)
	}
	total := 0
	for _, b := range body {
		total += len(b)
	}
	ret := make([]byte, 1, 1+binary.MaxVarintLen32+total)
	ret[0] = lit
	ret = binary.AppendUvarint(ret, uint64(total))
	for _, b := range body {
		ret = append(ret, b...)
	}
	return ret
}

// ProbeHeader inspects the head of data for a record header.
// Returns lit 0 if the header is incomplete, lit '-' if malformed.
func ProbeHeader(data []byte) (lit byte, hdrlen, bodylen int) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	l := data[0]
	if l < 'A' || l > 'Z' {
		return '-', 0, 0
	}
	size, n := binary.Uvarint(data[1:])
	if n == 0 {
		return 0, 0, 0 // incomplete length
	}
	if n < 0 || size > MaxRecordLen {
		return '-', 0, 0
	}
	return l, 1 + n, int(size)
}

// Incomplete reports how many more bytes are needed to complete the
// record at the head of data, 0 if one is fully buffered, -1 on a
// malformed header.
func Incomplete(data []byte) int {
	lit, hdrlen, bodylen := ProbeHeader(data)
	if lit == '-' {
		return -1
	}
	if lit == 0 {
		return 1 // header itself is short
	}
	if len(data) < hdrlen+bodylen {
		return hdrlen + bodylen - len(data)
	}
	return 0
}

// Split consumes all whole records buffered in data, leaving any
// partial record in place.
func Split(data *bytes.Buffer) (recs Records, err error) {
	for data.Len() > 0 {
		lit, hdrlen, bodylen := ProbeHeader(data.Bytes())
		if lit == '-' {
			return recs, ErrBadRecord
		}
		if lit == 0 || data.Len() < hdrlen+bodylen {
			break
		}
		rec := make([]byte, hdrlen+bodylen)
		_, _ = data.Read(rec)
		recs = append(recs, rec)
	}
	return recs, nil
}

// Lit returns the type letter of a framed record, 0 if unframed.
func Lit(rec []byte) byte {
	lit, _, _ := ProbeHeader(rec)
	if lit == '-' {
		return 0
	}
	return lit
}

// Take unwraps a record of the given lit, returning its body.
func Take(lit byte, rec []byte) (body []byte, err error) {
	l, hdrlen, bodylen := ProbeHeader(rec)
	if l == 0 || l == '-' || len(rec) < hdrlen+bodylen {
		return nil, ErrBadRecord
	}
	if l != lit {
		return nil, ErrRecordType
	}
	return rec[hdrlen : hdrlen+bodylen], nil
}
