// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"errors"
	"io"
)

// DefaultBufferSize is the read size used by Reader.
const DefaultBufferSize = 4096

// Reader pulls Events from an event-stream body.
type Reader struct {
	r     io.Reader
	dec   Decoder
	buf   []byte
	queue []Event
	err   error
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:   r,
		buf: make([]byte, DefaultBufferSize),
	}
}

// Next returns the next event. Events completed before a read error are
// returned first; after that the error is returned on every call. A clean
// end of body yields io.EOF once the trailing partial event is flushed.
func (r *Reader) Next() (Event, error) {
	for len(r.queue) == 0 {
		if r.err != nil {
			return Event{}, r.err
		}
		n, err := r.r.Read(r.buf)
		if n > 0 {
			r.queue = append(r.queue, r.dec.Feed(r.buf[:n])...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.queue = append(r.queue, r.dec.Flush()...)
				err = io.EOF
			}
			r.err = err
		}
	}
	ev := r.queue[0]
	r.queue = r.queue[1:]
	return ev, nil
}
