// go-uhf
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-uhf.
//
// go-uhf is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-uhf is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-uhf; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package frame

import "io"

// Buffer is a message buffer with independent write and read cursors.
// Buffers created with NewBuffer are bounded to BufferSize bytes; buffers
// created with NewReader wrap an existing payload for decoding.
type Buffer struct {
	data  []byte
	limit int
	wr    int
	rd    int
}

// NewBuffer returns an empty message buffer.
func NewBuffer() *Buffer {
	return &Buffer{data: make([]byte, BufferSize), limit: BufferSize}
}

// NewReader returns a buffer positioned at the start of p.
func NewReader(p []byte) *Buffer {
	return &Buffer{data: p, limit: len(p), wr: len(p)}
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return b.wr - b.rd
}

// Offset returns the read cursor position.
func (b *Buffer) Offset() int {
	return b.rd
}

// Seek moves the read cursor to an absolute position within the written data.
func (b *Buffer) Seek(pos int) error {
	if pos < 0 || pos > b.wr {
		return ErrShort
	}
	b.rd = pos
	return nil
}

// Bytes returns the unread bytes without consuming them.
func (b *Buffer) Bytes() []byte {
	return b.data[b.rd:b.wr]
}

// Shift drops n unread bytes and moves the remainder to the front.
func (b *Buffer) Shift(n int) {
	if n > b.Len() {
		n = b.Len()
	}
	copied := copy(b.data, b.data[b.rd+n:b.wr])
	b.rd = 0
	b.wr = copied
}

// Write appends p.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.wr+len(p) > b.limit {
		return 0, ErrPayloadTooLarge
	}
	b.wr += copy(b.data[b.wr:], p)
	return len(p), nil
}

// ReadByte consumes one byte.
func (b *Buffer) ReadByte() (byte, error) {
	if b.Len() < 1 {
		return 0, io.ErrUnexpectedEOF
	}
	c := b.data[b.rd]
	b.rd++
	return c, nil
}

// Next consumes n bytes and returns them. The result aliases the buffer.
func (b *Buffer) Next(n int) ([]byte, error) {
	if n < 0 || b.Len() < n {
		return nil, io.ErrUnexpectedEOF
	}
	p := b.data[b.rd : b.rd+n]
	b.rd += n
	return p, nil
}

// ReadUint16 consumes a big-endian uint16.
func (b *Buffer) ReadUint16() (uint16, error) {
	p, err := b.Next(2)
	if err != nil {
		return 0, err
	}
	return uint16(p[0])<<8 | uint16(p[1]), nil
}

// ReadUint24 consumes a big-endian 24-bit value.
func (b *Buffer) ReadUint24() (uint32, error) {
	p, err := b.Next(3)
	if err != nil {
		return 0, err
	}
	return uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2]), nil
}

// ReadUint32 consumes a big-endian uint32.
func (b *Buffer) ReadUint32() (uint32, error) {
	p, err := b.Next(4)
	if err != nil {
		return 0, err
	}
	return uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3]), nil
}
