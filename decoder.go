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

package uhf

import (
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-uhf/internal/frame"
	"github.com/rs/zerolog"
)

// maxResyncAttempts bounds the byte-wise search for the next record
// boundary after a truncated record.
const maxResyncAttempts = 8

const (
	gen2PCLen    = 2
	gen2XPCLen   = 2
	idCRCLen     = 2
	pcXIBit      = 0x02 // bit 0x0200 of the PC word, high byte
	xpcXEBBit    = 0x80 // bit 0x8000 of XPC_W1, high byte
	pcLengthMask = 0xF8 // word count in the top five bits of the PC word
)

var (
	// errRecordMalformed marks a record whose extent is known but whose
	// contents are inconsistent; decoding continues after it.
	errRecordMalformed = errors.New("malformed tag record")
	// errRecordTruncated marks a record running past the payload.
	errRecordTruncated = errors.New("truncated tag record")
)

// decodeContext carries what the decoder needs beyond the payload itself.
type decodeContext struct {
	base     time.Time
	antennas *AntennaPortMapping
	log      zerolog.Logger
	metadata MetadataFlag
	// protocol applies to records without protocol metadata
	protocol TagProtocol
	// antenna applies to records without antenna metadata
	antenna int
}

// decodeTagBuffer decodes a tag buffer response payload:
// metadataFlags(2) | readOptions(1) | count(1) | records.
// It returns the decoded records and the record count the module declared.
func decodeTagBuffer(payload []byte, dc decodeContext) ([]TagReadRecord, int, error) {
	r := frame.NewReader(payload)
	meta, err := r.ReadUint16()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: tag buffer header: %w", ErrInvalidResponse, err)
	}
	if _, err := r.ReadByte(); err != nil {
		return nil, 0, fmt.Errorf("%w: tag buffer header: %w", ErrInvalidResponse, err)
	}
	count, err := r.ReadByte()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: tag buffer header: %w", ErrInvalidResponse, err)
	}

	dc.metadata = MetadataFlag(meta)
	return decodeRecords(r, int(count), dc), int(count), nil
}

// decodeRecords decodes up to count consecutive records. Malformed records
// are skipped; after a truncated record a bounded resync looks for the next
// plausible record before giving up on the rest of the payload.
func decodeRecords(r *frame.Buffer, count int, dc decodeContext) []TagReadRecord {
	out := make([]TagReadRecord, 0, count)
	for i := 0; i < count && r.Len() > 0; i++ {
		start := r.Offset()
		rec, err := decodeRecord(r, &dc)
		switch {
		case err == nil:
			out = append(out, rec)
		case errors.Is(err, errRecordMalformed):
			dc.log.Debug().Err(err).Int("offset", start).Msg("skipping tag record")
		default:
			rec, ok := resyncRecord(r, start, &dc)
			if !ok {
				dc.log.Debug().Err(err).Int("offset", start).Int("remaining", count-i).
					Msg("dropping rest of tag buffer")
				return out
			}
			out = append(out, rec)
		}
	}
	return out
}

func resyncRecord(r *frame.Buffer, start int, dc *decodeContext) (TagReadRecord, bool) {
	for attempt := 1; attempt <= maxResyncAttempts; attempt++ {
		if err := r.Seek(start + attempt); err != nil {
			return TagReadRecord{}, false
		}
		rec, err := decodeRecord(r, dc)
		if err == nil && plausibleRecord(&rec) {
			dc.log.Debug().Int("skipped", attempt).Msg("resynchronised tag buffer")
			return rec, true
		}
	}
	return TagReadRecord{}, false
}

// plausibleRecord applies the stricter checks used while resynchronising.
func plausibleRecord(rec *TagReadRecord) bool {
	if len(rec.EPC) == 0 {
		return false
	}
	if rec.Protocol == ProtocolGen2 && len(rec.PC) >= gen2PCLen {
		words := int(rec.PC[0]&pcLengthMask) >> 3
		return words*2 == len(rec.EPC)
	}
	return true
}

// decodeStreamedTag decodes the body of a streamed tag report:
// metadataFlags(2) | record.
func decodeStreamedTag(body []byte, dc decodeContext) (TagReadRecord, error) {
	r := frame.NewReader(body)
	meta, err := r.ReadUint16()
	if err != nil {
		return TagReadRecord{}, fmt.Errorf("%w: tag report: %w", ErrInvalidResponse, err)
	}
	dc.metadata = MetadataFlag(meta)
	rec, err := decodeRecord(r, &dc)
	if err != nil {
		return TagReadRecord{}, fmt.Errorf("%w: tag report: %w", ErrInvalidResponse, err)
	}
	return rec, nil
}

// decodeRecord decodes one record at the read cursor.
func decodeRecord(r *frame.Buffer, dc *decodeContext) (TagReadRecord, error) {
	rec := TagReadRecord{
		Protocol:  dc.protocol,
		Antenna:   dc.antenna,
		Timestamp: dc.base,
		ReadCount: 1,
	}
	if err := decodeMetadata(r, dc, &rec); err != nil {
		return TagReadRecord{}, fmt.Errorf("%w: metadata: %w", errRecordTruncated, err)
	}

	bits, err := r.ReadUint16()
	if err != nil {
		return TagReadRecord{}, fmt.Errorf("%w: bit length: %w", errRecordTruncated, err)
	}
	id, err := r.Next((int(bits) + 7) / 8)
	if err != nil {
		return TagReadRecord{}, fmt.Errorf("%w: %d id bits: %w", errRecordTruncated, bits, err)
	}
	if err := decodeID(id, &rec); err != nil {
		return TagReadRecord{}, err
	}
	return rec, nil
}

func decodeMetadata(r *frame.Buffer, dc *decodeContext, rec *TagReadRecord) error {
	meta := dc.metadata
	if meta.Has(MetadataReadCount) {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		rec.ReadCount = int(b)
	}
	if meta.Has(MetadataRSSI) {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		rec.RSSI = int(int8(b))
	}
	if meta.Has(MetadataAntenna) {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		rec.Antenna = dc.antennas.logicalFromCode(b)
	}
	if meta.Has(MetadataFrequency) {
		khz, err := r.ReadUint24()
		if err != nil {
			return err
		}
		rec.Frequency = int(khz)
	}
	if meta.Has(MetadataTimestamp) {
		ms, err := r.ReadUint32()
		if err != nil {
			return err
		}
		rec.Timestamp = dc.base.Add(time.Duration(ms) * time.Millisecond)
	}
	if meta.Has(MetadataPhase) {
		v, err := r.ReadUint16()
		if err != nil {
			return err
		}
		rec.Phase = int(v)
	}
	if meta.Has(MetadataProtocol) {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		rec.Protocol = TagProtocol(b)
	}
	if meta.Has(MetadataData) {
		bits, err := r.ReadUint16()
		if err != nil {
			return err
		}
		data, err := r.Next((int(bits) + 7) / 8)
		if err != nil {
			return err
		}
		rec.Data = append([]byte(nil), data...)
	}
	if meta.Has(MetadataGPIO) {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		rec.GPIO = b
	}
	return nil
}

// decodeID splits the id bytes into PC words, EPC and CRC.
// Gen2: PC(2) [XPC_W1(2) [XPC_W2(2)]] EPC CRC(2). Others: EPC CRC(2).
func decodeID(id []byte, rec *TagReadRecord) error {
	pcLen := 0
	if rec.Protocol == ProtocolGen2 {
		pcLen = gen2PCLen
		if len(id) >= gen2PCLen && id[0]&pcXIBit != 0 {
			pcLen += gen2XPCLen
			if len(id) >= gen2PCLen+gen2XPCLen && id[gen2PCLen]&xpcXEBBit != 0 {
				pcLen += gen2XPCLen
			}
		}
	}

	epcLen := len(id) - pcLen - idCRCLen
	if epcLen < 0 {
		return fmt.Errorf("%w: %d id bytes too short for %s", errRecordMalformed, len(id), rec.Protocol)
	}

	if pcLen > 0 {
		rec.PC = append([]byte(nil), id[:pcLen]...)
	}
	rec.EPC = append([]byte(nil), id[pcLen:pcLen+epcLen]...)
	crc := id[pcLen+epcLen:]
	rec.CRC = uint16(crc[0])<<8 | uint16(crc[1])
	return nil
}
