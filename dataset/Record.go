package dataset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// ErrCorruptRecord is returned when the checksum of a TFRecord does
// not match its contents
var ErrCorruptRecord = errors.New("corrupt record")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// maskDelta is added to rotated checksums of TFRecords
const maskDelta uint32 = 0xa282ead8

// maskedCRC returns the masked CRC-32C checksum of data as stored in
// TFRecord files
func maskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, castagnoli)
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// RecordReader reads records from a TFRecord stream. Each record is
// framed as
//
//	uint64 length
//	uint32 masked crc of length
//	byte   data[length]
//	uint32 masked crc of data
//
// with all integers little endian.
type RecordReader struct {
	r      io.Reader
	header [12]byte
	footer [4]byte
}

// NewRecordReader returns a RecordReader reading from r
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: r}
}

// Next returns the next record. At the end of the stream io.EOF is
// returned. A stream ending within a record returns
// io.ErrUnexpectedEOF.
func (rr *RecordReader) Next() ([]byte, error) {
	if _, err := io.ReadFull(rr.r, rr.header[:]); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint64(rr.header[:8])
	if maskedCRC(rr.header[:8]) != binary.LittleEndian.Uint32(rr.header[8:]) {
		return nil, fmt.Errorf("next: length: %w", ErrCorruptRecord)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(rr.r, data); err != nil {
		return nil, unexpected(err)
	}
	if _, err := io.ReadFull(rr.r, rr.footer[:]); err != nil {
		return nil, unexpected(err)
	}
	if maskedCRC(data) != binary.LittleEndian.Uint32(rr.footer[:]) {
		return nil, fmt.Errorf("next: data: %w", ErrCorruptRecord)
	}
	return data, nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// RecordWriter writes records to a TFRecord stream
type RecordWriter struct {
	w io.Writer
}

// NewRecordWriter returns a RecordWriter writing to w
func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: w}
}

// Write writes data as one record
func (rw *RecordWriter) Write(data []byte) error {
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(header[8:], maskedCRC(header[:8]))

	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(data))

	for _, b := range [][]byte{header[:], data, footer[:]} {
		if _, err := rw.w.Write(b); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	return nil
}
