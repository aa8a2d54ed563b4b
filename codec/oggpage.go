package codec

import "encoding/binary"

const (
	oggPageHeaderLen = 27
	oggHeaderType    = 5
	oggChecksumAt    = 22
	oggEndOfStream   = 0x04
)

var oggCRCTable = func() (table [256]uint32) {
	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return table
}()

func oggChecksum(page []byte) uint32 {
	var crc uint32
	for _, b := range page {
		crc = crc<<8 ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}

// oggPageLen returns the size of the complete page at the start of data,
// or 0 if data holds only part of one.
func oggPageLen(data []byte) int {
	if len(data) < oggPageHeaderLen || string(data[:4]) != "OggS" {
		return 0
	}
	segments := int(data[26])
	if len(data) < oggPageHeaderLen+segments {
		return 0
	}
	size := oggPageHeaderLen + segments
	for _, lacing := range data[oggPageHeaderLen : oggPageHeaderLen+segments] {
		size += int(lacing)
	}
	if len(data) < size {
		return 0
	}
	return size
}

// lastPageOffset returns where the final complete page in data begins, or -1
func lastPageOffset(data []byte) int {
	last := -1
	for off := 0; off < len(data); {
		n := oggPageLen(data[off:])
		if n == 0 {
			break
		}
		last = off
		off += n
	}
	return last
}

// markEndOfStream sets the end of stream flag on page and reseals its checksum
func markEndOfStream(page []byte) {
	n := oggPageLen(page)
	if n == 0 {
		return
	}
	page = page[:n]
	page[oggHeaderType] |= oggEndOfStream
	binary.LittleEndian.PutUint32(page[oggChecksumAt:], 0)
	binary.LittleEndian.PutUint32(page[oggChecksumAt:], oggChecksum(page))
}
