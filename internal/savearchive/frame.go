package savearchive

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const frameMagic = 0x184D2204

// Frame descriptor flags.
const (
	flagVersionMask = 0xC0
	flagVersion     = 0x40
	flagBlockSum    = 0x10
	flagContentSize = 0x08
	flagContentSum  = 0x04
	flagDictID      = 0x01
)

const blockUncompressed = 0x80000000

// checkFrame walks the block layout of a single LZ4 frame and fails unless
// data ends exactly after the end mark and the content checksum. The lz4
// reader verifies checksums it sees but reports a frame cut short as a
// clean EOF.
func checkFrame(data []byte) error {
	if len(data) < 7 {
		return errors.New("lz4 frame header truncated")
	}
	if binary.LittleEndian.Uint32(data) != frameMagic {
		return errors.New("not an lz4 frame")
	}
	flg := data[4]
	if flg&flagVersionMask != flagVersion {
		return fmt.Errorf("unsupported lz4 frame version %d", flg>>6)
	}

	pos := 6 // magic, FLG, BD
	if flg&flagContentSize != 0 {
		pos += 8
	}
	if flg&flagDictID != 0 {
		pos += 4
	}
	pos++ // header checksum
	if pos > len(data) {
		return errors.New("lz4 frame header truncated")
	}

	for {
		if len(data)-pos < 4 {
			return errors.New("lz4 frame has no end mark")
		}
		size := binary.LittleEndian.Uint32(data[pos:])
		pos += 4
		if size == 0 {
			break
		}
		n := int64(size &^ blockUncompressed)
		if flg&flagBlockSum != 0 {
			n += 4
		}
		if n > int64(len(data)-pos) {
			return fmt.Errorf("lz4 block at offset %d truncated", pos-4)
		}
		pos += int(n)
	}

	if flg&flagContentSum != 0 {
		if len(data)-pos < 4 {
			return errors.New("lz4 content checksum missing")
		}
		pos += 4
	}
	if pos != len(data) {
		return fmt.Errorf("%d bytes after lz4 frame", len(data)-pos)
	}
	return nil
}
