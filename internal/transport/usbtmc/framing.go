package usbtmc

import (
	"encoding/binary"
	"fmt"
)

// USBTMC bulk message identifiers.
const (
	msgIDDevDepMsgOut       = 1 // host to device payload
	msgIDRequestDevDepMsgIn = 2 // host asks for a response transfer
)

// headerSize is the fixed bulk header length preceding every payload.
const headerSize = 12

// nextTag advances the transfer tag. Tags run 1 through 255; zero is never
// a valid tag.
func nextTag(tag byte) byte {
	tag++
	if tag == 0 {
		tag = 1
	}
	return tag
}

// devDepMsgOut frames one host-to-device transfer. The payload is padded to
// a four-byte boundary after the header; eom marks the final transfer of a
// message.
func devDepMsgOut(tag byte, payload []byte, eom bool) []byte {
	padded := (len(payload) + 3) &^ 3
	buf := make([]byte, headerSize+padded)

	buf[0] = msgIDDevDepMsgOut
	buf[1] = tag
	buf[2] = ^tag
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	if eom {
		buf[8] = 0x01
	}
	copy(buf[headerSize:], payload)
	return buf
}

// requestDevDepMsgIn frames a response request for up to maxSize payload
// bytes.
func requestDevDepMsgIn(tag byte, maxSize uint32) []byte {
	buf := make([]byte, headerSize)

	buf[0] = msgIDRequestDevDepMsgIn
	buf[1] = tag
	buf[2] = ^tag
	binary.LittleEndian.PutUint32(buf[4:8], maxSize)
	return buf
}

// parseDevDepMsgIn validates a device-to-host transfer against the tag that
// requested it and returns the payload with the padding stripped, plus the
// end-of-message flag.
func parseDevDepMsgIn(buf []byte, tag byte) ([]byte, bool, error) {
	if len(buf) < headerSize {
		return nil, false, fmt.Errorf("bulk-in transfer of %d bytes is shorter than the header", len(buf))
	}
	if buf[0] != msgIDRequestDevDepMsgIn {
		return nil, false, fmt.Errorf("unexpected MsgID 0x%02X in bulk-in header", buf[0])
	}
	if buf[1] != tag || buf[2] != ^tag {
		return nil, false, fmt.Errorf("bulk-in tag 0x%02X/0x%02X does not answer request tag 0x%02X", buf[1], buf[2], tag)
	}

	size := binary.LittleEndian.Uint32(buf[4:8])
	if int(size) > len(buf)-headerSize {
		return nil, false, fmt.Errorf("bulk-in header claims %d payload bytes, transfer carries %d", size, len(buf)-headerSize)
	}

	eom := buf[8]&0x01 != 0
	return buf[headerSize : headerSize+int(size)], eom, nil
}
