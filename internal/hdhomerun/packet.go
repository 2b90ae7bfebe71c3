// Package hdhomerun speaks the native HDHomeRun binary protocol: UDP
// broadcast discovery and the TCP get/set control channel, both on port
// 65001. It exists for clients that probe for real tuner hardware instead
// of (or before) using the HTTP surface.
//
// Wire format, per libhdhomerun:
//
//	uint16  packet type     (big-endian)
//	uint16  payload length  (big-endian)
//	bytes   payload         (sequence of TLV items)
//	uint32  CRC             (IEEE 802.3, little-endian, over type+length+payload)
//
// TLV lengths are one byte below 128; otherwise two bytes with the low
// seven bits first and bit 7 of the first byte set. String values carry a
// trailing NUL on the wire.
package hdhomerun

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Packet types.
const (
	TypeDiscoverReq uint16 = 0x0002
	TypeDiscoverRpy uint16 = 0x0003
	TypeGetSetReq   uint16 = 0x0004
	TypeGetSetRpy   uint16 = 0x0005
)

// TLV tags.
const (
	TagDeviceType    uint8 = 0x01
	TagDeviceID      uint8 = 0x02
	TagGetSetName    uint8 = 0x03
	TagGetSetValue   uint8 = 0x04
	TagErrorMessage  uint8 = 0x05
	TagTunerCount    uint8 = 0x10
	TagLineupURL     uint8 = 0x27
	TagBaseURL       uint8 = 0x2A
	TagDeviceAuthStr uint8 = 0x2B
)

// Device type and id wildcards used in discovery requests.
const (
	DeviceTypeTuner    uint32 = 0x00000001
	DeviceTypeWildcard uint32 = 0xFFFFFFFF
	DeviceIDWildcard   uint32 = 0xFFFFFFFF
)

// MaxPayload is the largest payload a conforming device sends or accepts.
const MaxPayload = 1460

var crcTable = crc32.MakeTable(crc32.IEEE)

// TLV is one tag-length-value item of a packet payload.
type TLV struct {
	Tag   uint8
	Value []byte
}

// Packet is a decoded protocol frame.
type Packet struct {
	Type uint16
	TLVs []TLV
}

// Encode frames the packet with header and trailing CRC.
func (p *Packet) Encode() []byte {
	payload := encodeTLVs(p.TLVs)
	buf := make([]byte, 4+len(payload)+4)
	binary.BigEndian.PutUint16(buf[0:2], p.Type)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[4:], payload)
	crc := crc32.Checksum(buf[:4+len(payload)], crcTable)
	binary.LittleEndian.PutUint32(buf[4+len(payload):], crc)
	return buf
}

// Decode parses and CRC-checks one frame.
func Decode(data []byte) (*Packet, error) {
	if len(data) < 8 {
		return nil, errors.New("hdhomerun: packet too short")
	}
	typ := binary.BigEndian.Uint16(data[0:2])
	plen := int(binary.BigEndian.Uint16(data[2:4]))
	if plen > MaxPayload {
		return nil, fmt.Errorf("hdhomerun: payload length %d exceeds %d", plen, MaxPayload)
	}
	if len(data) < 4+plen+4 {
		return nil, fmt.Errorf("hdhomerun: packet truncated: want %d bytes, have %d", 4+plen+4, len(data))
	}
	want := binary.LittleEndian.Uint32(data[4+plen:])
	got := crc32.Checksum(data[:4+plen], crcTable)
	if want != got {
		return nil, fmt.Errorf("hdhomerun: crc mismatch: packet 0x%08x, computed 0x%08x", want, got)
	}
	tlvs, err := decodeTLVs(data[4 : 4+plen])
	if err != nil {
		return nil, err
	}
	return &Packet{Type: typ, TLVs: tlvs}, nil
}

// ReadPacket reads one framed packet from a stream connection. It shares
// Decode with the datagram path so the CRC is checked in both directions.
func ReadPacket(r io.Reader) (*Packet, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	plen := int(binary.BigEndian.Uint16(hdr[2:4]))
	if plen > MaxPayload {
		return nil, fmt.Errorf("hdhomerun: payload length %d exceeds %d", plen, MaxPayload)
	}
	rest := make([]byte, plen+4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	return Decode(append(hdr[:], rest...))
}

// Bytes returns the raw value of the first TLV with the given tag.
func (p *Packet) Bytes(tag uint8) ([]byte, bool) {
	for _, t := range p.TLVs {
		if t.Tag == tag {
			return t.Value, true
		}
	}
	return nil, false
}

// Uint32 reads a 4-byte big-endian value for the tag.
func (p *Packet) Uint32(tag uint8) (uint32, bool) {
	v, ok := p.Bytes(tag)
	if !ok || len(v) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

// String reads a string value for the tag, dropping the wire NUL.
func (p *Packet) String(tag uint8) (string, bool) {
	v, ok := p.Bytes(tag)
	if !ok {
		return "", false
	}
	return string(bytes.TrimRight(v, "\x00")), true
}

func decodeTLVs(payload []byte) ([]TLV, error) {
	var out []TLV
	pos := 0
	for pos < len(payload) {
		if len(payload)-pos < 2 {
			return nil, errors.New("hdhomerun: truncated tlv header")
		}
		tag := payload[pos]
		pos++
		n := int(payload[pos] & 0x7F)
		long := payload[pos]&0x80 != 0
		pos++
		if long {
			if pos >= len(payload) {
				return nil, errors.New("hdhomerun: truncated tlv length")
			}
			n |= int(payload[pos]) << 7
			pos++
		}
		if pos+n > len(payload) {
			return nil, fmt.Errorf("hdhomerun: tlv value wants %d bytes, %d left", n, len(payload)-pos)
		}
		v := make([]byte, n)
		copy(v, payload[pos:pos+n])
		pos += n
		out = append(out, TLV{Tag: tag, Value: v})
	}
	return out, nil
}

func encodeTLVs(tlvs []TLV) []byte {
	size := 0
	for _, t := range tlvs {
		size += 2 + len(t.Value)
		if len(t.Value) > 0x7F {
			size++
		}
	}
	buf := make([]byte, 0, size)
	for _, t := range tlvs {
		buf = append(buf, t.Tag)
		n := len(t.Value)
		if n <= 0x7F {
			buf = append(buf, byte(n))
		} else {
			buf = append(buf, byte(n&0x7F)|0x80, byte(n>>7))
		}
		buf = append(buf, t.Value...)
	}
	return buf
}

func uint32TLV(tag uint8, v uint32) TLV {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return TLV{Tag: tag, Value: b}
}

func stringTLV(tag uint8, s string) TLV {
	return TLV{Tag: tag, Value: append([]byte(s), 0)}
}

// DiscoverRequest is the probe a client broadcasts to find tuners.
func DiscoverRequest(deviceType, deviceID uint32) *Packet {
	return &Packet{Type: TypeDiscoverReq, TLVs: []TLV{
		uint32TLV(TagDeviceType, deviceType),
		uint32TLV(TagDeviceID, deviceID),
	}}
}

// DiscoverReply advertises one tuner device.
func DiscoverReply(deviceID uint32, tunerCount int, baseURL, lineupURL, deviceAuth string) *Packet {
	tlvs := []TLV{
		uint32TLV(TagDeviceType, DeviceTypeTuner),
		uint32TLV(TagDeviceID, deviceID),
		{Tag: TagTunerCount, Value: []byte{byte(tunerCount)}},
	}
	if baseURL != "" {
		tlvs = append(tlvs, stringTLV(TagBaseURL, baseURL))
	}
	if lineupURL != "" {
		tlvs = append(tlvs, stringTLV(TagLineupURL, lineupURL))
	}
	if deviceAuth != "" {
		tlvs = append(tlvs, stringTLV(TagDeviceAuthStr, deviceAuth))
	}
	return &Packet{Type: TypeDiscoverRpy, TLVs: tlvs}
}

// GetRequest asks for a configuration variable.
func GetRequest(name string) *Packet {
	return &Packet{Type: TypeGetSetReq, TLVs: []TLV{stringTLV(TagGetSetName, name)}}
}

// SetRequest assigns a configuration variable.
func SetRequest(name, value string) *Packet {
	return &Packet{Type: TypeGetSetReq, TLVs: []TLV{
		stringTLV(TagGetSetName, name),
		stringTLV(TagGetSetValue, value),
	}}
}

// GetSetReply answers a control request. The value TLV is always present,
// even when empty, so clients can tell an empty value from a missing one.
func GetSetReply(name, value string) *Packet {
	return &Packet{Type: TypeGetSetRpy, TLVs: []TLV{
		stringTLV(TagGetSetName, name),
		stringTLV(TagGetSetValue, value),
	}}
}

// ErrorReply reports a failed control request.
func ErrorReply(msg string) *Packet {
	return &Packet{Type: TypeGetSetRpy, TLVs: []TLV{stringTLV(TagErrorMessage, msg)}}
}
