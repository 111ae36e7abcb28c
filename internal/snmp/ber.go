package snmp

import (
	"fmt"
	"math"
)

// BER tags used by SNMP.
const (
	tagInteger     = 0x02
	tagOctetString = 0x04
	tagNull        = 0x05
	tagOID         = 0x06
	tagSequence    = 0x30

	tagIPAddress = 0x40
	tagCounter32 = 0x41
	tagGauge32   = 0x42
	tagTimeTicks = 0x43
	tagOpaque    = 0x44
	tagCounter64 = 0x46

	tagNoSuchObject   = 0x80
	tagNoSuchInstance = 0x81
	tagEndOfMibView   = 0x82
)

// maxLengthOctets caps long-form lengths at 4 octets; nothing in a UDP
// datagram can need more.
const maxLengthOctets = 4

func appendLength(b []byte, n int) []byte {
	switch {
	case n < 0x80:
		return append(b, byte(n))
	case n <= 0xff:
		return append(b, 0x81, byte(n))
	case n <= 0xffff:
		return append(b, 0x82, byte(n>>8), byte(n))
	case n <= 0xffffff:
		return append(b, 0x83, byte(n>>16), byte(n>>8), byte(n))
	default:
		return append(b, 0x84, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
}

func appendTLV(b []byte, tag byte, content []byte) []byte {
	b = append(b, tag)
	b = appendLength(b, len(content))
	return append(b, content...)
}

// appendInt encodes v in minimal two's complement form.
func appendInt(b []byte, tag byte, v int64) []byte {
	n := 1
	for n < 8 {
		shifted := v >> (8*n - 1)
		if shifted == 0 || shifted == -1 {
			break
		}
		n++
	}
	b = append(b, tag, byte(n))
	for i := n - 1; i >= 0; i-- {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}

// appendUint encodes an unsigned value, prefixing a zero octet when the
// high bit would otherwise read as a sign.
func appendUint(b []byte, tag byte, v uint64) []byte {
	n := 1
	for n < 8 && v>>(8*n) != 0 {
		n++
	}
	pad := v>>(8*n-1)&1 == 1
	length := n
	if pad {
		length++
	}
	b = append(b, tag, byte(length))
	if pad {
		b = append(b, 0)
	}
	for i := n - 1; i >= 0; i-- {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}

func appendOIDValue(b []byte, o OID) ([]byte, error) {
	if len(o) < 2 {
		return nil, fmt.Errorf("%w: OID %q has fewer than two arcs", ErrEncode, o.String())
	}
	if o[0] > 2 || (o[0] < 2 && o[1] >= 40) {
		return nil, fmt.Errorf("%w: invalid leading arcs in OID %q", ErrEncode, o.String())
	}
	content := appendBase128(nil, uint64(o[0])*40+uint64(o[1]))
	for _, arc := range o[2:] {
		content = appendBase128(content, uint64(arc))
	}
	return appendTLV(b, tagOID, content), nil
}

func appendBase128(b []byte, v uint64) []byte {
	n := 1
	for v>>(7*n) != 0 {
		n++
	}
	for i := n - 1; i > 0; i-- {
		b = append(b, byte(v>>(7*i))&0x7f|0x80)
	}
	return append(b, byte(v)&0x7f)
}

// tlv is one decoded element. off is the offset of content within the
// outermost buffer handed to newReader.
type tlv struct {
	tag     byte
	content []byte
	off     int
}

type berReader struct {
	b   []byte
	off int
}

func newReader(b []byte) *berReader {
	return &berReader{b: b}
}

func (t tlv) reader() *berReader {
	return &berReader{b: t.content, off: t.off}
}

func (r *berReader) empty() bool {
	return len(r.b) == 0
}

func (r *berReader) read() (tlv, error) {
	if len(r.b) < 2 {
		return tlv{}, fmt.Errorf("%w: truncated header at offset %d", ErrDecode, r.off)
	}
	tag := r.b[0]
	if tag&0x1f == 0x1f {
		return tlv{}, fmt.Errorf("%w: multi-octet tag 0x%02x at offset %d", ErrDecode, tag, r.off)
	}
	hdr := 2
	length := int(r.b[1])
	if r.b[1]&0x80 != 0 {
		octets := int(r.b[1] & 0x7f)
		if octets == 0 {
			return tlv{}, fmt.Errorf("%w: indefinite length at offset %d", ErrDecode, r.off)
		}
		if octets > maxLengthOctets {
			return tlv{}, fmt.Errorf("%w: %d-octet length at offset %d", ErrDecode, octets, r.off)
		}
		if len(r.b) < 2+octets {
			return tlv{}, fmt.Errorf("%w: truncated length at offset %d", ErrDecode, r.off)
		}
		length = 0
		for _, c := range r.b[2 : 2+octets] {
			length = length<<8 | int(c)
		}
		hdr += octets
	}
	if length < 0 || length > len(r.b)-hdr {
		return tlv{}, fmt.Errorf("%w: length %d exceeds remaining %d bytes at offset %d",
			ErrDecode, length, len(r.b)-hdr, r.off)
	}
	t := tlv{tag: tag, content: r.b[hdr : hdr+length], off: r.off + hdr}
	r.b = r.b[hdr+length:]
	r.off += hdr + length
	return t, nil
}

func (r *berReader) expect(tag byte) (tlv, error) {
	t, err := r.read()
	if err != nil {
		return tlv{}, err
	}
	if t.tag != tag {
		return tlv{}, fmt.Errorf("%w: expected tag 0x%02x, got 0x%02x at offset %d", ErrDecode, tag, t.tag, t.off)
	}
	return t, nil
}

func (r *berReader) readInt() (int64, error) {
	t, err := r.expect(tagInteger)
	if err != nil {
		return 0, err
	}
	return parseInt(t.content)
}

func (r *berReader) readOctets() ([]byte, error) {
	t, err := r.expect(tagOctetString)
	if err != nil {
		return nil, err
	}
	return t.content, nil
}

func parseInt(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("%w: empty integer", ErrDecode)
	}
	if len(b) > 8 {
		return 0, fmt.Errorf("%w: %d-octet integer", ErrDecode, len(b))
	}
	v := int64(int8(b[0]))
	for _, c := range b[1:] {
		v = v<<8 | int64(c)
	}
	return v, nil
}

// parseUint accepts up to 8 value octets plus one leading zero octet.
func parseUint(b []byte, max uint64) (uint64, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("%w: empty unsigned integer", ErrDecode)
	}
	if len(b) > 9 || (len(b) == 9 && b[0] != 0) {
		return 0, fmt.Errorf("%w: %d-octet unsigned integer", ErrDecode, len(b))
	}
	// Some agents omit the zero pad octet; read the octets as unsigned.
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	if v > max {
		return 0, fmt.Errorf("%w: unsigned value %d out of range", ErrDecode, v)
	}
	return v, nil
}

func parseOIDValue(b []byte) (OID, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty OID", ErrDecode)
	}
	if b[len(b)-1]&0x80 != 0 {
		return nil, fmt.Errorf("%w: truncated OID", ErrDecode)
	}
	var arcs []uint64
	var v uint64
	for _, c := range b {
		if v > math.MaxUint64>>7 {
			return nil, fmt.Errorf("%w: OID arc overflow", ErrDecode)
		}
		v = v<<7 | uint64(c&0x7f)
		if c&0x80 == 0 {
			arcs = append(arcs, v)
			v = 0
		}
	}
	o := make(OID, 0, len(arcs)+1)
	switch first := arcs[0]; {
	case first < 40:
		o = append(o, 0, uint32(first))
	case first < 80:
		o = append(o, 1, uint32(first-40))
	default:
		if first-80 > math.MaxUint32 {
			return nil, fmt.Errorf("%w: OID arc overflow", ErrDecode)
		}
		o = append(o, 2, uint32(first-80))
	}
	for _, a := range arcs[1:] {
		if a > math.MaxUint32 {
			return nil, fmt.Errorf("%w: OID arc overflow", ErrDecode)
		}
		o = append(o, uint32(a))
	}
	return o, nil
}
