package snmp

import (
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"unicode/utf8"
)

// Type identifies the SNMP syntax of a Value. Its numeric value is the
// BER tag used on the wire.
type Type byte

const (
	TypeInteger        Type = tagInteger
	TypeOctetString    Type = tagOctetString
	TypeNull           Type = tagNull
	TypeObjectID       Type = tagOID
	TypeIPAddress      Type = tagIPAddress
	TypeCounter32      Type = tagCounter32
	TypeGauge32        Type = tagGauge32
	TypeTimeTicks      Type = tagTimeTicks
	TypeOpaque         Type = tagOpaque
	TypeCounter64      Type = tagCounter64
	TypeNoSuchObject   Type = tagNoSuchObject
	TypeNoSuchInstance Type = tagNoSuchInstance
	TypeEndOfMibView   Type = tagEndOfMibView
)

func (t Type) String() string {
	switch t {
	case TypeInteger:
		return "Integer"
	case TypeOctetString:
		return "OctetString"
	case TypeNull:
		return "Null"
	case TypeObjectID:
		return "ObjectIdentifier"
	case TypeIPAddress:
		return "IpAddress"
	case TypeCounter32:
		return "Counter32"
	case TypeGauge32:
		return "Gauge32"
	case TypeTimeTicks:
		return "TimeTicks"
	case TypeOpaque:
		return "Opaque"
	case TypeCounter64:
		return "Counter64"
	case TypeNoSuchObject:
		return "noSuchObject"
	case TypeNoSuchInstance:
		return "noSuchInstance"
	case TypeEndOfMibView:
		return "endOfMibView"
	default:
		return fmt.Sprintf("Type(0x%02x)", byte(t))
	}
}

// Value is a decoded varbind value. Which field is meaningful depends on
// Type: Int for Integer, Uint for the unsigned application types, Bytes for
// OctetString, Opaque and IpAddress, OID for ObjectIdentifier.
type Value struct {
	Type  Type
	Int   int64
	Uint  uint64
	Bytes []byte
	OID   OID
}

func Integer(v int64) Value { return Value{Type: TypeInteger, Int: v} }
func OctetString(b []byte) Value { return Value{Type: TypeOctetString, Bytes: b} }
func String(s string) Value { return Value{Type: TypeOctetString, Bytes: []byte(s)} }
func ObjectID(o OID) Value { return Value{Type: TypeObjectID, OID: o} }
func Counter32(v uint32) Value { return Value{Type: TypeCounter32, Uint: uint64(v)} }
func Gauge32(v uint32) Value { return Value{Type: TypeGauge32, Uint: uint64(v)} }
func TimeTicks(v uint32) Value { return Value{Type: TypeTimeTicks, Uint: uint64(v)} }
func Counter64(v uint64) Value { return Value{Type: TypeCounter64, Uint: v} }
func Null() Value { return Value{Type: TypeNull} }
func NoSuchObject() Value { return Value{Type: TypeNoSuchObject} }
func NoSuchInstance() Value { return Value{Type: TypeNoSuchInstance} }
func EndOfMibView() Value { return Value{Type: TypeEndOfMibView} }
func IPAddress(a netip.Addr) Value { b := a.As4(); return Value{Type: TypeIPAddress, Bytes: b[:]} }
func Opaque(b []byte) Value { return Value{Type: TypeOpaque, Bytes: b} }

// IsException reports whether v is one of the v2 exception values.
func (v Value) IsException() bool {
	return v.Type == TypeNoSuchObject || v.Type == TypeNoSuchInstance || v.Type == TypeEndOfMibView
}

// Numeric renders integer-valued types as decimal text. Other types
// report false.
func (v Value) Numeric() (string, bool) {
	switch v.Type {
	case TypeInteger:
		return strconv.FormatInt(v.Int, 10), true
	case TypeCounter32, TypeGauge32, TypeTimeTicks, TypeCounter64:
		return strconv.FormatUint(v.Uint, 10), true
	}
	return "", false
}

// Label renders the value as text suitable for naming a table row.
func (v Value) Label() string {
	switch v.Type {
	case TypeOctetString:
		if utf8.Valid(v.Bytes) {
			return string(v.Bytes)
		}
		return fmt.Sprintf("%x", v.Bytes)
	case TypeObjectID:
		return v.OID.String()
	case TypeIPAddress:
		if len(v.Bytes) == 4 {
			return netip.AddrFrom4([4]byte(v.Bytes)).String()
		}
		return fmt.Sprintf("%x", v.Bytes)
	case TypeOpaque:
		return fmt.Sprintf("%x", v.Bytes)
	case TypeNull:
		return ""
	}
	if s, ok := v.Numeric(); ok {
		return s
	}
	return v.Type.String()
}

func (v Value) String() string {
	return v.Type.String() + ": " + v.Label()
}

// VarBind pairs an OID with its value.
type VarBind struct {
	Name  OID
	Value Value
}

func appendValue(b []byte, v Value) ([]byte, error) {
	switch v.Type {
	case TypeInteger:
		if v.Int < math.MinInt32 || v.Int > math.MaxInt32 {
			return nil, fmt.Errorf("%w: integer %d out of range", ErrEncode, v.Int)
		}
		return appendInt(b, tagInteger, v.Int), nil
	case TypeOctetString, TypeOpaque:
		return appendTLV(b, byte(v.Type), v.Bytes), nil
	case TypeIPAddress:
		if len(v.Bytes) != 4 {
			return nil, fmt.Errorf("%w: IpAddress of %d octets", ErrEncode, len(v.Bytes))
		}
		return appendTLV(b, tagIPAddress, v.Bytes), nil
	case TypeNull, TypeNoSuchObject, TypeNoSuchInstance, TypeEndOfMibView:
		return append(b, byte(v.Type), 0), nil
	case TypeObjectID:
		return appendOIDValue(b, v.OID)
	case TypeCounter32, TypeGauge32, TypeTimeTicks:
		if v.Uint > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %s value %d out of range", ErrEncode, v.Type, v.Uint)
		}
		return appendUint(b, byte(v.Type), v.Uint), nil
	case TypeCounter64:
		return appendUint(b, tagCounter64, v.Uint), nil
	}
	return nil, fmt.Errorf("%w: unsupported value type %s", ErrEncode, v.Type)
}

func parseValue(t tlv) (Value, error) {
	switch t.tag {
	case tagInteger:
		n, err := parseInt(t.content)
		if err != nil {
			return Value{}, err
		}
		return Integer(n), nil
	case tagOctetString, tagOpaque:
		return Value{Type: Type(t.tag), Bytes: t.content}, nil
	case tagIPAddress:
		if len(t.content) != 4 {
			return Value{}, fmt.Errorf("%w: IpAddress of %d octets", ErrDecode, len(t.content))
		}
		return Value{Type: TypeIPAddress, Bytes: t.content}, nil
	case tagNull, tagNoSuchObject, tagNoSuchInstance, tagEndOfMibView:
		if len(t.content) != 0 {
			return Value{}, fmt.Errorf("%w: non-empty %s", ErrDecode, Type(t.tag))
		}
		return Value{Type: Type(t.tag)}, nil
	case tagOID:
		o, err := parseOIDValue(t.content)
		if err != nil {
			return Value{}, err
		}
		return ObjectID(o), nil
	case tagCounter32, tagGauge32, tagTimeTicks:
		n, err := parseUint(t.content, math.MaxUint32)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: Type(t.tag), Uint: n}, nil
	case tagCounter64:
		n, err := parseUint(t.content, math.MaxUint64)
		if err != nil {
			return Value{}, err
		}
		return Counter64(n), nil
	}
	return Value{}, fmt.Errorf("%w: unexpected value tag 0x%02x", ErrDecode, t.tag)
}
