package snmp

import (
	"fmt"
	"math"
	"slices"
)

// MsgFlags is the SNMPv3 msgFlags octet.
type MsgFlags byte

const (
	FlagAuth       MsgFlags = 0x01
	FlagPriv       MsgFlags = 0x02
	FlagReportable MsgFlags = 0x04
)

const (
	securityModelUSM = 3

	// DefaultMaxMessageSize is advertised as msgMaxSize: the largest UDP
	// payload over IPv4.
	DefaultMaxMessageSize = 65507
)

// SecurityParams are the USM security parameters of a v3 message.
type SecurityParams struct {
	EngineID    []byte
	EngineBoots uint32
	EngineTime  uint32
	UserName    string
	AuthParams  []byte
	PrivParams  []byte
}

// Message is an SNMP message of any version. Community applies to v1 and
// v2c; the remaining header fields apply to v3 only.
type Message struct {
	Version   Version
	Community string

	MsgID           int32
	MaxSize         int32
	Flags           MsgFlags
	Security        SecurityParams
	ContextEngineID []byte
	ContextName     string

	PDU PDU
}

// KeyFunc returns the localized keys for the user and engine named in an
// incoming v3 message. It is consulted only for authenticated messages.
type KeyFunc func(*SecurityParams) (*Keys, error)

// headerLen is the size of a tag and length prefix for n content octets.
func headerLen(n int) int {
	return 1 + len(appendLength(nil, n))
}

// Marshal encodes the message. For authenticated v3 messages keys must be
// non-nil; for encrypted ones Security.PrivParams must hold a fresh salt.
func (m *Message) Marshal(keys *Keys) ([]byte, error) {
	pdu, err := appendPDU(nil, &m.PDU)
	if err != nil {
		return nil, err
	}

	switch m.Version {
	case Version1, Version2c:
		body := appendInt(nil, tagInteger, int64(m.Version))
		body = appendTLV(body, tagOctetString, []byte(m.Community))
		body = append(body, pdu...)
		return appendTLV(nil, tagSequence, body), nil
	case Version3:
		return m.marshalV3(pdu, keys)
	}
	return nil, fmt.Errorf("%w: unsupported version %d", ErrEncode, int(m.Version))
}

func (m *Message) marshalV3(pdu []byte, keys *Keys) ([]byte, error) {
	auth := m.Flags&FlagAuth != 0
	priv := m.Flags&FlagPriv != 0
	if priv && !auth {
		return nil, fmt.Errorf("%w: privacy without authentication", ErrEncode)
	}
	if auth && (keys == nil || keys.Auth == NoAuth) {
		return nil, fmt.Errorf("%w: authenticated message without authentication key", ErrEncode)
	}
	if priv && keys.Priv == NoPriv {
		return nil, fmt.Errorf("%w: encrypted message without privacy key", ErrEncode)
	}

	var scoped []byte
	scoped = appendTLV(scoped, tagOctetString, m.ContextEngineID)
	scoped = appendTLV(scoped, tagOctetString, []byte(m.ContextName))
	scoped = append(scoped, pdu...)
	data := appendTLV(nil, tagSequence, scoped)
	if priv {
		enc, err := keys.encrypt(m.Security.EngineBoots, m.Security.EngineTime, m.Security.PrivParams, data)
		if err != nil {
			return nil, err
		}
		data = appendTLV(nil, tagOctetString, enc)
	}

	maxSize := m.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	var global []byte
	global = appendInt(global, tagInteger, int64(m.MsgID))
	global = appendInt(global, tagInteger, int64(maxSize))
	global = appendTLV(global, tagOctetString, []byte{byte(m.Flags)})
	global = appendInt(global, tagInteger, securityModelUSM)

	sp := &m.Security
	if sp.EngineBoots > math.MaxInt32 || sp.EngineTime > math.MaxInt32 {
		return nil, fmt.Errorf("%w: engine boots/time out of range", ErrEncode)
	}
	var pre []byte
	pre = appendTLV(pre, tagOctetString, sp.EngineID)
	pre = appendInt(pre, tagInteger, int64(sp.EngineBoots))
	pre = appendInt(pre, tagInteger, int64(sp.EngineTime))
	pre = appendTLV(pre, tagOctetString, []byte(sp.UserName))

	authParams := sp.AuthParams
	if auth {
		authParams = make([]byte, keys.Auth.macLen())
	}
	seqContent := appendTLV(slices.Clone(pre), tagOctetString, authParams)
	seqContent = appendTLV(seqContent, tagOctetString, sp.PrivParams)
	secSeq := appendTLV(nil, tagSequence, seqContent)

	body := appendInt(nil, tagInteger, int64(Version3))
	body = appendTLV(body, tagSequence, global)
	prefix := len(body)
	body = appendTLV(body, tagOctetString, secSeq)
	body = append(body, data...)
	msg := appendTLV(nil, tagSequence, body)

	if auth {
		off := headerLen(len(body)) + prefix + headerLen(len(secSeq)) +
			headerLen(len(seqContent)) + len(pre) + headerLen(len(authParams))
		copy(msg[off:off+len(authParams)], keys.mac(msg))
	}
	return msg, nil
}

// Unmarshal decodes a message. When a v3 message fails a security check
// the decoded header is returned together with the error so that the
// caller can answer with the matching report.
func Unmarshal(b []byte, keys KeyFunc) (*Message, error) {
	r := newReader(b)
	outer, err := r.expect(tagSequence)
	if err != nil {
		return nil, err
	}
	if !r.empty() {
		return nil, fmt.Errorf("%w: trailing data after message", ErrDecode)
	}
	or := outer.reader()
	ver, err := or.readInt()
	if err != nil {
		return nil, err
	}

	m := &Message{Version: Version(ver)}
	switch m.Version {
	case Version1, Version2c:
		community, err := or.readOctets()
		if err != nil {
			return nil, err
		}
		m.Community = string(community)
		t, err := or.read()
		if err != nil {
			return nil, err
		}
		pdu, err := parsePDU(t)
		if err != nil {
			return nil, err
		}
		if !or.empty() {
			return nil, fmt.Errorf("%w: trailing data in message", ErrDecode)
		}
		m.PDU = *pdu
		return m, nil
	case Version3:
		return unmarshalV3(b, m, or, keys)
	}
	return nil, fmt.Errorf("%w: unsupported version %d", ErrDecode, ver)
}

func unmarshalV3(b []byte, m *Message, r *berReader, keys KeyFunc) (*Message, error) {
	global, err := r.expect(tagSequence)
	if err != nil {
		return nil, err
	}
	gr := global.reader()
	msgID, err := gr.readInt()
	if err != nil {
		return nil, err
	}
	maxSize, err := gr.readInt()
	if err != nil {
		return nil, err
	}
	flags, err := gr.readOctets()
	if err != nil {
		return nil, err
	}
	if len(flags) != 1 {
		return nil, fmt.Errorf("%w: msgFlags of %d octets", ErrDecode, len(flags))
	}
	model, err := gr.readInt()
	if err != nil {
		return nil, err
	}
	if model != securityModelUSM {
		return nil, fmt.Errorf("%w: security model %d", ErrDecode, model)
	}
	m.MsgID = int32(msgID)
	m.MaxSize = int32(maxSize)
	m.Flags = MsgFlags(flags[0])

	spOctets, err := r.expect(tagOctetString)
	if err != nil {
		return nil, err
	}
	spSeq, err := spOctets.reader().expect(tagSequence)
	if err != nil {
		return nil, err
	}
	sr := spSeq.reader()
	sp := &m.Security
	if sp.EngineID, err = sr.readOctets(); err != nil {
		return nil, err
	}
	boots, err := sr.readInt()
	if err != nil {
		return nil, err
	}
	engineTime, err := sr.readInt()
	if err != nil {
		return nil, err
	}
	if boots < 0 || boots > math.MaxInt32 || engineTime < 0 || engineTime > math.MaxInt32 {
		return nil, fmt.Errorf("%w: engine boots/time out of range", ErrDecode)
	}
	sp.EngineBoots, sp.EngineTime = uint32(boots), uint32(engineTime)
	user, err := sr.readOctets()
	if err != nil {
		return nil, err
	}
	sp.UserName = string(user)
	authParams, err := sr.expect(tagOctetString)
	if err != nil {
		return nil, err
	}
	sp.AuthParams = authParams.content
	if sp.PrivParams, err = sr.readOctets(); err != nil {
		return nil, err
	}

	data, err := r.read()
	if err != nil {
		return nil, err
	}
	if !r.empty() {
		return nil, fmt.Errorf("%w: trailing data in message", ErrDecode)
	}

	auth := m.Flags&FlagAuth != 0
	priv := m.Flags&FlagPriv != 0
	if priv && !auth {
		return nil, fmt.Errorf("%w: privacy without authentication", ErrDecode)
	}

	if auth {
		var k *Keys
		if keys != nil {
			if k, err = keys(sp); err != nil {
				return m, err
			}
		}
		if k == nil || k.Auth == NoAuth {
			return m, fmt.Errorf("%w: no keys for user %q", ErrUnknownUser, sp.UserName)
		}
		zeroed := slices.Clone(b)
		clear(zeroed[authParams.off : authParams.off+len(authParams.content)])
		if err := k.verify(zeroed, sp.AuthParams); err != nil {
			return m, err
		}
		if priv {
			if k.Priv == NoPriv {
				return m, fmt.Errorf("%w: no privacy key for user %q", ErrDecrypt, sp.UserName)
			}
			if data.tag != tagOctetString {
				return m, fmt.Errorf("%w: encrypted PDU has tag 0x%02x", ErrDecrypt, data.tag)
			}
			plain, err := k.decrypt(sp.EngineBoots, sp.EngineTime, sp.PrivParams, data.content)
			if err != nil {
				return m, err
			}
			// Block cipher padding may follow the scoped PDU.
			if data, err = newReader(plain).expect(tagSequence); err != nil {
				return m, fmt.Errorf("%w: %w", ErrDecrypt, err)
			}
		}
	}
	if data.tag != tagSequence {
		return nil, fmt.Errorf("%w: scoped PDU has tag 0x%02x", ErrDecode, data.tag)
	}

	dr := data.reader()
	if m.ContextEngineID, err = dr.readOctets(); err != nil {
		return nil, err
	}
	ctxName, err := dr.readOctets()
	if err != nil {
		return nil, err
	}
	m.ContextName = string(ctxName)
	t, err := dr.read()
	if err != nil {
		return nil, err
	}
	pdu, err := parsePDU(t)
	if err != nil {
		return nil, err
	}
	if !dr.empty() {
		return nil, fmt.Errorf("%w: trailing data in scoped PDU", ErrDecode)
	}
	m.PDU = *pdu
	return m, nil
}
