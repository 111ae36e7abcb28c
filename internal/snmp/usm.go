package snmp

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// Version is the SNMP message version field.
type Version int

const (
	Version1  Version = 0
	Version2c Version = 1
	Version3  Version = 3
)

func (v Version) String() string {
	switch v {
	case Version1:
		return "1"
	case Version2c:
		return "2c"
	case Version3:
		return "3"
	default:
		return fmt.Sprintf("Version(%d)", int(v))
	}
}

// Credentials select the protocol version and security parameters for a
// device. The set of implementations is closed: CommunityV1, CommunityV2c
// and USM.
type Credentials interface {
	Version() Version
	credentials()
}

// CommunityV1 is SNMPv1 community-based access.
type CommunityV1 struct {
	Community string
}

// CommunityV2c is SNMPv2c community-based access.
type CommunityV2c struct {
	Community string
}

// USM holds SNMPv3 user-based security parameters.
type USM struct {
	UserName       string
	AuthProtocol   AuthProtocol
	AuthPassphrase string
	PrivProtocol   PrivProtocol
	PrivPassphrase string
}

func (CommunityV1) Version() Version  { return Version1 }
func (CommunityV2c) Version() Version { return Version2c }
func (USM) Version() Version          { return Version3 }

func (CommunityV1) credentials()  {}
func (CommunityV2c) credentials() {}
func (USM) credentials()          {}

// minPassphraseLen is the RFC 3414 lower bound for passphrases.
const minPassphraseLen = 8

// Validate checks that the protocols and passphrases are consistent.
func (u USM) Validate() error {
	if u.UserName == "" {
		return errors.New("missing security name")
	}
	if u.PrivProtocol != NoPriv && u.AuthProtocol == NoAuth {
		return errors.New("privacy requires an authentication protocol")
	}
	if u.AuthProtocol != NoAuth && len(u.AuthPassphrase) < minPassphraseLen {
		return fmt.Errorf("authentication passphrase shorter than %d characters", minPassphraseLen)
	}
	if u.PrivProtocol != NoPriv && len(u.PrivPassphrase) < minPassphraseLen {
		return fmt.Errorf("privacy passphrase shorter than %d characters", minPassphraseLen)
	}
	return nil
}

// Flags returns the msgFlags security level bits for this user.
func (u USM) Flags() MsgFlags {
	var f MsgFlags
	if u.AuthProtocol != NoAuth {
		f |= FlagAuth
	}
	if u.PrivProtocol != NoPriv {
		f |= FlagPriv
	}
	return f
}

// AuthProtocol is a USM authentication protocol.
type AuthProtocol int

const (
	NoAuth AuthProtocol = iota
	MD5
	SHA
	SHA224
	SHA256
	SHA384
	SHA512
)

func (p AuthProtocol) String() string {
	switch p {
	case NoAuth:
		return "none"
	case MD5:
		return "MD5"
	case SHA:
		return "SHA"
	case SHA224:
		return "SHA224"
	case SHA256:
		return "SHA256"
	case SHA384:
		return "SHA384"
	case SHA512:
		return "SHA512"
	}
	return fmt.Sprintf("AuthProtocol(%d)", int(p))
}

// ParseAuthProtocol accepts MD5, SHA (or SHA1), SHA224, SHA256, SHA384 and
// SHA512, case-insensitively, with an optional hyphen. The empty string
// means no authentication.
func ParseAuthProtocol(s string) (AuthProtocol, error) {
	switch strings.ReplaceAll(strings.ToUpper(s), "-", "") {
	case "":
		return NoAuth, nil
	case "MD5":
		return MD5, nil
	case "SHA", "SHA1":
		return SHA, nil
	case "SHA224":
		return SHA224, nil
	case "SHA256":
		return SHA256, nil
	case "SHA384":
		return SHA384, nil
	case "SHA512":
		return SHA512, nil
	}
	return NoAuth, fmt.Errorf("unknown authentication protocol %q", s)
}

func (p AuthProtocol) hash() func() hash.Hash {
	switch p {
	case MD5:
		return md5.New
	case SHA:
		return sha1.New
	case SHA224:
		return sha256.New224
	case SHA256:
		return sha256.New
	case SHA384:
		return sha512.New384
	case SHA512:
		return sha512.New
	}
	return nil
}

// macLen is the truncated HMAC length carried in msgAuthenticationParameters.
func (p AuthProtocol) macLen() int {
	switch p {
	case MD5, SHA:
		return 12
	case SHA224:
		return 16
	case SHA256:
		return 24
	case SHA384:
		return 32
	case SHA512:
		return 48
	}
	return 0
}

// PrivProtocol is a USM privacy protocol.
type PrivProtocol int

const (
	NoPriv PrivProtocol = iota
	DES
	AES
	AES192
	AES256
)

func (p PrivProtocol) String() string {
	switch p {
	case NoPriv:
		return "none"
	case DES:
		return "DES"
	case AES:
		return "AES"
	case AES192:
		return "AES192"
	case AES256:
		return "AES256"
	}
	return fmt.Sprintf("PrivProtocol(%d)", int(p))
}

// ParsePrivProtocol accepts DES, AES (or AES128), AES192 and AES256. The
// empty string means no privacy.
func ParsePrivProtocol(s string) (PrivProtocol, error) {
	switch strings.ReplaceAll(strings.ToUpper(s), "-", "") {
	case "":
		return NoPriv, nil
	case "DES":
		return DES, nil
	case "AES", "AES128":
		return AES, nil
	case "AES192":
		return AES192, nil
	case "AES256":
		return AES256, nil
	}
	return NoPriv, fmt.Errorf("unknown privacy protocol %q", s)
}

// keyLen is the number of localized key octets the cipher consumes. DES
// uses 16: an 8-octet key followed by the 8-octet pre-IV.
func (p PrivProtocol) keyLen() int {
	switch p {
	case DES, AES:
		return 16
	case AES192:
		return 24
	case AES256:
		return 32
	}
	return 0
}
