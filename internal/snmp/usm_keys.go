package snmp

import (
	"crypto/hmac"
	"fmt"
)

// passwordExpansion is the number of octets hashed when turning a
// passphrase into a master key (RFC 3414 A.2).
const passwordExpansion = 1 << 20

// PasswordToKey derives the master key Ku from a passphrase.
func PasswordToKey(p AuthProtocol, password string) []byte {
	newHash := p.hash()
	if newHash == nil || password == "" {
		return nil
	}
	h := newHash()
	chunk := make([]byte, 64)
	pw := []byte(password)
	idx := 0
	for n := 0; n < passwordExpansion; n += len(chunk) {
		for i := range chunk {
			chunk[i] = pw[idx%len(pw)]
			idx++
		}
		h.Write(chunk)
	}
	return h.Sum(nil)
}

// LocalizeKey derives Kul = H(Ku || engineID || Ku).
func LocalizeKey(p AuthProtocol, ku, engineID []byte) []byte {
	newHash := p.hash()
	if newHash == nil {
		return nil
	}
	h := newHash()
	h.Write(ku)
	h.Write(engineID)
	h.Write(ku)
	return h.Sum(nil)
}

// extendKey lengthens a localized privacy key for AES-192/256 by appending
// successive hashes of the key so far.
func extendKey(p AuthProtocol, key []byte, n int) []byte {
	out := append([]byte(nil), key...)
	for len(out) < n {
		h := p.hash()()
		h.Write(out)
		out = h.Sum(out)
	}
	return out[:n]
}

// Keys are the localized keys for one user at one authoritative engine.
type Keys struct {
	Auth    AuthProtocol
	Priv    PrivProtocol
	AuthKey []byte
	PrivKey []byte
}

// masterKeys holds Ku for both passphrases so that relocalizing after an
// engine ID change does not repeat the expensive expansion.
type masterKeys struct {
	auth, priv []byte
}

func newMasterKeys(u USM) masterKeys {
	mk := masterKeys{auth: PasswordToKey(u.AuthProtocol, u.AuthPassphrase)}
	if u.PrivProtocol != NoPriv {
		mk.priv = PasswordToKey(u.AuthProtocol, u.PrivPassphrase)
	}
	return mk
}

func (mk masterKeys) localize(u USM, engineID []byte) *Keys {
	k := &Keys{Auth: u.AuthProtocol, Priv: u.PrivProtocol}
	if u.AuthProtocol == NoAuth {
		return k
	}
	k.AuthKey = LocalizeKey(u.AuthProtocol, mk.auth, engineID)
	if u.PrivProtocol != NoPriv {
		pk := LocalizeKey(u.AuthProtocol, mk.priv, engineID)
		if need := u.PrivProtocol.keyLen(); len(pk) < need {
			pk = extendKey(u.AuthProtocol, pk, need)
		}
		k.PrivKey = pk
	}
	return k
}

// LocalizedKeys derives the keys for u at engineID from scratch.
func LocalizedKeys(u USM, engineID []byte) *Keys {
	return newMasterKeys(u).localize(u, engineID)
}

func (k *Keys) mac(msg []byte) []byte {
	m := hmac.New(k.Auth.hash(), k.AuthKey)
	m.Write(msg)
	return m.Sum(nil)[:k.Auth.macLen()]
}

func (k *Keys) verify(msg, digest []byte) error {
	if len(digest) != k.Auth.macLen() {
		return fmt.Errorf("%w: digest of %d octets", ErrAuthFailure, len(digest))
	}
	if !hmac.Equal(k.mac(msg), digest) {
		return fmt.Errorf("%w: wrong digest", ErrAuthFailure)
	}
	return nil
}
