package snmp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"encoding/binary"
	"fmt"
)

// privParamsLen is the size of msgPrivacyParameters for every supported
// privacy protocol.
const privParamsLen = 8

func (k *Keys) encrypt(boots, engineTime uint32, salt, plaintext []byte) ([]byte, error) {
	if len(salt) != privParamsLen {
		return nil, fmt.Errorf("%w: salt of %d octets", ErrEncode, len(salt))
	}
	switch k.Priv {
	case DES:
		block, err := des.NewCipher(k.PrivKey[:8])
		if err != nil {
			return nil, err
		}
		padded := plaintext
		if rem := len(plaintext) % des.BlockSize; rem != 0 {
			padded = make([]byte, len(plaintext)+des.BlockSize-rem)
			copy(padded, plaintext)
		}
		out := make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, desIV(k.PrivKey, salt)).CryptBlocks(out, padded)
		return out, nil
	case AES, AES192, AES256:
		block, err := aes.NewCipher(k.PrivKey[:k.Priv.keyLen()])
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(plaintext))
		cipher.NewCFBEncrypter(block, aesIV(boots, engineTime, salt)).XORKeyStream(out, plaintext)
		return out, nil
	}
	return nil, fmt.Errorf("%w: unsupported privacy protocol %s", ErrEncode, k.Priv)
}

func (k *Keys) decrypt(boots, engineTime uint32, salt, ciphertext []byte) ([]byte, error) {
	if len(salt) != privParamsLen {
		return nil, fmt.Errorf("%w: privacy parameters of %d octets", ErrDecrypt, len(salt))
	}
	switch k.Priv {
	case DES:
		if len(ciphertext) == 0 || len(ciphertext)%des.BlockSize != 0 {
			return nil, fmt.Errorf("%w: ciphertext of %d octets", ErrDecrypt, len(ciphertext))
		}
		block, err := des.NewCipher(k.PrivKey[:8])
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(ciphertext))
		cipher.NewCBCDecrypter(block, desIV(k.PrivKey, salt)).CryptBlocks(out, ciphertext)
		return out, nil
	case AES, AES192, AES256:
		block, err := aes.NewCipher(k.PrivKey[:k.Priv.keyLen()])
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(ciphertext))
		cipher.NewCFBDecrypter(block, aesIV(boots, engineTime, salt)).XORKeyStream(out, ciphertext)
		return out, nil
	}
	return nil, fmt.Errorf("%w: unsupported privacy protocol %s", ErrDecrypt, k.Priv)
}

// desIV is the pre-IV (octets 8..15 of the privacy key) XOR the salt.
func desIV(key, salt []byte) []byte {
	iv := make([]byte, des.BlockSize)
	for i := range iv {
		iv[i] = key[8+i] ^ salt[i]
	}
	return iv
}

// aesIV is boots || time || salt (RFC 3826 3.1.2.1).
func aesIV(boots, engineTime uint32, salt []byte) []byte {
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint32(iv[0:], boots)
	binary.BigEndian.PutUint32(iv[4:], engineTime)
	copy(iv[8:], salt)
	return iv
}

// saltFor renders the salt counter as msgPrivacyParameters. DES salts embed
// the engine boots in the high half as RFC 3414 8.1.1.1 requires.
func saltFor(p PrivProtocol, boots uint32, counter uint64) []byte {
	salt := make([]byte, privParamsLen)
	if p == DES {
		binary.BigEndian.PutUint32(salt[0:], boots)
		binary.BigEndian.PutUint32(salt[4:], uint32(counter))
		return salt
	}
	binary.BigEndian.PutUint64(salt, counter)
	return salt
}
