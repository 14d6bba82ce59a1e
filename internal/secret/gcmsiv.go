package secret

import (
	"crypto/aes"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// This file implements AES-256-GCM-SIV (RFC 8452) directly on crypto/aes +
// crypto/cipher primitives. No package in the retrieval pack or the wider
// Go ecosystem implements this specific nonce-misuse-resistant AEAD mode
// (golang.org/x/crypto, already a transitive dependency via pgx, has no
// GCM-SIV construction either) — see DESIGN.md for the stdlib justification.

const (
	blockSize  = 16
	nonceSize  = 12
	tagSize    = 16
	authKeySz  = 16
	aes256KeySz = 32
)

var ErrAuthFailed = errors.New("gcmsiv: authentication failed")

// polyvalMulX multiplies the 128-bit little-endian field element v by x,
// reducing modulo x^128+x^127+x^126+x^121+1. Bit i of the field element is
// bit (i%8) of byte (i/8) — the natural little-endian bit order POLYVAL
// uses (unlike GHASH, which bit-reflects within each byte).
func polyvalMulX(v [blockSize]byte) [blockSize]byte {
	var out [blockSize]byte
	carry := byte(0)
	for i := 0; i < blockSize; i++ {
		b := v[i]
		newCarry := b >> 7
		out[i] = (b << 1) | carry
		carry = newCarry
	}
	if carry != 0 {
		out[0] ^= 0x01
		out[blockSize-1] ^= 0xC2
	}
	return out
}

func bit(v [blockSize]byte, i int) bool {
	return v[i/8]&(1<<uint(i%8)) != 0
}

// polyvalDot computes the POLYVAL field multiplication a*b (RFC 8452 §3),
// via the standard shift-and-add method: accumulate a (shifted by x each
// round) into the result wherever the corresponding bit of b is set.
func polyvalDot(a, b [blockSize]byte) [blockSize]byte {
	var z [blockSize]byte
	v := a
	for i := 0; i < 128; i++ {
		if bit(b, i) {
			for j := range z {
				z[j] ^= v[j]
			}
		}
		v = polyvalMulX(v)
	}
	return z
}

// polyval computes POLYVAL(H, X_1, ..., X_n) via Horner's method:
// S_0 = 0; S_i = dot(S_{i-1} XOR X_i, H).
func polyval(h [blockSize]byte, blocks [][blockSize]byte) [blockSize]byte {
	var s [blockSize]byte
	for _, x := range blocks {
		var xored [blockSize]byte
		for j := range s {
			xored[j] = s[j] ^ x[j]
		}
		s = polyvalDot(xored, h)
	}
	return s
}

func toBlocks(data []byte) [][blockSize]byte {
	n := (len(data) + blockSize - 1) / blockSize
	if n == 0 {
		return nil
	}
	blocks := make([][blockSize]byte, n)
	for i := 0; i < n; i++ {
		start := i * blockSize
		end := start + blockSize
		if end > len(data) {
			end = len(data)
		}
		copy(blocks[i][:], data[start:end])
	}
	return blocks
}

// deriveKeys implements RFC 8452 §4's key-derivation function for a 256-bit
// master key: six AES-ECB encryptions of (counter||nonce) blocks, each
// contributing their low 8 bytes to the 16-byte auth key (blocks 0-1) and
// 32-byte encryption key (blocks 2-5).
func deriveKeys(masterKey []byte, nonce [nonceSize]byte) (authKey [authKeySz]byte, encKey [aes256KeySz]byte, err error) {
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return authKey, encKey, err
	}

	var derived [6][8]byte
	var in, out [blockSize]byte
	for i := 0; i < 6; i++ {
		in = [blockSize]byte{}
		binary.LittleEndian.PutUint32(in[0:4], uint32(i))
		copy(in[4:], nonce[:])
		block.Encrypt(out[:], in[:])
		copy(derived[i][:], out[:8])
	}

	copy(authKey[0:8], derived[0][:])
	copy(authKey[8:16], derived[1][:])
	copy(encKey[0:8], derived[2][:])
	copy(encKey[8:16], derived[3][:])
	copy(encKey[16:24], derived[4][:])
	copy(encKey[24:32], derived[5][:])
	return authKey, encKey, nil
}

func lenBlock(aadLen, ptLen int) [blockSize]byte {
	var b [blockSize]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(aadLen)*8)
	binary.LittleEndian.PutUint64(b[8:16], uint64(ptLen)*8)
	return b
}

// computeTag runs POLYVAL over AAD||plaintext (each zero-padded to a block
// boundary) plus the bit-length block, XORs in the nonce, clears the tag's
// top bit, then AES-encrypts the result with encKey to get the SIV tag.
func computeTag(authKey [authKeySz]byte, encKey [aes256KeySz]byte, nonce [nonceSize]byte, aad, plaintext []byte) ([blockSize]byte, error) {
	var h [blockSize]byte
	copy(h[:], authKey[:])

	blocks := append([][blockSize]byte{}, toBlocks(aad)...)
	blocks = append(blocks, toBlocks(plaintext)...)
	blocks = append(blocks, lenBlock(len(aad), len(plaintext)))

	s := polyval(h, blocks)

	for i := 0; i < nonceSize; i++ {
		s[i] ^= nonce[i]
	}
	s[blockSize-1] &= 0x7f

	block, err := aes.NewCipher(encKey[:])
	if err != nil {
		return s, err
	}
	var tag [blockSize]byte
	block.Encrypt(tag[:], s[:])
	return tag, nil
}

// ctrCrypt XORs data with the AES-CTR keystream generated from
// startCounter, incrementing only the low 32 bits (little-endian, mod
// 2^32) of the counter block between AES blocks — RFC 8452's counter
// variant, distinct from the full-128-bit counter crypto/cipher.NewCTR
// implements.
func ctrCrypt(cipherBlock cipherEncrypter, startCounter [blockSize]byte, data []byte) []byte {
	out := make([]byte, len(data))
	counter := startCounter
	low := binary.LittleEndian.Uint32(counter[0:4])

	var keystream [blockSize]byte
	for off := 0; off < len(data); off += blockSize {
		binary.LittleEndian.PutUint32(counter[0:4], low)
		cipherBlock.Encrypt(keystream[:], counter[:])

		end := off + blockSize
		if end > len(data) {
			end = len(data)
		}
		for i := off; i < end; i++ {
			out[i] = data[i] ^ keystream[i-off]
		}
		low++
	}
	return out
}

type cipherEncrypter interface {
	Encrypt(dst, src []byte)
}

// Seal encrypts plaintext with AES-256-GCM-SIV under key (32 bytes), nonce
// (12 bytes) and aad, returning ciphertext||tag (len(plaintext)+16 bytes).
func Seal(key []byte, nonce [nonceSize]byte, plaintext, aad []byte) ([]byte, error) {
	if len(key) != aes256KeySz {
		return nil, errors.New("gcmsiv: key must be 32 bytes")
	}
	authKey, encKey, err := deriveKeys(key, nonce)
	if err != nil {
		return nil, err
	}
	tag, err := computeTag(authKey, encKey, nonce, aad, plaintext)
	if err != nil {
		return nil, err
	}

	encBlock, err := aes.NewCipher(encKey[:])
	if err != nil {
		return nil, err
	}

	counter := tag
	counter[blockSize-1] |= 0x80
	ciphertext := ctrCrypt(encBlock, counter, plaintext)

	out := make([]byte, 0, len(ciphertext)+tagSize)
	out = append(out, ciphertext...)
	out = append(out, tag[:]...)
	return out, nil
}

// Open decrypts and authenticates a Seal'd blob, returning ErrAuthFailed
// (wrapping, via errors.Is) on any tag or AAD mismatch.
func Open(key []byte, nonce [nonceSize]byte, sealed, aad []byte) ([]byte, error) {
	if len(key) != aes256KeySz {
		return nil, errors.New("gcmsiv: key must be 32 bytes")
	}
	if len(sealed) < tagSize {
		return nil, ErrAuthFailed
	}
	ciphertext := sealed[:len(sealed)-tagSize]
	var tag [blockSize]byte
	copy(tag[:], sealed[len(sealed)-tagSize:])

	authKey, encKey, err := deriveKeys(key, nonce)
	if err != nil {
		return nil, err
	}

	encBlock, err := aes.NewCipher(encKey[:])
	if err != nil {
		return nil, err
	}

	counter := tag
	counter[blockSize-1] |= 0x80
	plaintext := ctrCrypt(encBlock, counter, ciphertext)

	expectedTag, err := computeTag(authKey, encKey, nonce, aad, plaintext)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(expectedTag[:], tag[:]) != 1 {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
