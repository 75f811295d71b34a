package local

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"

	"filippo.io/edwards25519"
	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
)

// kL || kR || chain code
const rootKeyLength = 96

// extendedKey is a BIP32-Ed25519 private key: kL is the scalar, kR the nonce prefix
type extendedKey struct {
	kL [32]byte
	kR [32]byte
	cc [32]byte
}

// parseRootKey reads kL||kR||cc
func parseRootKey(b []byte) (*extendedKey, error) {
	if len(b) != rootKeyLength {
		return nil, errors.Errorf("root key must be %d bytes, got %d", rootKeyLength, len(b))
	}
	if b[0]&0x07 != 0 || b[31]&0x80 != 0 {
		return nil, errors.New("root key scalar is not clamped")
	}
	k := &extendedKey{}
	copy(k.kL[:], b[:32])
	copy(k.kR[:], b[32:64])
	copy(k.cc[:], b[64:])
	return k, nil
}

// extendedFromSeed expands a standard ed25519 seed the way RFC 8032 does; signatures made
// with the result are identical to crypto/ed25519 ones.
func extendedFromSeed(seed []byte) *extendedKey {
	h := sha512.Sum512(seed)
	k := &extendedKey{}
	copy(k.kL[:], h[:32])
	copy(k.kR[:], h[32:])
	k.kL[0] &= 248
	k.kL[31] &= 127
	k.kL[31] |= 64
	zero(h[:])
	return k
}

func (k *extendedKey) scalar() *edwards25519.Scalar {
	var wide [64]byte
	copy(wide[:], k.kL[:])
	s, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	if err != nil {
		// unreachable: the input is always 64 bytes
		panic(err)
	}
	zero(wide[:])
	return s
}

func (k *extendedKey) publicKey() []byte {
	return new(edwards25519.Point).ScalarBaseMult(k.scalar()).Bytes()
}

// derive walks a CIP-1852 style path with the V2 (Icarus) child derivation
func (k *extendedKey) derive(path string) (*extendedKey, error) {
	indices, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	key := k
	for _, index := range indices {
		next := key.child(index)
		if key != k {
			key.zero()
		}
		key = next
	}
	return key, nil
}

func (k *extendedKey) child(index uint32) *extendedKey {
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], index)

	var zData, cData []byte
	if index >= hardenedOffset {
		zData = append(append(append([]byte{0x00}, k.kL[:]...), k.kR[:]...), idx[:]...)
		cData = append(append(append([]byte{0x01}, k.kL[:]...), k.kR[:]...), idx[:]...)
	} else {
		pub := k.publicKey()
		zData = append(append([]byte{0x02}, pub...), idx[:]...)
		cData = append(append([]byte{0x03}, pub...), idx[:]...)
	}
	z := hmacSHA512(k.cc[:], zData)
	c := hmacSHA512(k.cc[:], cData)
	defer zero(z)
	defer zero(zData)
	defer zero(cData)

	child := &extendedKey{}

	// kL' = 8*zL[0:28] + kL
	var carry uint16
	for i := 0; i < 32; i++ {
		var zl uint16
		if i < 28 {
			zl = uint16(z[i]) << 3
		}
		sum := zl + uint16(k.kL[i]) + carry
		child.kL[i] = byte(sum)
		carry = sum >> 8
	}

	// kR' = zR + kR mod 2^256
	carry = 0
	for i := 0; i < 32; i++ {
		sum := uint16(z[32+i]) + uint16(k.kR[i]) + carry
		child.kR[i] = byte(sum)
		carry = sum >> 8
	}

	copy(child.cc[:], c[32:])
	return child
}

// sign produces an ed25519 signature verifiable with crypto/ed25519 against publicKey()
func (k *extendedKey) sign(message []byte) []byte {
	a := k.scalar()
	pub := new(edwards25519.Point).ScalarBaseMult(a).Bytes()

	h := sha512.New()
	h.Write(k.kR[:])
	h.Write(message)
	nonce := h.Sum(nil)
	r, _ := edwards25519.NewScalar().SetUniformBytes(nonce)
	zero(nonce)

	noncePoint := new(edwards25519.Point).ScalarBaseMult(r).Bytes()

	h.Reset()
	h.Write(noncePoint)
	h.Write(pub)
	h.Write(message)
	kh, _ := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))

	s := edwards25519.NewScalar().MultiplyAdd(kh, a, r)

	out := make([]byte, 0, 64)
	out = append(out, noncePoint...)
	return append(out, s.Bytes()...)
}

func (k *extendedKey) zero() {
	zero(k.kL[:])
	zero(k.kR[:])
	zero(k.cc[:])
}

func hmacSHA512(key []byte, data []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// extendedSigner adapts an extendedKey to the key ring
type extendedSigner struct {
	key *extendedKey
}

func (e *extendedSigner) curve() staking.Curve {
	return staking.CurveEd25519
}

func (e *extendedSigner) publicKey() []byte {
	return e.key.publicKey()
}

func (e *extendedSigner) sign(digest []byte) (staking.Signature, error) {
	return staking.Signature{Bytes: e.key.sign(digest)}, nil
}

func (e *extendedSigner) zero() {
	e.key.zero()
}
