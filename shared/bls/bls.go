// Package bls implements a go-wrapper around a library implementing the
// BLS12-381 curve and signature scheme. This package exposes a minimal
// public API for signing, verifying, and aggregating the BLS signatures
// used throughout attestations, blocks, and RANDAO reveals.
//
// This implementation uses the library written by Herumi.
package bls

import (
	"fmt"
	"sync"

	bls12 "github.com/herumi/bls-eth-go-binary/bls"
	"github.com/pkg/errors"
)

var initOnce sync.Once
var initErr error

func initBLS() error {
	initOnce.Do(func() {
		initErr = bls12.Init(bls12.BLS12_381)
		if initErr != nil {
			return
		}
		initErr = bls12.SetETHmode(bls12.EthModeDraft07)
	})
	return initErr
}

// SecretKey represents a BLS private key used to sign attestations, blocks,
// and RANDAO reveals.
type SecretKey struct {
	p *bls12.SecretKey
}

// PublicKey represents a BLS public key, derived from a SecretKey and
// distributed to peers so they can verify signatures.
type PublicKey struct {
	p *bls12.PublicKey
}

// Signature represents an aggregatable BLS signature over a signing root.
type Signature struct {
	s *bls12.Sign
}

// RandKey generates a new random secret key.
func RandKey() (*SecretKey, error) {
	if err := initBLS(); err != nil {
		return nil, errors.Wrap(err, "could not initialize bls backend")
	}
	secKey := &bls12.SecretKey{}
	secKey.SetByCSPRNG()
	return &SecretKey{p: secKey}, nil
}

// SecretKeyFromBytes constructs a secret key from its raw 32-byte
// big-endian representation.
func SecretKeyFromBytes(raw []byte) (*SecretKey, error) {
	if err := initBLS(); err != nil {
		return nil, errors.Wrap(err, "could not initialize bls backend")
	}
	secKey := &bls12.SecretKey{}
	if err := secKey.Deserialize(raw); err != nil {
		return nil, errors.Wrap(err, "could not unmarshal secret key")
	}
	return &SecretKey{p: secKey}, nil
}

// PublicKeyFromBytes constructs a public key from its raw compressed
// 48-byte representation.
func PublicKeyFromBytes(raw []byte) (*PublicKey, error) {
	if err := initBLS(); err != nil {
		return nil, errors.Wrap(err, "could not initialize bls backend")
	}
	pubKey := &bls12.PublicKey{}
	if err := pubKey.Deserialize(raw); err != nil {
		return nil, errors.Wrap(err, "could not unmarshal public key")
	}
	return &PublicKey{p: pubKey}, nil
}

// SignatureFromBytes constructs a signature from its raw compressed
// 96-byte representation.
func SignatureFromBytes(raw []byte) (*Signature, error) {
	if err := initBLS(); err != nil {
		return nil, errors.Wrap(err, "could not initialize bls backend")
	}
	sig := &bls12.Sign{}
	if err := sig.Deserialize(raw); err != nil {
		return nil, errors.Wrap(err, "could not unmarshal signature")
	}
	return &Signature{s: sig}, nil
}

// PublicKey returns the public key corresponding to this secret key.
func (s *SecretKey) PublicKey() *PublicKey {
	return &PublicKey{p: s.p.GetPublicKey()}
}

// Sign signs msg (a 32-byte signing root, domain already mixed in by the
// caller) and returns the resulting signature.
func (s *SecretKey) Sign(msg []byte) *Signature {
	return &Signature{s: s.p.SignHash(msg)}
}

// Marshal returns the raw big-endian byte representation of the secret key.
func (s *SecretKey) Marshal() []byte {
	return s.p.Serialize()
}

// Marshal returns the raw compressed byte representation of the public key.
func (p *PublicKey) Marshal() []byte {
	return p.p.Serialize()
}

// Copy returns a copy of the public key.
func (p *PublicKey) Copy() *PublicKey {
	copied := *p.p
	return &PublicKey{p: &copied}
}

// Aggregate combines p with other into a single public key representing the
// combined set of signers, mutating p in place and returning it.
func (p *PublicKey) Aggregate(other *PublicKey) *PublicKey {
	p.p.Add(other.p)
	return p
}

// Marshal returns the raw compressed byte representation of the signature.
func (s *Signature) Marshal() []byte {
	return s.s.Serialize()
}

// Verify reports whether s is a valid signature by pubKey over msg.
func (s *Signature) Verify(pubKey *PublicKey, msg []byte) bool {
	return s.s.VerifyHash(pubKey.p, msg)
}

// AggregateVerify reports whether s is a valid aggregate signature over the
// distinct (pubKey, msg) pairs supplied, which must be the same length and
// order. Per the BLS spec this requires every msg to be distinct; the
// caller is responsible for deduplicating identical attestation data roots
// before calling this, e.g. via AggregateSignatures over identical-message
// signers instead.
func (s *Signature) AggregateVerify(pubKeys []*PublicKey, msgs [][32]byte) bool {
	if len(pubKeys) != len(msgs) {
		return false
	}
	rawKeys := make([]bls12.PublicKey, len(pubKeys))
	flattened := make([]byte, 0, len(msgs)*32)
	for i, pk := range pubKeys {
		rawKeys[i] = *pk.p
		flattened = append(flattened, msgs[i][:]...)
	}
	return s.s.AggregateVerifyNoCheck(rawKeys, flattened)
}

// AggregateSignatures combines the given signatures into a single signature
// representing all of them signing over the same message.
func AggregateSignatures(sigs []*Signature) *Signature {
	if len(sigs) == 0 {
		return nil
	}
	agg := bls12.Sign{}
	raw := make([]bls12.Sign, len(sigs))
	for i, s := range sigs {
		raw[i] = *s.s
	}
	agg.Aggregate(raw)
	return &Signature{s: &agg}
}

// AggregatePublicKeys combines the given public keys into a single public
// key representing their combined signing weight.
func AggregatePublicKeys(pubKeys []*PublicKey) (*PublicKey, error) {
	if len(pubKeys) == 0 {
		return nil, fmt.Errorf("no public keys supplied to aggregate")
	}
	agg := pubKeys[0].Copy()
	for _, pk := range pubKeys[1:] {
		agg.Aggregate(pk)
	}
	return agg, nil
}

// VerifyMultipleSignatures verifies a batch of (signature, message, public
// key) triples one at a time with Verify, stopping at the first failure.
// msgs and pubKeys must be one-for-one with sigs.
func VerifyMultipleSignatures(sigs [][]byte, msgs [][32]byte, pubKeys []*PublicKey) (bool, error) {
	if len(sigs) == 0 {
		return false, nil
	}
	if len(sigs) != len(msgs) || len(sigs) != len(pubKeys) {
		return false, errors.New("mismatched slice lengths in batch signature verification")
	}
	for i := range sigs {
		sig, err := SignatureFromBytes(sigs[i])
		if err != nil {
			return false, err
		}
		if !sig.Verify(pubKeys[i], msgs[i][:]) {
			return false, nil
		}
	}
	return true, nil
}
