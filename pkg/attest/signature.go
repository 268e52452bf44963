package attest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"fmt"
	"math/big"
)

// COSE algorithm identifiers the NSM can declare (RFC 8152 section 8.1).
const (
	AlgES256 int64 = -7
	AlgES384 int64 = -35
	AlgES512 int64 = -36
)

// headerLabelAlg is the protected header label carrying the algorithm.
const headerLabelAlg int64 = 1

type coseAlgorithm struct {
	curve elliptic.Curve
	hash  crypto.Hash
}

// The supported set is pinned: ECDSA only, curve and hash fixed per
// identifier. Anything else fails closed, there is no fallback scheme.
var coseAlgorithms = map[int64]coseAlgorithm{
	AlgES256: {curve: elliptic.P256(), hash: crypto.SHA256},
	AlgES384: {curve: elliptic.P384(), hash: crypto.SHA384},
	AlgES512: {curve: elliptic.P521(), hash: crypto.SHA512},
}

// VerifySignature verifies the envelope signature against the signer's public
// key. The signed bytes are not the raw payload but the COSE Sig_structure
// (RFC 8152 section 4.4): context string, protected header bytes, empty
// external AAD, payload bytes, re-encoded as a CBOR array. The algorithm comes
// from the protected header; an unknown identifier, or one whose curve does
// not match the presented key, is refused rather than downgraded.
func VerifySignature(env *COSESign1, key *ecdsa.PublicKey) error {
	algID, err := env.algorithm()
	if err != nil {
		return err
	}
	alg, ok := coseAlgorithms[algID]
	if !ok {
		return &SignatureError{Kind: SignatureUnsupportedAlgorithm, Algorithm: algID}
	}
	if key.Curve != alg.curve {
		return &SignatureError{Kind: SignatureUnsupportedAlgorithm, Algorithm: algID}
	}

	signed, err := encMode.Marshal([]any{"Signature1", env.Protected, []byte{}, env.Payload})
	if err != nil {
		return fmt.Errorf("attest: encoding Sig_structure: %w", err)
	}
	h := alg.hash.New()
	h.Write(signed)
	digest := h.Sum(nil)

	// The signature is raw r || s, each padded to the curve's byte size.
	n := (alg.curve.Params().BitSize + 7) / 8
	if len(env.Signature) != 2*n {
		return &SignatureError{Kind: SignatureInvalid, Algorithm: algID}
	}
	r := new(big.Int).SetBytes(env.Signature[:n])
	s := new(big.Int).SetBytes(env.Signature[n:])
	if !ecdsa.Verify(key, digest, r, s) {
		return &SignatureError{Kind: SignatureInvalid, Algorithm: algID}
	}
	return nil
}

// algorithm extracts the declared COSE algorithm from the protected header.
func (e *COSESign1) algorithm() (int64, error) {
	hdr, err := e.protectedHeader()
	if err != nil {
		return 0, err
	}
	raw, ok := hdr[headerLabelAlg]
	if !ok {
		return 0, &SignatureError{Kind: SignatureUnsupportedAlgorithm}
	}
	var algID int64
	if err := decMode.Unmarshal(raw, &algID); err != nil {
		return 0, &SignatureError{Kind: SignatureUnsupportedAlgorithm}
	}
	return algID, nil
}
