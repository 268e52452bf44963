package attest

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// COSESign1 is the COSE_Sign1 envelope wrapping an attestation payload:
// exactly four fields, in fixed order, as a CBOR array (RFC 8152 section 4.2).
// The unprotected header is kept as raw bytes and carries no trust decisions.
type COSESign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

// maxNestedLevels bounds CBOR recursion depth. A well-formed attestation
// document nests at most four levels; anything deeper is hostile input.
const maxNestedLevels = 8

var (
	decMode cbor.DecMode
	encMode cbor.EncMode
)

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		IndefLength:     cbor.IndefLengthForbidden,
		MaxNestedLevels: maxNestedLevels,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("attest: building CBOR decode mode: %v", err))
	}
	encMode, err = cbor.EncOptions{Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("attest: building CBOR encode mode: %v", err))
	}
}

// DecodeEnvelope decodes raw untrusted bytes into a COSE_Sign1 envelope.
// It performs structural validation only, no cryptography: the top-level item
// must be a four-element array (the COSE_Sign1 tag 18 wrapper is accepted),
// both headers must be map-shaped, payload and signature must be non-empty
// byte strings, and no bytes may follow the structure. Every deviation,
// including truncated input and over-deep nesting, fails with a malformed
// DecodeError; no input panics.
func DecodeEnvelope(raw []byte) (*COSESign1, error) {
	// The NSM emits the array untagged; a COSE_Sign1 tag wrapper (0xd2) is
	// accepted and stripped.
	if len(raw) > 0 && raw[0] == 0xd2 {
		raw = raw[1:]
	}
	var env COSESign1
	if err := decMode.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Kind: DecodeMalformed, cause: err}
	}
	if _, err := env.protectedHeader(); err != nil {
		return nil, err
	}
	// Unprotected must be a definite-length map. Its contents are ignored.
	if len(env.Unprotected) == 0 || env.Unprotected[0]>>5 != 5 {
		return nil, &DecodeError{Kind: DecodeMalformed, cause: fmt.Errorf("unprotected header is not a map")}
	}
	if len(env.Payload) == 0 {
		return nil, &DecodeError{Kind: DecodeMalformed, cause: fmt.Errorf("empty payload")}
	}
	if len(env.Signature) == 0 {
		return nil, &DecodeError{Kind: DecodeMalformed, cause: fmt.Errorf("empty signature")}
	}
	return &env, nil
}

// protectedHeader decodes the protected header byte string into its CBOR map.
// The NSM emits integer labels only ({1: alg}); a strict fixed schema is
// deliberate here, string labels are rejected.
func (e *COSESign1) protectedHeader() (map[int64]cbor.RawMessage, error) {
	if len(e.Protected) == 0 {
		return nil, &DecodeError{Kind: DecodeMalformed, cause: fmt.Errorf("empty protected header")}
	}
	var hdr map[int64]cbor.RawMessage
	if err := decMode.Unmarshal(e.Protected, &hdr); err != nil {
		return nil, &DecodeError{Kind: DecodeMalformed, cause: fmt.Errorf("protected header: %w", err)}
	}
	return hdr, nil
}
