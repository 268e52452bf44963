package attest

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// DigestAlgorithm is the hash function the NSM used for the PCR values.
type DigestAlgorithm string

// Digest algorithms the NSM can declare.
const (
	DigestSHA256 DigestAlgorithm = "SHA256"
	DigestSHA384 DigestAlgorithm = "SHA384"
	DigestSHA512 DigestAlgorithm = "SHA512"
)

// Size returns the digest length in bytes, or 0 for an unknown algorithm.
func (d DigestAlgorithm) Size() int {
	switch d {
	case DigestSHA256:
		return 32
	case DigestSHA384:
		return 48
	case DigestSHA512:
		return 64
	default:
		return 0
	}
}

// maxPCRIndex bounds the PCR map keys. The NSM exposes a small fixed bank of
// registers; anything beyond this is not a register index.
const maxPCRIndex = 63

// AttestationDocument is the decoded attestation payload.
type AttestationDocument struct {
	// ModuleID is the issuing NSM ID.
	ModuleID string

	// Digest is the hash function used for the PCR values.
	Digest DigestAlgorithm

	// Timestamp is the UTC document creation time in milliseconds since the Unix epoch.
	Timestamp uint64

	// PCRs maps register index to digest value. Every value is exactly
	// Digest.Size() bytes long.
	PCRs map[int][]byte

	// Certificate is the DER-encoded leaf certificate that signed the document.
	Certificate []byte

	// CABundle holds the DER-encoded intermediates, ordered leaf-adjacent to
	// root-adjacent. The order is authoritative for chain validation.
	CABundle [][]byte

	// PublicKey is an optional DER-encoded key supplied by the enclave.
	PublicKey []byte

	// UserData is optional signed application data.
	UserData []byte

	// Nonce is an optional caller-supplied freshness value.
	Nonce []byte
}

// DecodePayload decodes the envelope payload bytes into a typed document.
// Required fields missing or of the wrong kind fail with a DecodeError naming
// the field; duplicate map keys fail rather than collapse last-wins; every PCR
// value must match the declared digest length. Unknown fields are ignored, as
// the NSM may add claims over time.
func DecodePayload(raw []byte) (*AttestationDocument, error) {
	var fields map[string]cbor.RawMessage
	if err := decMode.Unmarshal(raw, &fields); err != nil {
		if key, ok := duplicateKey(err); ok {
			return nil, &DecodeError{Kind: DecodeDuplicateKey, Field: key, cause: err}
		}
		return nil, &DecodeError{Kind: DecodeMalformed, cause: err}
	}

	doc := &AttestationDocument{}
	if err := requiredField(fields, "module_id", &doc.ModuleID); err != nil {
		return nil, err
	}
	if doc.ModuleID == "" {
		return nil, &DecodeError{Kind: DecodeTypeMismatch, Field: "module_id", cause: errors.New("empty")}
	}

	var digest string
	if err := requiredField(fields, "digest", &digest); err != nil {
		return nil, err
	}
	doc.Digest = DigestAlgorithm(digest)
	if doc.Digest.Size() == 0 {
		return nil, &DecodeError{Kind: DecodeTypeMismatch, Field: "digest", cause: fmt.Errorf("unknown algorithm %q", digest)}
	}

	if err := requiredField(fields, "timestamp", &doc.Timestamp); err != nil {
		return nil, err
	}
	if doc.Timestamp == 0 {
		return nil, &DecodeError{Kind: DecodeTypeMismatch, Field: "timestamp", cause: errors.New("zero")}
	}

	pcrs, err := decodePCRs(fields, doc.Digest)
	if err != nil {
		return nil, err
	}
	doc.PCRs = pcrs

	if err := requiredField(fields, "certificate", &doc.Certificate); err != nil {
		return nil, err
	}
	if len(doc.Certificate) == 0 {
		return nil, &DecodeError{Kind: DecodeTypeMismatch, Field: "certificate", cause: errors.New("empty")}
	}

	// cabundle may be absent or empty when the leaf is issued directly by the anchor.
	if raw, ok := fields["cabundle"]; ok {
		if err := decMode.Unmarshal(raw, &doc.CABundle); err != nil {
			return nil, &DecodeError{Kind: DecodeTypeMismatch, Field: "cabundle", cause: err}
		}
		for i, der := range doc.CABundle {
			if len(der) == 0 {
				return nil, &DecodeError{Kind: DecodeTypeMismatch, Field: fmt.Sprintf("cabundle[%d]", i), cause: errors.New("empty")}
			}
		}
	}

	for _, opt := range []struct {
		name string
		dst  *[]byte
	}{
		{"public_key", &doc.PublicKey},
		{"user_data", &doc.UserData},
		{"nonce", &doc.Nonce},
	} {
		raw, ok := fields[opt.name]
		if !ok {
			continue
		}
		if err := decMode.Unmarshal(raw, opt.dst); err != nil {
			return nil, &DecodeError{Kind: DecodeTypeMismatch, Field: opt.name, cause: err}
		}
	}

	return doc, nil
}

func decodePCRs(fields map[string]cbor.RawMessage, digest DigestAlgorithm) (map[int][]byte, error) {
	raw, ok := fields["pcrs"]
	if !ok {
		return nil, &DecodeError{Kind: DecodeMissingField, Field: "pcrs"}
	}
	var indexed map[uint64][]byte
	if err := decMode.Unmarshal(raw, &indexed); err != nil {
		if key, ok := duplicateKey(err); ok {
			return nil, &DecodeError{Kind: DecodeDuplicateKey, Field: "pcrs[" + key + "]", cause: err}
		}
		return nil, &DecodeError{Kind: DecodeTypeMismatch, Field: "pcrs", cause: err}
	}
	pcrs := make(map[int][]byte, len(indexed))
	for idx, val := range indexed {
		if idx > maxPCRIndex {
			return nil, &DecodeError{Kind: DecodeTypeMismatch, Field: "pcrs", cause: fmt.Errorf("index %d out of range", idx)}
		}
		if len(val) != digest.Size() {
			return nil, &DecodeError{
				Kind:  DecodeTypeMismatch,
				Field: fmt.Sprintf("pcrs[%d]", idx),
				cause: fmt.Errorf("digest is %d bytes, %s requires %d", len(val), digest, digest.Size()),
			}
		}
		pcrs[int(idx)] = val
	}
	return pcrs, nil
}

// EncodePayload encodes a document back to its CBOR payload form. Verification
// never needs it; it exists for document construction in tests and tooling, and
// DecodePayload(EncodePayload(doc)) reproduces doc.
func EncodePayload(doc *AttestationDocument) ([]byte, error) {
	if doc.Digest.Size() == 0 {
		return nil, fmt.Errorf("attest: unknown digest algorithm %q", doc.Digest)
	}
	pcrs := make(map[uint64][]byte, len(doc.PCRs))
	for idx, val := range doc.PCRs {
		if idx < 0 || idx > maxPCRIndex {
			return nil, fmt.Errorf("attest: PCR index %d out of range", idx)
		}
		pcrs[uint64(idx)] = val
	}
	fields := map[string]any{
		"module_id":   doc.ModuleID,
		"digest":      string(doc.Digest),
		"timestamp":   doc.Timestamp,
		"pcrs":        pcrs,
		"certificate": doc.Certificate,
	}
	if doc.CABundle != nil {
		fields["cabundle"] = doc.CABundle
	}
	if doc.PublicKey != nil {
		fields["public_key"] = doc.PublicKey
	}
	if doc.UserData != nil {
		fields["user_data"] = doc.UserData
	}
	if doc.Nonce != nil {
		fields["nonce"] = doc.Nonce
	}
	return encMode.Marshal(fields)
}

func requiredField(fields map[string]cbor.RawMessage, name string, dst any) error {
	raw, ok := fields[name]
	if !ok {
		return &DecodeError{Kind: DecodeMissingField, Field: name}
	}
	if err := decMode.Unmarshal(raw, dst); err != nil {
		return &DecodeError{Kind: DecodeTypeMismatch, Field: name, cause: err}
	}
	return nil
}

func duplicateKey(err error) (string, bool) {
	var dup *cbor.DupMapKeyError
	if errors.As(err, &dup) {
		return fmt.Sprint(dup.Key), true
	}
	return "", false
}
