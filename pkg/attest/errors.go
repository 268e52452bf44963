package attest

import (
	"errors"
	"fmt"
)

// DecodeKind classifies structural problems found in untrusted document bytes.
type DecodeKind int

const (
	// DecodeMalformed is returned for input that is not well-formed CBOR or
	// does not have the fixed envelope/payload shape.
	DecodeMalformed DecodeKind = iota
	// DecodeMissingField is returned when a required payload field is absent.
	DecodeMissingField
	// DecodeTypeMismatch is returned when a field is present with the wrong kind or an invalid value.
	DecodeTypeMismatch
	// DecodeDuplicateKey is returned when a map encodes the same key twice.
	// Duplicate keys are never collapsed last-wins; they fail the decode.
	DecodeDuplicateKey
)

func (k DecodeKind) String() string {
	switch k {
	case DecodeMalformed:
		return "malformed"
	case DecodeMissingField:
		return "missing field"
	case DecodeTypeMismatch:
		return "type mismatch"
	case DecodeDuplicateKey:
		return "duplicate key"
	default:
		return fmt.Sprintf("decode kind %d", int(k))
	}
}

// DecodeError describes a structural problem in the envelope or payload bytes.
type DecodeError struct {
	Kind DecodeKind
	// Field names the offending payload field for field-scoped kinds, empty otherwise.
	Field string
	cause error
}

func (e *DecodeError) Error() string {
	msg := "decode: " + e.Kind.String()
	if e.Field != "" {
		msg += fmt.Sprintf(" %q", e.Field)
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.cause }

// ChainStep identifies which check failed during certificate path validation.
type ChainStep int

const (
	// ChainSignatureMismatch means the issuer's public key did not verify the child's signature.
	ChainSignatureMismatch ChainStep = iota
	// ChainExpired means the verification time is past the certificate's notAfter.
	ChainExpired
	// ChainNotYetValid means the verification time is before the certificate's notBefore.
	ChainNotYetValid
	// ChainMissingCABit means a non-leaf certificate lacks the CA basic constraint.
	ChainMissingCABit
	// ChainPathLengthExceeded means a CA's path length constraint is smaller than the path below it.
	ChainPathLengthExceeded
	// ChainAnchorMismatch means the chain does not terminate at the supplied trust anchor.
	ChainAnchorMismatch
)

func (s ChainStep) String() string {
	switch s {
	case ChainSignatureMismatch:
		return "signature mismatch"
	case ChainExpired:
		return "expired"
	case ChainNotYetValid:
		return "not yet valid"
	case ChainMissingCABit:
		return "missing CA basic constraint"
	case ChainPathLengthExceeded:
		return "path length exceeded"
	case ChainAnchorMismatch:
		return "anchor mismatch"
	default:
		return fmt.Sprintf("chain step %d", int(s))
	}
}

// ChainError describes a failed certificate path validation. Position is the
// 1-based index of the failing certificate in leaf-to-anchor order (leaf is 1).
type ChainError struct {
	Step     ChainStep
	Position int
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("chain: certificate %d: %s", e.Position, e.Step)
}

// SignatureKind classifies envelope signature failures.
type SignatureKind int

const (
	// SignatureUnsupportedAlgorithm means the protected header declares an
	// algorithm outside the pinned set, or one inconsistent with the signer key.
	SignatureUnsupportedAlgorithm SignatureKind = iota
	// SignatureInvalid means the signature does not verify over the signed byte sequence.
	SignatureInvalid
)

// SignatureError describes a failed COSE_Sign1 signature verification.
type SignatureError struct {
	Kind SignatureKind
	// Algorithm is the declared COSE algorithm identifier when one was readable.
	Algorithm int64
}

func (e *SignatureError) Error() string {
	switch e.Kind {
	case SignatureUnsupportedAlgorithm:
		return fmt.Sprintf("signature: unsupported algorithm %d", e.Algorithm)
	case SignatureInvalid:
		return "signature: verification failed"
	default:
		return fmt.Sprintf("signature: kind %d", int(e.Kind))
	}
}

// PolicyKind classifies measurement policy failures.
type PolicyKind int

const (
	// PolicyMismatch means an expected PCR is present with a different value.
	PolicyMismatch PolicyKind = iota
	// PolicyMissing means an expected PCR index is absent from the document.
	PolicyMissing
)

// PolicyError describes a PCR expectation that the document did not satisfy.
type PolicyError struct {
	Kind  PolicyKind
	Index int
}

func (e *PolicyError) Error() string {
	switch e.Kind {
	case PolicyMismatch:
		return fmt.Sprintf("policy: PCR%d value mismatch", e.Index)
	case PolicyMissing:
		return fmt.Sprintf("policy: PCR%d missing from document", e.Index)
	default:
		return fmt.Sprintf("policy: kind %d for PCR%d", int(e.Kind), e.Index)
	}
}

// Stage identifies which verification stage produced an error.
type Stage int

const (
	// StageEnvelope covers COSE_Sign1 envelope decoding.
	StageEnvelope Stage = iota
	// StagePayload covers attestation payload decoding and certificate parsing.
	StagePayload
	// StageChain covers certificate path validation.
	StageChain
	// StageSignature covers envelope signature verification.
	StageSignature
	// StagePolicy covers PCR expectation checks.
	StagePolicy
)

func (s Stage) String() string {
	switch s {
	case StageEnvelope:
		return "envelope"
	case StagePayload:
		return "payload"
	case StageChain:
		return "chain"
	case StageSignature:
		return "signature"
	case StagePolicy:
		return "policy"
	default:
		return fmt.Sprintf("stage %d", int(s))
	}
}

// AttestationError wraps exactly one component error together with the stage
// that produced it. It is the only error type returned by Authenticate.
type AttestationError struct {
	Stage Stage
	Err   error
}

func (e *AttestationError) Error() string {
	return fmt.Sprintf("attestation %s stage: %v", e.Stage, e.Err)
}

func (e *AttestationError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	return &AttestationError{Stage: stage, Err: err}
}

// ErrNilAnchor is returned by Authenticate when no trust anchor is supplied.
// The verifier never embeds or fetches roots; trust policy lives with the caller.
var ErrNilAnchor = errors.New("attest: trust anchor is required")
