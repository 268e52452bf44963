// Package attest verifies AWS Nitro Enclave attestation documents.
//
// An attestation document is a COSE_Sign1 envelope around a CBOR payload
// carrying the enclave's identity, its PCR measurements and the certificate
// chain for the signing key. Authenticate proves, against a caller-supplied
// trust anchor, that the envelope signature is valid, that the signing
// certificate chains to the anchor at the claimed time, and optionally that
// the measurements match caller expectations. Every input is untrusted bytes;
// every failure is closed and classified.
//
// The package is pure: no I/O, no logging, no shared state. Calls are
// independent and safe from any number of goroutines.
package attest

import (
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"time"
)

// nitroEpoch is the earliest plausible document timestamp; the Nitro Enclaves
// service did not exist before 2020. Used as a sanity floor, matching the
// clock-skew ceiling of one day in the other direction.
var nitroEpoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

const maxClockSkew = 24 * time.Hour

// AuthenticateOptions carries the caller's verification policy.
type AuthenticateOptions struct {
	// ExpectedPCRs pins measurement values by register index. Only the
	// indices present are checked. Nil or empty skips measurement pinning.
	ExpectedPCRs map[int][]byte

	// CurrentTime is the instant certificate validity is evaluated at.
	// The zero value means the current wall-clock time. Supplying a fixed
	// instant makes verification deterministic, e.g. for recorded documents.
	CurrentTime time.Time
}

// VerificationWitness records what a successful verification proved.
type VerificationWitness struct {
	// ChainLength is the number of certificates in the validated path,
	// trust anchor included.
	ChainLength int
	// VerifiedAt is the instant the chain was validated at.
	VerifiedAt time.Time
}

// VerifiedDocument is a fully verified attestation document. It is produced
// only when every verification stage succeeded, and is the type through which
// callers should observe payload contents; holding an AttestationDocument
// obtained any other way means holding unverified claims.
type VerifiedDocument struct {
	Document AttestationDocument
	Witness  VerificationWitness
}

// Authenticate verifies an attestation document end to end: envelope decode,
// payload decode, certificate chain validation against the supplied anchor,
// envelope signature verification with the leaf key, and, when expectations
// are supplied, PCR policy checks. The anchor is the caller's trust decision;
// none is embedded. Any failure returns a *AttestationError wrapping the
// failing component's error, and no partial result.
func Authenticate(document []byte, anchor *x509.Certificate, opts AuthenticateOptions) (*VerifiedDocument, error) {
	if anchor == nil {
		return nil, ErrNilAnchor
	}
	now := opts.CurrentTime
	if now.IsZero() {
		now = time.Now().UTC()
	}

	env, err := DecodeEnvelope(document)
	if err != nil {
		return nil, stageErr(StageEnvelope, err)
	}

	doc, err := DecodePayload(env.Payload)
	if err != nil {
		return nil, stageErr(StagePayload, err)
	}
	ts := time.UnixMilli(int64(doc.Timestamp)).UTC()
	if ts.Before(nitroEpoch) || ts.After(now.Add(maxClockSkew)) {
		return nil, stageErr(StagePayload, &DecodeError{
			Kind:  DecodeTypeMismatch,
			Field: "timestamp",
			cause: fmt.Errorf("%s outside plausible range", ts.Format(time.RFC3339)),
		})
	}

	leaf, err := x509.ParseCertificate(doc.Certificate)
	if err != nil {
		return nil, stageErr(StagePayload, &DecodeError{Kind: DecodeTypeMismatch, Field: "certificate", cause: err})
	}
	bundle := make([]*x509.Certificate, len(doc.CABundle))
	for i, der := range doc.CABundle {
		if bundle[i], err = x509.ParseCertificate(der); err != nil {
			return nil, stageErr(StagePayload, &DecodeError{
				Kind:  DecodeTypeMismatch,
				Field: fmt.Sprintf("cabundle[%d]", i),
				cause: err,
			})
		}
	}

	// Chain first: it is cheaper to fail on than signature verification, so
	// malformed or expired documents cost no ECDSA work.
	witness, err := ValidateChain(leaf, bundle, anchor, now)
	if err != nil {
		return nil, stageErr(StageChain, err)
	}

	signerKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, stageErr(StageSignature, &SignatureError{Kind: SignatureUnsupportedAlgorithm})
	}
	if err := VerifySignature(env, signerKey); err != nil {
		return nil, stageErr(StageSignature, err)
	}

	if len(opts.ExpectedPCRs) > 0 {
		if err := CheckPCRs(doc.PCRs, opts.ExpectedPCRs); err != nil {
			return nil, stageErr(StagePolicy, err)
		}
	}

	return &VerifiedDocument{
		Document: *doc,
		Witness: VerificationWitness{
			ChainLength: witness.Length,
			VerifiedAt:  witness.ValidatedAt,
		},
	}, nil
}
