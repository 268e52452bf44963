package attest

import (
	"bytes"
	"crypto/x509"
	"time"
)

// ChainWitness records what a successful path validation proved.
type ChainWitness struct {
	// Length is the number of certificates in the validated path, anchor included.
	Length int
	// ValidatedAt is the instant every validity window was checked against.
	ValidatedAt time.Time
}

// chainNode is one certificate during the walk. Nodes exist only for the
// duration of validation and are addressed by position, never by back-reference.
type chainNode struct {
	pos  int // 1-based, leaf first
	cert *x509.Certificate
}

// ValidateChain validates the path leaf → bundle[0] → … → bundle[n-1] → anchor
// at the given instant. The bundle order is authoritative: no searching or
// reordering is attempted, so an out-of-order bundle is rejected rather than
// silently repaired. The anchor is always caller-supplied; nothing is fetched
// or embedded. Failures carry the failing step and the 1-based position of the
// offending certificate (leaf is 1).
func ValidateChain(leaf *x509.Certificate, bundle []*x509.Certificate, anchor *x509.Certificate, at time.Time) (*ChainWitness, error) {
	nodes := make([]chainNode, 0, len(bundle)+2)
	nodes = append(nodes, chainNode{pos: 1, cert: leaf})
	for i, cert := range bundle {
		nodes = append(nodes, chainNode{pos: i + 2, cert: cert})
	}
	nodes = append(nodes, chainNode{pos: len(bundle) + 2, cert: anchor})

	for i, node := range nodes {
		cert := node.cert
		if at.Before(cert.NotBefore) {
			return nil, &ChainError{Step: ChainNotYetValid, Position: node.pos}
		}
		if at.After(cert.NotAfter) {
			return nil, &ChainError{Step: ChainExpired, Position: node.pos}
		}
		if i == 0 {
			continue
		}
		// Every issuer must be a CA; the anchor included, since an anchor
		// that cannot issue certificates cannot have issued this chain.
		if !cert.BasicConstraintsValid || !cert.IsCA {
			return nil, &ChainError{Step: ChainMissingCABit, Position: node.pos}
		}
		// i-1 is the number of intermediate certificates between this CA and
		// the leaf, which is what a pathLenConstraint limits.
		if pathLen, ok := maxPathLen(cert); ok && i-1 > pathLen {
			return nil, &ChainError{Step: ChainPathLengthExceeded, Position: node.pos}
		}
	}

	anchorNode := nodes[len(nodes)-1]
	last := nodes[len(nodes)-2]
	if !bytes.Equal(last.cert.RawIssuer, anchor.RawSubject) {
		return nil, &ChainError{Step: ChainAnchorMismatch, Position: anchorNode.pos}
	}

	for i := 0; i < len(nodes)-1; i++ {
		child, issuer := nodes[i], nodes[i+1]
		err := issuer.cert.CheckSignature(child.cert.SignatureAlgorithm, child.cert.RawTBSCertificate, child.cert.Signature)
		if err != nil {
			return nil, &ChainError{Step: ChainSignatureMismatch, Position: child.pos}
		}
	}

	return &ChainWitness{Length: len(nodes), ValidatedAt: at}, nil
}

// maxPathLen reports a certificate's pathLenConstraint, if it carries one.
// crypto/x509 encodes "absent" as MaxPathLen == 0 with MaxPathLenZero unset.
func maxPathLen(cert *x509.Certificate) (int, bool) {
	if cert.MaxPathLen > 0 || (cert.MaxPathLen == 0 && cert.MaxPathLenZero) {
		return cert.MaxPathLen, true
	}
	return 0, false
}
