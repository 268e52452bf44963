// Package certs loads trust-anchor certificates and attestation documents
// from disk for callers of the verifier. The verifier core never touches the
// filesystem; these helpers exist for tooling around it.
package certs

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// maxDocumentSize caps how much of a document file is accepted. Real
// attestation documents are well under 64 KiB; anything larger is not one.
const maxDocumentSize = 1 << 20

// ParseAnchor parses a trust-anchor certificate from DER or PEM bytes.
func ParseAnchor(data []byte) (*x509.Certificate, error) {
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
		}
		data = block.Bytes
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse anchor certificate: %w", err)
	}
	return cert, nil
}

// LoadAnchor reads a trust-anchor certificate from a DER or PEM file.
func LoadAnchor(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read anchor file: %w", err)
	}
	return ParseAnchor(data)
}

// ReadDocument reads an attestation document file, rejecting files too large
// to be one.
func ReadDocument(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat document file: %w", err)
	}
	if info.Size() > maxDocumentSize {
		return nil, fmt.Errorf("document file is %d bytes, larger than any attestation document", info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document file: %w", err)
	}
	return data, nil
}
