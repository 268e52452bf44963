package attest

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// certSummary is the JSON rendering of one certificate in the chain.
type certSummary struct {
	Subject   string `json:"subject"`
	Issuer    string `json:"issuer"`
	NotBefore string `json:"not_before"`
	NotAfter  string `json:"not_after"`
}

type verifiedDocumentJSON struct {
	ModuleID    string            `json:"module_id"`
	Digest      string            `json:"digest"`
	Timestamp   string            `json:"timestamp"`
	PCRs        map[string]string `json:"pcrs"`
	Certs       []certSummary     `json:"certs"`
	PublicKey   *string           `json:"public_key,omitempty"`
	UserData    *string           `json:"user_data,omitempty"`
	Nonce       *string           `json:"nonce,omitempty"`
	ChainLength int               `json:"chain_length"`
	VerifiedAt  string            `json:"verified_at"`
}

// MarshalJSON renders the verified document for human and tool consumption:
// PCRs as hex keyed by register number, certificates as identity and validity
// summaries in bundle-then-leaf order, optional fields as base64.
func (d *VerifiedDocument) MarshalJSON() ([]byte, error) {
	doc := &d.Document

	pcrs := make(map[string]string, len(doc.PCRs))
	for idx, val := range doc.PCRs {
		pcrs[strconv.Itoa(idx)] = hex.EncodeToString(val)
	}

	certs := make([]certSummary, 0, len(doc.CABundle)+1)
	for i, der := range doc.CABundle {
		summary, err := summarizeCert(der)
		if err != nil {
			return nil, fmt.Errorf("attest: summarizing cabundle[%d]: %w", i, err)
		}
		certs = append(certs, summary)
	}
	summary, err := summarizeCert(doc.Certificate)
	if err != nil {
		return nil, fmt.Errorf("attest: summarizing leaf certificate: %w", err)
	}
	certs = append(certs, summary)

	return json.Marshal(verifiedDocumentJSON{
		ModuleID:    doc.ModuleID,
		Digest:      string(doc.Digest),
		Timestamp:   time.UnixMilli(int64(doc.Timestamp)).UTC().Format(time.RFC3339Nano),
		PCRs:        pcrs,
		Certs:       certs,
		PublicKey:   base64Opt(doc.PublicKey),
		UserData:    base64Opt(doc.UserData),
		Nonce:       base64Opt(doc.Nonce),
		ChainLength: d.Witness.ChainLength,
		VerifiedAt:  d.Witness.VerifiedAt.Format(time.RFC3339Nano),
	})
}

func summarizeCert(der []byte) (certSummary, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return certSummary{}, err
	}
	return certSummary{
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		NotBefore: cert.NotBefore.Format(time.RFC3339),
		NotAfter:  cert.NotAfter.Format(time.RFC3339),
	}, nil
}

func base64Opt(data []byte) *string {
	if data == nil {
		return nil
	}
	s := base64.StdEncoding.EncodeToString(data)
	return &s
}
