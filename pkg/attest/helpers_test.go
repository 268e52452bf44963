package attest_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/eyakubovich/aws-nitro-enclaves-attestation/pkg/attest"
)

// testBase is the fixed instant all synthetic chains and documents are built
// around, so tests never depend on the wall clock.
var testBase = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

var serialCounter atomic.Int64

type testCert struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	der  []byte
}

type certSpec struct {
	cn         string
	ca         bool
	notBefore  time.Time
	notAfter   time.Time
	maxPathLen int // -1 means no pathLenConstraint
}

// defaultSpec returns a spec valid for an hour either side of testBase.
func defaultSpec(cn string, ca bool) certSpec {
	return certSpec{
		cn:         cn,
		ca:         ca,
		notBefore:  testBase.Add(-time.Hour),
		notAfter:   testBase.Add(time.Hour),
		maxPathLen: -1,
	}
}

// issueCert creates a P-384 certificate per spec, self-signed when parent is nil.
func issueCert(t *testing.T, spec certSpec, parent *testCert) *testCert {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:       big.NewInt(serialCounter.Add(1)),
		Subject:            pkix.Name{CommonName: spec.cn},
		NotBefore:          spec.notBefore,
		NotAfter:           spec.notAfter,
		SignatureAlgorithm: x509.ECDSAWithSHA384,
	}
	if spec.ca {
		tmpl.BasicConstraintsValid = true
		tmpl.IsCA = true
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
		if spec.maxPathLen >= 0 {
			tmpl.MaxPathLen = spec.maxPathLen
			tmpl.MaxPathLenZero = spec.maxPathLen == 0
		}
	} else {
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature
	}

	parentCert := tmpl
	signerKey := key
	if parent != nil {
		parentCert = parent.cert
		signerKey = parent.key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parentCert, &key.PublicKey, signerKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &testCert{cert: cert, key: key, der: der}
}

// newChain builds root → intermediate → leaf, all valid around testBase.
func newChain(t *testing.T) (root, intermediate, leaf *testCert) {
	t.Helper()
	root = issueCert(t, defaultSpec("test root", true), nil)
	intermediate = issueCert(t, defaultSpec("test intermediate", true), root)
	leaf = issueCert(t, defaultSpec("test leaf", false), intermediate)
	return root, intermediate, leaf
}

func sha384Of(s string) []byte {
	sum := sha512.Sum384([]byte(s))
	return sum[:]
}

// newTestDocument builds a document around testBase with PCRs 0..2.
func newTestDocument(leafDER []byte, bundle ...[]byte) *attest.AttestationDocument {
	return &attest.AttestationDocument{
		ModuleID:  "i-0f3e1d2c4b5a69788-enc0123456789abcdef",
		Digest:    attest.DigestSHA384,
		Timestamp: uint64(testBase.UnixMilli()),
		PCRs: map[int][]byte{
			0: sha384Of("x"),
			1: sha384Of("y"),
			2: sha384Of("z"),
		},
		Certificate: leafDER,
		CABundle:    bundle,
	}
}

// signEnvelope assembles a COSE_Sign1 envelope over payload, signed with key
// under the given protected header bytes and hash.
func signEnvelope(t *testing.T, payload []byte, key *ecdsa.PrivateKey, protected []byte, hash func([]byte) []byte) []byte {
	t.Helper()
	sigStruct, err := cbor.Marshal([]any{"Signature1", protected, []byte{}, payload})
	require.NoError(t, err)
	digest := hash(sigStruct)

	r, s, err := ecdsa.Sign(rand.Reader, key, digest)
	require.NoError(t, err)
	n := (key.Curve.Params().BitSize + 7) / 8
	sig := make([]byte, 2*n)
	r.FillBytes(sig[:n])
	s.FillBytes(sig[n:])

	env, err := cbor.Marshal([]any{protected, map[int64]any{}, payload, sig})
	require.NoError(t, err)
	return env
}

func protectedHeader(t *testing.T, algID int64) []byte {
	t.Helper()
	protected, err := cbor.Marshal(map[int64]int64{1: algID})
	require.NoError(t, err)
	return protected
}

func sum384(data []byte) []byte {
	sum := sha512.Sum384(data)
	return sum[:]
}

func sum256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// signDocument encodes doc and wraps it in an ES384-signed envelope.
func signDocument(t *testing.T, doc *attest.AttestationDocument, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	payload, err := attest.EncodePayload(doc)
	require.NoError(t, err)
	return signEnvelope(t, payload, key, protectedHeader(t, attest.AlgES384), sum384)
}

// rawMarshal is cbor.Marshal with the error consumed, for building test inputs.
func rawMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := cbor.Marshal(v)
	require.NoError(t, err)
	return data
}
