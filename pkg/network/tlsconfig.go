package network

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	"github.com/beenet-project/storagenode/pkg/errs"
	"github.com/beenet-project/storagenode/pkg/identity"
)

// selfSignedCertLifetime matches the identity's own long-lived key rather
// than rotating independently; the cert is regenerated at every process
// start anyway, since it is derived from in-memory key material.
const selfSignedCertLifetime = 10 * 365 * 24 * time.Hour

// SelfSignedTLSConfig builds a TLS config authenticated by id's Ed25519
// signing key, so a node's QUIC/TCP listener identity matches the key it
// signs wire.BaseFrame envelopes with. InsecureSkipVerify is set because
// there is no certificate authority in this network; traffic is protected by
// the mandatory Noise-IK handshake (see the Noise-IK note in DESIGN.md).
// Frames are signed, but Server and Client do not verify the signatures of
// the frames they receive.
func SelfSignedTLSConfig(id *identity.Identity) (*tls.Config, error) {
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: id.BID()},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(selfSignedCertLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, id.SigningPublicKey, id.SigningPrivateKey)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "network: create self-signed certificate", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  id.SigningPrivateKey,
		}},
		InsecureSkipVerify: true,
	}, nil
}
