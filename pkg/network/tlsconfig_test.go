package network

import (
	"testing"

	"github.com/beenet-project/storagenode/pkg/identity"
)

func TestSelfSignedTLSConfigUsesIdentityKey(t *testing.T) {
	id, err := identity.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}

	cfg, err := SelfSignedTLSConfig(id)
	if err != nil {
		t.Fatalf("SelfSignedTLSConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("got %d certificates, want 1", len(cfg.Certificates))
	}
	if cfg.Certificates[0].PrivateKey == nil {
		t.Fatal("expected a private key attached to the certificate")
	}
}
