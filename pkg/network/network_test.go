package network

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/beenet-project/storagenode/pkg/block"
	"github.com/beenet-project/storagenode/pkg/blockstore"
	"github.com/beenet-project/storagenode/pkg/cid"
	"github.com/beenet-project/storagenode/pkg/hash"
	"github.com/beenet-project/storagenode/pkg/identity"
	"github.com/beenet-project/storagenode/pkg/transport/tcp"
)

func generateTestTLSConfig() *tls.Config {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"storagenode test"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		DNSNames:     []string{"localhost"},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		}},
		NextProtos:         []string{"beenet/1"},
		InsecureSkipVerify: true,
	}
}

func TestClientFetchesBlockFromServer(t *testing.T) {
	serverID, err := identity.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	clientID, err := identity.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}

	store := blockstore.NewMemStore(0)
	data := []byte("network fetch payload")
	c, err := cid.FromBlock(cid.BlockCodec, hash.SHA256, data)
	if err != nil {
		t.Fatalf("FromBlock: %v", err)
	}
	ctx := context.Background()
	if err := store.Put(ctx, block.NewTrusted(c, data)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	tlsConfig := generateTestTLSConfig()
	tr := tcp.New()

	listener, err := tr.Listen(ctx, "127.0.0.1:0", tlsConfig)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer listener.Close()

	server := NewServer(store, NewProvideStore(), serverID, nil)
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go server.Serve(serveCtx, listener)

	provider := NewProvideStore()
	provider.RecordProvider(c.String(), PeerAddr{BID: serverID.BID(), Addr: listener.Addr().String(), NoiseKey: serverID.KeyAgreementPublicKey[:]}, time.Minute)

	client := NewClient(tr, tlsConfig, clientID, provider)
	got, err := client.FetchBlock(ctx, c)
	if err != nil {
		t.Fatalf("FetchBlock: %v", err)
	}
	if string(got.Bytes) != string(data) {
		t.Fatalf("fetched %q, want %q", got.Bytes, data)
	}
}

func TestClientFetchNoProvidersFails(t *testing.T) {
	clientID, err := identity.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	c, err := cid.FromBlock(cid.BlockCodec, hash.SHA256, []byte("x"))
	if err != nil {
		t.Fatalf("FromBlock: %v", err)
	}

	client := NewClient(tcp.New(), generateTestTLSConfig(), clientID, NewProvideStore())
	_, err = client.FetchBlock(context.Background(), c)
	if err == nil {
		t.Fatal("expected an error with no known providers")
	}
}

func TestClientPingsServer(t *testing.T) {
	serverID, err := identity.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	clientID, err := identity.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}

	tlsConfig := generateTestTLSConfig()
	tr := tcp.New()
	ctx := context.Background()

	listener, err := tr.Listen(ctx, "127.0.0.1:0", tlsConfig)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer listener.Close()

	server := NewServer(blockstore.NewMemStore(0), NewProvideStore(), serverID, nil)
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go server.Serve(serveCtx, listener)

	client := NewClient(tr, tlsConfig, clientID, NewProvideStore())
	if _, err := client.Ping(ctx, PeerAddr{BID: serverID.BID(), Addr: listener.Addr().String(), NoiseKey: serverID.KeyAgreementPublicKey[:]}); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestProvideStoreExpiry(t *testing.T) {
	s := NewProvideStore()
	s.RecordProvider("cid1", PeerAddr{BID: "b1", Addr: "a1"}, -time.Second)
	if peers := s.ProvidersFor("cid1"); len(peers) != 0 {
		t.Fatalf("expected expired provider to be filtered out, got %v", peers)
	}

	s.RecordProvider("cid2", PeerAddr{BID: "b2", Addr: "a2"}, time.Minute)
	peers := s.ProvidersFor("cid2")
	if len(peers) != 1 || peers[0].BID != "b2" {
		t.Fatalf("got %v, want one provider b2", peers)
	}
}
