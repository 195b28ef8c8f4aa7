package pubsub

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bishopdynamics/NetbootStudioV2/pkg/logger"
)

// selfSignedCert writes a throwaway cert/key pair to dir for the broker's
// TLS material, and returns their paths.
func selfSignedCert(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "broker.crt")
	keyPath = filepath.Join(dir, "broker.key")

	certOut, err := os.Create(certPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, certOut.Close())

	keyBytes, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyOut, err := os.Create(keyPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}))
	require.NoError(t, keyOut.Close())

	return certPath, keyPath
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestClientPublishSubscribeAndSelfEchoSuppression(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := selfSignedCert(t, dir)
	addr := freeAddr(t)
	log := logger.NewDefault("test")

	broker := NewBroker(BrokerConfig{
		Addr:     addr,
		Username: "admin",
		Password: "secret",
		CertFile: certPath,
		KeyFile:  keyPath,
	}, log)
	require.NoError(t, broker.Start(context.Background()))
	defer broker.Stop(context.Background())

	time.Sleep(100 * time.Millisecond)

	clientCfg := ClientConfig{Addr: addr, Username: "admin", Password: "secret", InsecureSkipVerify: true}

	sender, err := NewClient("sender", clientCfg, log)
	require.NoError(t, err)
	defer sender.Close()

	receiver, err := NewClient("receiver", clientCfg, log)
	require.NoError(t, err)
	defer receiver.Close()

	received := make(chan Envelope, 1)
	require.NoError(t, receiver.Subscribe(TopicClientManager, func(ctx context.Context, env Envelope) {
		received <- env
	}))

	// sender also subscribes to the same topic, to verify it never sees its
	// own publish (self-echo suppression, §4.1).
	selfEcho := make(chan Envelope, 1)
	require.NoError(t, sender.Subscribe(TopicClientManager, func(ctx context.Context, env Envelope) {
		selfEcho <- env
	}))

	time.Sleep(200 * time.Millisecond) // allow subscribe frames to land

	require.NoError(t, sender.Publish(context.Background(), TopicClientManager, map[string]string{"mac": "aa:bb:cc:11:22:33"}))

	select {
	case env := <-received:
		require.Equal(t, "sender", env.Sender)
		require.Equal(t, TopicClientManager, env.Topic)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	select {
	case <-selfEcho:
		t.Fatal("sender should not receive its own publish")
	case <-time.After(300 * time.Millisecond):
	}
}
