package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leslieo2/go-template-reload/internal/config"
	"github.com/leslieo2/go-template-reload/internal/observability"
)

// testServer holds information about a running test server.
type testServer struct {
	app     *Server
	baseURL string
	root    string
}

// writeTemplates creates files below root, making parent directories as needed.
func writeTemplates(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("Failed to create template dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write template %s: %v", name, err)
		}
	}
}

// testConfig returns a default configuration serving files from a fresh
// temporary template root.
func testConfig(t *testing.T, files map[string]string) *config.Config {
	t.Helper()
	root := t.TempDir()
	writeTemplates(t, root, files)

	cfg := config.DefaultConfig()
	cfg.Templates.Root = root
	cfg.Observability.Logging.Level = "error"
	return cfg
}

// newTestServer builds a server that is neither listening nor watching.
func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := NewWithLogger(cfg, observability.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() { _ = s.stopLiveReload(context.Background()) })
	return s
}

// startTestServer starts a new server (HTTP or HTTPS) with the watcher
// running. It listens on a dynamic port and returns a testServer instance
// and a cleanup function.
func startTestServer(t *testing.T, cfg *config.Config) (*testServer, func()) {
	t.Helper()

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			tmpDir := t.TempDir()
			certFile, keyFile, err := generateTestCertificates(tmpDir)
			if err != nil {
				t.Fatalf("Failed to generate test certificates: %v", err)
			}
			cfg.TLS.CertFile = certFile
			cfg.TLS.KeyFile = keyFile
		}
	}

	// Use a dynamic port
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Failed to listen on a dynamic port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	cfg.Server.Port = fmt.Sprintf("%d", port)

	appServer := newTestServer(t, cfg)
	if err := appServer.manager.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}

	protocol := "http"
	if cfg.TLS.Enabled {
		protocol = "https"
	}
	baseURL := fmt.Sprintf("%s://localhost:%d", protocol, port)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- appServer.Serve(ctx, listener)
	}()

	// Wait for server to be ready
	waitForServerReady(t, baseURL, cfg.TLS.Enabled)

	ts := &testServer{
		app:     appServer,
		baseURL: baseURL,
		root:    cfg.Templates.Root,
	}

	cleanup := func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Test server returned an error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("Test server did not shut down")
		}
	}

	return ts, cleanup
}

func waitForServerReady(t *testing.T, baseURL string, tlsEnabled bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)

	client := &http.Client{Timeout: 1 * time.Second}
	if tlsEnabled {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	healthURL := baseURL + "/health"

	for time.Now().Before(deadline) {
		resp, err := client.Get(healthURL)
		if err == nil {
			_ = resp.Body.Close()
			// Any response from the server means it's up.
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server at %s failed to start within timeout", baseURL)
}

func generateTestCertificates(tmpDir string) (string, string, error) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privKey.PublicKey, privKey)
	if err != nil {
		return "", "", err
	}

	certFile := filepath.Join(tmpDir, "test-cert.pem")
	certOut, _ := os.Create(certFile)
	defer certOut.Close()
	if err = pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: certDER}); err != nil {
		return "", "", err
	}

	keyFile := filepath.Join(tmpDir, "test-key.pem")
	keyOut, _ := os.Create(keyFile)
	defer keyOut.Close()

	privKeyBytes, err := x509.MarshalPKCS8PrivateKey(privKey)
	if err != nil {
		return "", "", err
	}
	if err = pem.Encode(keyOut, &pem.Block{Type: "PRIVATE KEY", Bytes: privKeyBytes}); err != nil {
		return "", "", err
	}

	return certFile, keyFile, nil
}
