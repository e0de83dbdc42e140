package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/previewd/internal/config"
)

// Default file names inside a certificate directory.
const (
	caFileName   = "previewd_ca.crt"
	certFileName = "previewd.crt"
	keyFileName  = "previewd.key"
)

func parseVersion(ver string) (uint16, bool) {
	switch ver {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

func resolveVersions(scfg config.ServerConfig) (minVer, maxVer uint16) {
	minVer, maxVer = tls.VersionTLS13, tls.VersionTLS13
	if v, ok := parseVersion(scfg.TLSMinVersion); ok {
		minVer = v
	}
	if v, ok := parseVersion(scfg.TLSMaxVersion); ok {
		maxVer = v
	}
	return minVer, maxVer
}

// safeReadFile refuses to read outside the certificate directory.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if absFile != absBase && !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) {
			return nil, errors.New("certificate path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// certLoader re-reads the key pair on every handshake so rotated
// certificates are picked up without restarting the daemon.
func certLoader(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certPath)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certPath)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(baseDir, keyPath)
		if err != nil {
			return nil, err
		}
		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
		return &pair, nil
	}
}

// Setup builds the server-side tls.Config from the daemon configuration.
// It returns (nil, nil) when TLS is disabled. With auto_generate set and a
// certificate directory configured, a self-signed pair is written on first
// use.
func Setup(scfg config.ServerConfig) (*tls.Config, error) {
	if scfg.TLS == nil || !scfg.TLS.Enabled {
		return nil, nil
	}

	minVer, maxVer := resolveVersions(scfg)

	if scfg.TLS.CertFile != "" && scfg.TLS.KeyFile != "" {
		return newConfig(scfg.TLS.CertFile, scfg.TLS.KeyFile, minVer, maxVer), nil
	}

	if scfg.TLS.Dir != "" {
		certPath := filepath.Join(scfg.TLS.Dir, certFileName)
		keyPath := filepath.Join(scfg.TLS.Dir, keyFileName)
		if scfg.TLS.AutoGenerate && !pairExists(certPath, keyPath) {
			if err := generate(scfg.TLS, scfg.TLS.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return newConfig(certPath, keyPath, minVer, maxVer), nil
	}

	return nil, errors.New("tls enabled but neither cert/key files nor a certificate directory configured")
}

func newConfig(certPath, keyPath string, minVer, maxVer uint16) *tls.Config {
	// #nosec G402 minimum version follows the server configuration
	return &tls.Config{
		GetCertificate: certLoader(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}
}

func pairExists(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generate(tcfg *config.TLSConfig, destDir string) error {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("create certificate directory: %w", err)
	}

	gen := tcfg.AutoGen
	if gen == nil {
		gen = &config.AutoGenTLS{}
	}
	sc := SelfSignedConfig{
		CommonName:   gen.CommonName,
		Organization: gen.Organization,
		DNSNames:     gen.DNSNames,
		IPAddresses:  gen.IPAddresses,
		CertPath:     filepath.Join(destDir, certFileName),
		KeyPath:      filepath.Join(destDir, keyFileName),
		CACertPath:   filepath.Join(destDir, caFileName),
	}
	if sc.CommonName == "" {
		sc.CommonName = "localhost"
	}
	if sc.Organization == "" {
		sc.Organization = "previewd"
	}
	if len(sc.DNSNames) == 0 {
		sc.DNSNames = []string{"localhost"}
	}
	if len(sc.IPAddresses) == 0 {
		sc.IPAddresses = []string{"127.0.0.1"}
	}
	validDays := gen.ValidDays
	if validDays <= 0 {
		validDays = 365
	}
	sc.NotAfter = time.Now().AddDate(0, 0, validDays)

	return WriteSelfSigned(sc)
}
