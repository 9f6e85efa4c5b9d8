// Package certs generates the self-signed SSL certificate each project
// mounts into its containers at /etc/ssl/certs/postgresql. No higher-level
// cert-issuance library is worth pulling in for a throwaway leaf
// certificate, so this is built directly on crypto/x509 and crypto/rsa.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/pgbranch/pkg/ctlerr"
)

const (
	keyBits  = 2048
	validity = 10 * 365 * 24 * time.Hour

	postgresUID = 70
	postgresGID = 70
)

// Paths locates the certificate and key file within a project's cert
// directory.
type Paths struct {
	Dir     string
	CrtPath string
	KeyPath string
}

// CertPaths returns the certificate layout for projectName under root
// (typically <config root>/certs).
func CertPaths(root, projectName string) Paths {
	dir := filepath.Join(root, projectName)
	return Paths{Dir: dir, CrtPath: filepath.Join(dir, "server.crt"), KeyPath: filepath.Join(dir, "server.key")}
}

// EnsureProjectCert generates a self-signed certificate for projectName if
// one does not already exist, returning its directory. The key file is
// chowned to the PostgreSQL container user so the server process can read
// it without running as root.
func EnsureProjectCert(root, projectName string) (Paths, error) {
	paths := CertPaths(root, projectName)
	if _, err := os.Stat(paths.CrtPath); err == nil {
		if _, err := os.Stat(paths.KeyPath); err == nil {
			return paths, nil
		}
	}

	if err := os.MkdirAll(paths.Dir, 0750); err != nil {
		return Paths{}, ctlerr.System(err, "failed to create cert directory %s", paths.Dir)
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return Paths{}, ctlerr.System(err, "failed to generate private key for project %s", projectName)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return Paths{}, ctlerr.System(err, "failed to generate certificate serial number")
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: projectName + ".pgbranch.local", Organization: []string{"pgbranch"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost", projectName},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return Paths{}, ctlerr.System(err, "failed to create certificate for project %s", projectName)
	}

	if err := writePEM(paths.CrtPath, "CERTIFICATE", der, 0644); err != nil {
		return Paths{}, err
	}
	if err := writePEM(paths.KeyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0600); err != nil {
		return Paths{}, err
	}
	_ = chownIfPossible(paths.KeyPath, postgresUID, postgresGID)
	_ = chownIfPossible(paths.CrtPath, postgresUID, postgresGID)

	return paths, nil
}

// DeleteProjectCert removes a project's entire cert directory.
func DeleteProjectCert(root, projectName string) error {
	dir := CertPaths(root, projectName).Dir
	if err := os.RemoveAll(dir); err != nil {
		return ctlerr.System(err, "failed to delete cert directory %s", dir)
	}
	return nil
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return ctlerr.System(err, "failed to open %s", path)
	}
	defer f.Close()
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		return ctlerr.System(err, "failed to write %s", path)
	}
	return nil
}
