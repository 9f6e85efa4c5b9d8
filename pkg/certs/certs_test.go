package certs

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureProjectCert_GeneratesValidCertificate(t *testing.T) {
	root := t.TempDir()
	paths, err := EnsureProjectCert(root, "demo")
	require.NoError(t, err)

	crtPEM, err := os.ReadFile(paths.CrtPath)
	require.NoError(t, err)
	block, _ := pem.Decode(crtPEM)
	require.NotNil(t, block)

	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "demo.pgbranch.local", cert.Subject.CommonName)
	assert.Contains(t, cert.DNSNames, "demo")
}

func TestEnsureProjectCert_IsIdempotent(t *testing.T) {
	root := t.TempDir()
	first, err := EnsureProjectCert(root, "demo")
	require.NoError(t, err)
	firstBytes, err := os.ReadFile(first.CrtPath)
	require.NoError(t, err)

	second, err := EnsureProjectCert(root, "demo")
	require.NoError(t, err)
	secondBytes, err := os.ReadFile(second.CrtPath)
	require.NoError(t, err)

	assert.Equal(t, firstBytes, secondBytes)
}

func TestDeleteProjectCert_RemovesDirectory(t *testing.T) {
	root := t.TempDir()
	paths, err := EnsureProjectCert(root, "demo")
	require.NoError(t, err)

	require.NoError(t, DeleteProjectCert(root, "demo"))
	_, err = os.Stat(paths.Dir)
	assert.True(t, os.IsNotExist(err))
}
