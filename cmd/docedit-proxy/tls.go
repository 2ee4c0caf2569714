package main

import (
	"os"
	"path/filepath"

	"github.com/wordassist/docedit-proxy/internal/config"
)

// devCertDir is where the Office add-in tooling installs its localhost
// certificates.
const devCertDir = ".office-addin-dev-certs"

// resolveTLS returns the certificate and key to serve with. Explicit files
// win; otherwise the add-in dev certificates under home are used when both
// exist. ok is false when the server should fall back to plain HTTP.
func resolveTLS(cfg config.TLSConfig, home string) (certFile, keyFile string, ok bool) {
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		return cfg.CertFile, cfg.KeyFile, true
	}
	if !cfg.UseDevCerts || home == "" {
		return "", "", false
	}
	certFile = filepath.Join(home, devCertDir, "localhost.crt")
	keyFile = filepath.Join(home, devCertDir, "localhost.key")
	if !fileExists(certFile) || !fileExists(keyFile) {
		return "", "", false
	}
	return certFile, keyFile, true
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
