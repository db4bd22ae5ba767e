// SPDX-License-Identifier: Apache-2.0

package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Config holds the TLS settings of a client connection to a broker or store.
// Certificates are given either as a file path or as inline PEM content, the
// file taking precedence.
type Config struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// CA used to verify the server. The system pool is used when neither is
	// set.
	CaCertFile string `mapstructure:"ca_cert_file" yaml:"ca_cert_file"`
	CaCertPEM  string `mapstructure:"ca_cert_pem" yaml:"ca_cert_pem"`
	// Client certificate and key, for servers requiring mutual TLS.
	ClientCertFile string `mapstructure:"client_cert_file" yaml:"client_cert_file"`
	ClientCertPEM  string `mapstructure:"client_cert_pem" yaml:"client_cert_pem"`
	ClientKeyFile  string `mapstructure:"client_key_file" yaml:"client_key_file"`
	ClientKeyPEM   string `mapstructure:"client_key_pem" yaml:"client_key_pem"`
	// ServerName overrides the host name checked against the server
	// certificate.
	ServerName string `mapstructure:"server_name" yaml:"server_name"`
}

var (
	errInvalidCACert     = errors.New("no valid certificate found in CA PEM")
	errIncompleteKeyPair = errors.New("client certificate and key must be provided together")
)

// NewConfig returns nil when TLS is disabled.
func NewConfig(cfg *Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	rootCAs, err := cfg.rootCAs()
	if err != nil {
		return nil, err
	}
	certificates, err := cfg.clientCertificates()
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: certificates,
		RootCAs:      rootCAs,
		ServerName:   cfg.ServerName,
	}, nil
}

func (c *Config) rootCAs() (*x509.CertPool, error) {
	pem, err := readPEM(c.CaCertFile, c.CaCertPEM)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate: %w", err)
	}
	if len(pem) == 0 {
		return x509.SystemCertPool()
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errInvalidCACert
	}
	return pool, nil
}

func (c *Config) clientCertificates() ([]tls.Certificate, error) {
	hasCert := c.ClientCertFile != "" || c.ClientCertPEM != ""
	hasKey := c.ClientKeyFile != "" || c.ClientKeyPEM != ""
	switch {
	case !hasCert && !hasKey:
		return []tls.Certificate{}, nil
	case hasCert != hasKey:
		return nil, errIncompleteKeyPair
	}

	certPEM, err := readPEM(c.ClientCertFile, c.ClientCertPEM)
	if err != nil {
		return nil, fmt.Errorf("reading client certificate: %w", err)
	}
	keyPEM, err := readPEM(c.ClientKeyFile, c.ClientKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("reading client key: %w", err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("loading client key pair: %w", err)
	}
	return []tls.Certificate{cert}, nil
}

func readPEM(file, inline string) ([]byte, error) {
	if file != "" {
		return os.ReadFile(file)
	}
	return []byte(inline), nil
}
