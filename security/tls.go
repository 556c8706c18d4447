package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

var minVersions = map[string]uint16{
	"":    tls.VersionTLS12,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// TLSConfig is how the gateway authenticates instances of routes with
// downstream_scheme https, and itself to them in an mTLS mesh.
//
// Instances come from discovery as IP:port, so their certificates are
// checked against IP SANs unless ServerName names the identity to expect.
type TLSConfig struct {
	// CAFile is the mesh CA bundle. Empty uses the system roots.
	CAFile string `yaml:"ca_file" mapstructure:"ca_file"`
	// CertFile and KeyFile are the gateway's client certificate.
	CertFile string `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `yaml:"key_file" mapstructure:"key_file"`
	// ServerName is verified instead of the instance address.
	ServerName string `yaml:"server_name" mapstructure:"server_name"`
	// SkipVerify accepts any instance certificate.
	SkipVerify bool `yaml:"skip_verify" mapstructure:"skip_verify"`
	// MinVersion is "1.2" (default) or "1.3".
	MinVersion string `yaml:"min_version" mapstructure:"min_version"`
}

// Validate checks the settings without reading any file.
func (c *TLSConfig) Validate() error {
	if c == nil {
		return nil
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("tls: cert_file and key_file must be set together")
	}
	if _, ok := minVersions[c.MinVersion]; !ok {
		return fmt.Errorf("tls: unsupported min_version %q (use 1.2 or 1.3)", c.MinVersion)
	}
	if c.SkipVerify && (c.CAFile != "" || c.ServerName != "") {
		return fmt.Errorf("tls: skip_verify conflicts with ca_file and server_name")
	}
	return nil
}

// ClientConfig loads the CA and client certificate. It returns nil when
// nothing is configured, so the transport keeps its defaults.
func (c *TLSConfig) ClientConfig() (*tls.Config, error) {
	if c == nil || *c == (TLSConfig{}) {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		MinVersion:         minVersions[c.MinVersion],
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.SkipVerify,
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("tls: read ca_file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("tls: no certificate in ca_file %s", c.CAFile)
		}
		cfg.RootCAs = pool
	}
	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("tls: load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
