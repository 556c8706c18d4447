// Package security holds the TLS settings of upstream connections.
//
//	cfg := security.TLSConfig{
//	    CAFile:     "/etc/meshgate/mesh-ca.pem",
//	    ServerName: "orders.internal",
//	}
//
//	tlsConfig, err := cfg.ClientConfig()
package security
