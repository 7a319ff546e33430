// Package security holds the client TLS settings shared by every outbound
// transport: the agent and remote source talking to the registry, the
// Consul source, and the gateway talking to upstream instances.
//
//	tls:
//	  ca_file: /etc/meshkit/ca.pem
//	  cert_file: /etc/meshkit/client.pem
//	  key_file: /etc/meshkit/client-key.pem
//	  min_version: "1.3"
package security
