// Package certs resolves TLS certificates for the HTTPS listener by SNI.
//
// A Store is loaded from certificate/key file pairs and can be reloaded while
// the listener is running; handshakes always see one complete set. Lookup
// tries the exact host name, then the "*.parent" wildcard, then falls back to
// the first configured certificate.
package certs
