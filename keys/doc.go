// Package keys loads the RSA key pair used to sign and verify access tokens.
//
// The key pair is read once at process start from a PKCS#12 keystore (or a
// PEM bundle in development) and is immutable afterwards. A failure to load
// it is fatal: the API has no degraded mode without signing keys.
package keys
