// Package secure provides memory-safe handling of decrypted credential bundles.
//
// This package wraps the memguard library so that cached plaintext is:
//
//   - Encrypted at rest in memory (XSalsa20Poly1305)
//   - Protected from swapping via mlock while open
//   - Wiped from locked memory after every read
//
// # Usage
//
//	buf := secure.NewSecureBuffer(plaintext)
//	defer buf.Destroy()
//
//	data, err := buf.Bytes() // plaintext copy for the caller
//
// Call memguard.Purge() (or memguard.CatchInterrupt()) in main so the enclave key is
// wiped at exit.
//
// It does NOT protect against attackers with access to the running process, or against
// copies the caller makes of the plaintext.
package secure
