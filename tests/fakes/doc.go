// Package fakes provides test doubles for cookieguard's external clients.
//
// This package contains fake implementations of the AWS, GCP and Azure SDK
// surfaces, the OS keyring and the object store so that the credential store,
// passphrase resolution and manager can be unit tested without real services.
// Fakes are manually implemented (not generated) to provide precise control
// over test behavior.
//
// Usage:
//
//	mem := fakes.NewMemoryObjectStore()
//	mem.FailGet("credentials/active", errors.New("connection reset"))
//	s := store.New(mem, store.Config{Prefix: "credentials"})
//	// Exercise the fallback chain...
package fakes
