package fakes

import "github.com/zalando/go-keyring"

// FakeKeychainClient is a test double for the OS keyring lookup
type FakeKeychainClient struct {
	// Secrets is a map of service -> account -> value
	Secrets map[string]map[string]string

	// QueryErr is returned by Get if set (overrides Secrets lookup)
	QueryErr error
}

// NewFakeKeychainClient creates a new fake keychain client
func NewFakeKeychainClient() *FakeKeychainClient {
	return &FakeKeychainClient{
		Secrets: make(map[string]map[string]string),
	}
}

// SetSecret adds a secret to the fake keychain
func (f *FakeKeychainClient) SetSecret(service, account, value string) {
	if f.Secrets[service] == nil {
		f.Secrets[service] = make(map[string]string)
	}
	f.Secrets[service][account] = value
}

// Get has the signature of keyring.Get and returns keyring.ErrNotFound for missing items
func (f *FakeKeychainClient) Get(service, account string) (string, error) {
	if f.QueryErr != nil {
		return "", f.QueryErr
	}
	if accounts, ok := f.Secrets[service]; ok {
		if value, ok := accounts[account]; ok {
			return value, nil
		}
	}
	return "", keyring.ErrNotFound
}
