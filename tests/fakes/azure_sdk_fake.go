package fakes

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// FakeAzureKeyVaultClient is a mock implementation of the Key Vault GetSecret operation
type FakeAzureKeyVaultClient struct {
	// Secrets maps secret names to values
	Secrets map[string]string
	// Errors maps secret names to errors to return
	Errors map[string]error
}

// NewFakeAzureKeyVaultClient creates a new mock Azure Key Vault client
func NewFakeAzureKeyVaultClient() *FakeAzureKeyVaultClient {
	return &FakeAzureKeyVaultClient{
		Secrets: make(map[string]string),
		Errors:  make(map[string]error),
	}
}

// GetSecret mocks the GetSecret operation
func (f *FakeAzureKeyVaultClient) GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	if err, exists := f.Errors[name]; exists {
		return azsecrets.GetSecretResponse{}, err
	}
	value, exists := f.Secrets[name]
	if !exists {
		return azsecrets.GetSecretResponse{}, &azcore.ResponseError{
			ErrorCode:  "SecretNotFound",
			StatusCode: http.StatusNotFound,
		}
	}
	id := azsecrets.ID(fmt.Sprintf("https://test-vault.vault.azure.net/secrets/%s", name))
	return azsecrets.GetSecretResponse{
		Secret: azsecrets.Secret{
			ID:    &id,
			Value: to.Ptr(value),
		},
	}, nil
}
