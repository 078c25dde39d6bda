package fakes

import (
	"context"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FakeGCPSecretManagerClient is a mock implementation of the AccessSecretVersion operation
type FakeGCPSecretManagerClient struct {
	// Versions maps version resource names (projects/X/secrets/Y/versions/Z) to payloads
	Versions map[string][]byte
	// Errors maps resource names to errors to return
	Errors map[string]error
}

// NewFakeGCPSecretManagerClient creates a new mock GCP Secret Manager client
func NewFakeGCPSecretManagerClient() *FakeGCPSecretManagerClient {
	return &FakeGCPSecretManagerClient{
		Versions: make(map[string][]byte),
		Errors:   make(map[string]error),
	}
}

// AccessSecretVersion mocks the AccessSecretVersion operation
func (f *FakeGCPSecretManagerClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	if err, exists := f.Errors[req.GetName()]; exists {
		return nil, err
	}
	data, exists := f.Versions[req.GetName()]
	if !exists {
		return nil, status.Errorf(codes.NotFound, "Secret Version [%s] not found", req.GetName())
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: data},
	}, nil
}
