// Package mocks holds testify mocks of the kms package interfaces.
package mocks

import (
	kmslib "github.com/aws/aws-sdk-go/service/kms"
	"github.com/stretchr/testify/mock"

	"github.com/vestingops/allotctl/chain/internal/kms"
)

var _ kms.Client = (*MockClient)(nil)

// MockClient is a testify mock of kms.Client.
type MockClient struct {
	mock.Mock
}

// NewMockClient returns a MockClient whose expectations are asserted when the test ends.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

// GetPublicKey records the call and returns the configured output.
func (m *MockClient) GetPublicKey(input *kmslib.GetPublicKeyInput) (*kmslib.GetPublicKeyOutput, error) {
	args := m.Called(input)

	out, _ := args.Get(0).(*kmslib.GetPublicKeyOutput)

	return out, args.Error(1)
}

// Sign records the call and returns the configured output. A func(*kmslib.SignInput) return
// value is invoked to compute the output from the input.
func (m *MockClient) Sign(input *kmslib.SignInput) (*kmslib.SignOutput, error) {
	args := m.Called(input)

	if fn, ok := args.Get(0).(func(*kmslib.SignInput) (*kmslib.SignOutput, error)); ok {
		return fn(input)
	}

	out, _ := args.Get(0).(*kmslib.SignOutput)

	return out, args.Error(1)
}
