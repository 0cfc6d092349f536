// Package kms builds AWS KMS clients and holds the ASN.1 structures KMS uses for secp256k1
// public keys and ECDSA signatures.
package kms

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	kmslib "github.com/aws/aws-sdk-go/service/kms"
)

// Client is the subset of the KMS API needed to sign EVM transactions.
type Client interface {
	GetPublicKey(input *kmslib.GetPublicKeyInput) (*kmslib.GetPublicKeyOutput, error)
	Sign(input *kmslib.SignInput) (*kmslib.SignOutput, error)
}

// ClientConfig identifies the KMS key and the AWS credentials used to reach it.
type ClientConfig struct {
	KeyID     string
	KeyRegion string
	// AWSProfile is optional. When empty the default credential chain (environment variables,
	// shared config, instance role) is used.
	AWSProfile string
}

func (c ClientConfig) validate() error {
	var errs []error
	if c.KeyID == "" {
		errs = append(errs, errors.New("KMS key ID is required"))
	}
	if c.KeyRegion == "" {
		errs = append(errs, errors.New("KMS key region is required"))
	}

	return errors.Join(errs...)
}

// NewClient returns a KMS client for the configured region and profile. No request is sent.
func NewClient(config ClientConfig) (Client, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid KMS config: %w", err)
	}

	opts := session.Options{
		Config: aws.Config{
			Region: aws.String(config.KeyRegion),
		},
	}
	if config.AWSProfile != "" {
		opts.Profile = config.AWSProfile
	}

	sess, err := session.NewSessionWithOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return kmslib.New(sess), nil
}

// SPKI is the SubjectPublicKeyInfo structure returned by KMS GetPublicKey.
type SPKI struct {
	AlgorithmIdentifier pkix.AlgorithmIdentifier
	SubjectPublicKey    asn1.BitString
}

// ECDSASig is the DER encoded signature returned by KMS Sign.
type ECDSASig struct {
	R *big.Int
	S *big.Int
}
