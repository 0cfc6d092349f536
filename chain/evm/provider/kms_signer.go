package provider

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	kmslib "github.com/aws/aws-sdk-go/service/kms"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vestingops/allotctl/chain/internal/kms"
)

// KMSSigner signs EVM transactions with a secp256k1 key held in AWS KMS. The key never
// leaves KMS; only transaction digests are sent for signing.
type KMSSigner struct {
	client kms.Client
	keyID  string

	mu  sync.Mutex
	pub *ecdsa.PublicKey
}

// NewKMSSigner returns a signer for the KMS key keyID in keyRegion. An empty awsProfile uses
// the default AWS credential chain.
func NewKMSSigner(keyID, keyRegion, awsProfile string) (*KMSSigner, error) {
	client, err := kms.NewClient(kms.ClientConfig{
		KeyID:      keyID,
		KeyRegion:  keyRegion,
		AWSProfile: awsProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize KMS Client: %w", err)
	}

	return &KMSSigner{client: client, keyID: keyID}, nil
}

// Address returns the EVM address of the KMS key.
func (s *KMSSigner) Address() (common.Address, error) {
	pub, err := s.publicKey()
	if err != nil {
		return common.Address{}, err
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// TransactOpts returns a transactor whose From is the KMS key address and whose Signer signs
// for chainID.
func (s *KMSSigner) TransactOpts(chainID *big.Int) (*bind.TransactOpts, error) {
	if chainID == nil {
		return nil, errors.New("chain id is required")
	}

	pub, err := s.publicKey()
	if err != nil {
		return nil, err
	}

	var (
		from   = crypto.PubkeyToAddress(*pub)
		signer = types.LatestSignerForChainID(chainID)
	)

	return &bind.TransactOpts{
		From: from,
		Signer: func(address common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if address != from {
				return nil, bind.ErrNotAuthorized
			}

			sig, err := s.signDigest(pub, signer.Hash(tx).Bytes())
			if err != nil {
				return nil, err
			}

			return tx.WithSignature(signer, sig)
		},
	}, nil
}

// publicKey fetches the public key from KMS once.
func (s *KMSSigner) publicKey() (*ecdsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pub != nil {
		return s.pub, nil
	}

	out, err := s.client.GetPublicKey(&kmslib.GetPublicKeyInput{KeyId: aws.String(s.keyID)})
	if err != nil {
		return nil, fmt.Errorf("cannot get public key from KMS for KeyId=%s: %w", s.keyID, err)
	}

	var spki kms.SPKI
	if _, err = asn1.Unmarshal(out.PublicKey, &spki); err != nil {
		return nil, fmt.Errorf("cannot parse asn1 public key for KeyId=%s: %w", s.keyID, err)
	}

	pub, err := crypto.UnmarshalPubkey(spki.SubjectPublicKey.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cannot unmarshal public key bytes: %w", err)
	}
	s.pub = pub

	return pub, nil
}

func (s *KMSSigner) signDigest(pub *ecdsa.PublicKey, digest []byte) ([]byte, error) {
	out, err := s.client.Sign(&kmslib.SignInput{
		KeyId:            aws.String(s.keyID),
		SigningAlgorithm: aws.String(kmslib.SigningAlgorithmSpecEcdsaSha256),
		MessageType:      aws.String(kmslib.MessageTypeDigest),
		Message:          digest,
	})
	if err != nil {
		return nil, fmt.Errorf("call to kms.Sign() failed: %w", err)
	}

	sig, err := recoverableSignature(out.Signature, pub, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to convert KMS signature to Ethereum signature: %w", err)
	}

	return sig, nil
}

var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// recoverableSignature turns the DER encoded signature KMS returns into the 65 byte
// [R || S || V] form, with S in the lower half of the curve order (EIP-2) and V the recovery
// id that yields pub.
func recoverableSignature(der []byte, pub *ecdsa.PublicKey, digest []byte) ([]byte, error) {
	var sig kms.ECDSASig
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal KMS signature: %w", err)
	}
	if sig.R == nil || sig.S == nil || sig.R.Sign() <= 0 || sig.S.Sign() <= 0 ||
		sig.R.Cmp(secp256k1N) >= 0 || sig.S.Cmp(secp256k1N) >= 0 {
		return nil, errors.New("signature values are out of range")
	}

	s := sig.S
	if s.Cmp(secp256k1HalfN) > 0 {
		s = new(big.Int).Sub(secp256k1N, s)
	}

	out := make([]byte, crypto.SignatureLength)
	sig.R.FillBytes(out[:32])
	s.FillBytes(out[32:64])

	want := crypto.FromECDSAPub(pub)
	for _, v := range []byte{0, 1} {
		out[64] = v

		recovered, err := crypto.Ecrecover(digest, out)
		if err == nil && bytes.Equal(recovered, want) {
			return out, nil
		}
	}

	return nil, errors.New("signature does not recover to the KMS public key")
}
