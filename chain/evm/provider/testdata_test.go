package provider

import (
	"crypto/ecdsa"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	kmslib "github.com/aws/aws-sdk-go/service/kms"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	chain_selectors "github.com/smartcontractkit/chain-selectors"
	"github.com/stretchr/testify/require"

	"github.com/vestingops/allotctl/chain/internal/kms"
)

// Defines standard variables for a test chain.
var (
	testChainID    = chain_selectors.TEST_1000.EvmChainID // Defines a standard test EVM chain ID
	testChainIDBig = new(big.Int).SetUint64(testChainID)  // Defines the testChainID in *big.Int format
)

// Variables used for testing the KMS provider.
var (
	testAWSProfile     = "default"
	testKMSKeyID       = "1234567-1234-1234-1234-123456789012"
	testKMSKeyRegion   = "ap-southeast-1"
	testKMSKeyIDAWSStr = aws.String(testKMSKeyID)
)

var (
	oidPublicKeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidSecp256k1      = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

// newTestTx returns an unsigned legacy transaction.
func newTestTx() *types.Transaction {
	to := common.HexToAddress("0xabc123")

	return types.NewTx(&types.LegacyTx{
		Nonce:    1,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      21000,
		GasPrice: big.NewInt(20000000000),
	})
}

// testKMSKey is a secp256k1 key standing in for a key held by KMS.
type testKMSKey struct {
	privKey *ecdsa.PrivateKey
}

func newTestKMSKey(t *testing.T) *testKMSKey {
	t.Helper()

	privKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	return &testKMSKey{privKey: privKey}
}

// Address returns the EVM address of the key.
func (k *testKMSKey) Address() common.Address {
	return crypto.PubkeyToAddress(k.privKey.PublicKey)
}


// SPKI returns the DER encoded SubjectPublicKeyInfo, as returned by KMS GetPublicKey.
func (k *testKMSKey) SPKI(t *testing.T) []byte {
	t.Helper()

	params, err := asn1.Marshal(oidSecp256k1)
	require.NoError(t, err)

	pubKeyBytes := crypto.FromECDSAPub(&k.privKey.PublicKey)
	der, err := asn1.Marshal(kms.SPKI{
		AlgorithmIdentifier: pkix.AlgorithmIdentifier{
			Algorithm:  oidPublicKeyECDSA,
			Parameters: asn1.RawValue{FullBytes: params},
		},
		SubjectPublicKey: asn1.BitString{Bytes: pubKeyBytes, BitLength: len(pubKeyBytes) * 8},
	})
	require.NoError(t, err)

	return der
}

// Sign signs the digest of the input and returns the DER encoded (R, S) pair, as returned by
// KMS Sign. KMS does not normalize S, so half of its signatures have a high S.
func (k *testKMSKey) Sign(input *kmslib.SignInput) (*kmslib.SignOutput, error) {
	return k.sign(input, false)
}

// SignHighS is Sign with S always in the upper half of the curve order.
func (k *testKMSKey) SignHighS(input *kmslib.SignInput) (*kmslib.SignOutput, error) {
	return k.sign(input, true)
}

func (k *testKMSKey) sign(input *kmslib.SignInput, highS bool) (*kmslib.SignOutput, error) {
	sig, err := crypto.Sign(input.Message, k.privKey)
	if err != nil {
		return nil, err
	}

	s := new(big.Int).SetBytes(sig[32:64])
	if highS {
		s.Sub(crypto.S256().Params().N, s)
	}

	der, err := asn1.Marshal(kms.ECDSASig{R: new(big.Int).SetBytes(sig[:32]), S: s})
	if err != nil {
		return nil, err
	}

	return &kmslib.SignOutput{Signature: der}, nil
}
