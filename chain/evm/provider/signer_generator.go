package provider

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignerGenerator creates the transactor that signs transactions for a chain id.
type SignerGenerator interface {
	Generate(chainID *big.Int) (*bind.TransactOpts, error)
}

var (
	_ SignerGenerator = (*rawKeyGenerator)(nil)
	_ SignerGenerator = (*randomKeyGenerator)(nil)
	_ SignerGenerator = (*kmsGenerator)(nil)
)

type generatorOptions struct {
	gasLimit uint64
}

// GeneratorOption configures the transactors of a SignerGenerator.
type GeneratorOption func(*generatorOptions)

// WithGasLimit pins the gas limit of the generated transactors. Zero means estimate.
func WithGasLimit(gasLimit uint64) GeneratorOption {
	return func(o *generatorOptions) {
		o.gasLimit = gasLimit
	}
}

func newGeneratorOptions(opts []GeneratorOption) generatorOptions {
	var o generatorOptions
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

func (o generatorOptions) apply(transactor *bind.TransactOpts) *bind.TransactOpts {
	if o.gasLimit > 0 {
		transactor.GasLimit = o.gasLimit
	}

	return transactor
}

// TransactorFromRaw returns a generator signing with a hex encoded private key, with or
// without a 0x prefix. The key is parsed on every call and never retained in parsed form.
func TransactorFromRaw(privKey string, opts ...GeneratorOption) SignerGenerator {
	return &rawKeyGenerator{
		privKey: privKey,
		opts:    newGeneratorOptions(opts),
	}
}

type rawKeyGenerator struct {
	privKey string
	opts    generatorOptions
}

// String hides the key when the generator ends up in a log line or a %v.
func (g *rawKeyGenerator) String() string {
	return "rawKeyGenerator(<redacted>)"
}

func (g *rawKeyGenerator) GoString() string {
	return g.String()
}

func (g *rawKeyGenerator) Generate(chainID *big.Int) (*bind.TransactOpts, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(g.privKey), "0x")
	if raw == "" {
		return nil, errors.New("private key is empty")
	}

	privKey, err := crypto.HexToECDSA(raw)
	if err != nil {
		// HexToECDSA errors never include the key material.
		return nil, fmt.Errorf("failed to convert private key to ECDSA: %w", err)
	}

	transactor, err := bind.NewKeyedTransactorWithChainID(privKey, chainID)
	if err != nil {
		return nil, err
	}

	return g.opts.apply(transactor), nil
}

// TransactorRandom returns a generator signing with a key generated on first use. Every
// transactor it returns signs with that same key.
func TransactorRandom(opts ...GeneratorOption) SignerGenerator {
	return &randomKeyGenerator{opts: newGeneratorOptions(opts)}
}

type randomKeyGenerator struct {
	opts generatorOptions

	mu      sync.Mutex
	privKey *ecdsa.PrivateKey
}

func (g *randomKeyGenerator) Generate(chainID *big.Int) (*bind.TransactOpts, error) {
	g.mu.Lock()
	if g.privKey == nil {
		privKey, err := crypto.GenerateKey()
		if err != nil {
			g.mu.Unlock()
			return nil, fmt.Errorf("failed to generate random private key: %w", err)
		}
		g.privKey = privKey
	}
	privKey := g.privKey
	g.mu.Unlock()

	transactor, err := bind.NewKeyedTransactorWithChainID(privKey, chainID)
	if err != nil {
		return nil, err
	}

	return g.opts.apply(transactor), nil
}

// TransactorFromKMS returns a generator signing with a secp256k1 key held in AWS KMS. An empty
// awsProfileName uses the default AWS credential chain. No request is sent until Generate.
func TransactorFromKMS(keyID, keyRegion, awsProfileName string, opts ...GeneratorOption) (SignerGenerator, error) {
	signer, err := NewKMSSigner(keyID, keyRegion, awsProfileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create KMS signer: %w", err)
	}

	return &kmsGenerator{signer: signer, opts: newGeneratorOptions(opts)}, nil
}

type kmsGenerator struct {
	signer *KMSSigner
	opts   generatorOptions
}

func (g *kmsGenerator) Generate(chainID *big.Int) (*bind.TransactOpts, error) {
	transactor, err := g.signer.TransactOpts(chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transact opts from KMS signer: %w", err)
	}

	return g.opts.apply(transactor), nil
}
