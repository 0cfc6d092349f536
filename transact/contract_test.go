package transact

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vestingops/allotctl/chain/evm"
	"github.com/vestingops/allotctl/chain/evm/provider"
	"github.com/vestingops/allotctl/deployment"
	"github.com/vestingops/allotctl/pkg/logger"
)

const ownerKeyHex = "8f2a55949038a9610f50fb23b5883af3b4ecb3c3bb792cbcefbd1542c692be63"

var (
	contractAddr = common.HexToAddress("0xabc0000000000000000000000000000000000000")
	beneficiary  = common.HexToAddress("0xdef0000000000000000000000000000000000000")
)

func ownerKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()

	key, err := crypto.HexToECDSA(ownerKeyHex)
	require.NoError(t, err)

	return key
}

// testArtifact records the allotment contract on the given network ids.
func testArtifact(t *testing.T, networkIDs ...int64) *deployment.Artifact {
	t.Helper()

	networks := ""
	for i, id := range networkIDs {
		if i > 0 {
			networks += ","
		}
		networks += fmt.Sprintf(`"%d": {"address": "%s"}`, id, contractAddr.Hex())
	}

	a, err := deployment.ParseArtifact([]byte(fmt.Sprintf(
		`{"contractName": "VestingVault", "abi": %s, "networks": {%s}}`, allotmentABIJSON, networks,
	)))
	require.NoError(t, err)

	return a
}

// newTestChain connects key to node. The signer signs for signingChainID, which may differ
// from the node's chain id.
func newTestChain(t *testing.T, node *fakeNode, key *ecdsa.PrivateKey, signingChainID int64, confirmTimeout time.Duration) evm.Chain {
	t.Helper()

	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(signingChainID))
	require.NoError(t, err)

	confirm, err := provider.ConfirmFuncGeth(confirmTimeout, provider.WithTickInterval(5*time.Millisecond)).
		Generate("fake", node, opts.From)
	require.NoError(t, err)

	return evm.Chain{
		Selector:    evm.SelectorForChainID(node.chainID),
		ChainID:     new(big.Int).Set(node.chainID),
		Client:      node,
		DeployerKey: opts,
		Confirm:     confirm,
	}
}

func bindTestContract(t *testing.T, chain evm.Chain) *Contract {
	t.Helper()

	c, err := Bind(t.Context(), chain, deployment.ArtifactResolver{Artifact: testArtifact(t, 1)}, allotmentABI(t), logger.Test(t))
	require.NoError(t, err)

	return c
}

func TestTransact_EndToEnd(t *testing.T) {
	t.Parallel()

	key := ownerKey(t)
	owner := crypto.PubkeyToAddress(key.PublicKey)
	node := newFakeNode(t, 1, contractAddr, owner)
	chain := newTestChain(t, node, key, 1, time.Second)

	c := bindTestContract(t, chain)
	assert.Equal(t, contractAddr, c.Address)

	res, err := c.Transact(t.Context(), owner, "setAllotment", beneficiary, big.NewInt(1000))
	require.NoError(t, err)
	require.NotNil(t, res.Receipt)
	assert.NotEqual(t, common.Hash{}, res.Hash())
	assert.Equal(t, res.Hash(), res.Receipt.TxHash)
	assert.Equal(t, big.NewInt(1), res.Tx.ChainId())

	out, err := c.Call(t.Context(), "getAllotment", beneficiary)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, big.NewInt(1000), out[0])
}

func TestBind_NoDeployment(t *testing.T) {
	t.Parallel()

	key := ownerKey(t)
	owner := crypto.PubkeyToAddress(key.PublicKey)
	node := newFakeNode(t, 1, contractAddr, owner)
	chain := newTestChain(t, node, key, 1, time.Second)

	// Deployed on network 5 only.
	_, err := Bind(t.Context(), chain, deployment.ArtifactResolver{Artifact: testArtifact(t, 5)}, allotmentABI(t), logger.Test(t))
	require.ErrorIs(t, err, ErrResolution)
	require.ErrorIs(t, err, deployment.ErrDeploymentNotFound)
	require.ErrorContains(t, err, StepResolve)

	estimates, sends := node.counts()
	assert.Zero(t, estimates)
	assert.Zero(t, sends)
}

func TestBind_Errors(t *testing.T) {
	t.Parallel()

	key := ownerKey(t)
	node := newFakeNode(t, 1, contractAddr, crypto.PubkeyToAddress(key.PublicKey))
	chain := newTestChain(t, node, key, 1, time.Second)

	_, err := Bind(t.Context(), evm.Chain{}, deployment.StaticResolver{Address: contractAddr}, allotmentABI(t), logger.Test(t))
	require.ErrorIs(t, err, ErrNetwork)

	_, err = Bind(t.Context(), chain, nil, allotmentABI(t), logger.Test(t))
	require.ErrorIs(t, err, ErrResolution)
}

func TestPrepare_Deterministic(t *testing.T) {
	t.Parallel()

	key := ownerKey(t)
	owner := crypto.PubkeyToAddress(key.PublicKey)
	node := newFakeNode(t, 1, contractAddr, owner)

	// Signing goes through the raw key signer generator used by the CLI.
	opts, err := provider.TransactorFromRaw("0x" + ownerKeyHex).Generate(big.NewInt(1))
	require.NoError(t, err)
	chain := newTestChain(t, node, key, 1, time.Second)
	chain.DeployerKey = opts

	c := bindTestContract(t, chain)

	tx1, err := c.Prepare(t.Context(), owner, "setAllotment", beneficiary, big.NewInt(1000))
	require.NoError(t, err)
	tx2, err := c.Prepare(t.Context(), owner, "setAllotment", beneficiary, big.NewInt(1000))
	require.NoError(t, err)

	raw1, err := tx1.MarshalBinary()
	require.NoError(t, err)
	raw2, err := tx2.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, raw1, raw2)

	// Estimation, gas price and nonce all describe the signed payload.
	assert.Equal(t, uint64(48_000), tx1.Gas())
	assert.Equal(t, big.NewInt(2_000_000_000), tx1.GasPrice())
	assert.Equal(t, uint64(0), tx1.Nonce())
	assert.Equal(t, contractAddr, *tx1.To())

	_, sends := node.counts()
	assert.Zero(t, sends)
}

func TestPrepare_PinnedGas(t *testing.T) {
	t.Parallel()

	key := ownerKey(t)
	owner := crypto.PubkeyToAddress(key.PublicKey)
	node := newFakeNode(t, 1, contractAddr, owner)
	chain := newTestChain(t, node, key, 1, time.Second)
	chain.DeployerKey.GasLimit = 100_000
	chain.DeployerKey.GasPrice = big.NewInt(7)

	c := bindTestContract(t, chain)

	tx, err := c.Prepare(t.Context(), owner, "setAllotment", beneficiary, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), tx.Gas())
	assert.Equal(t, big.NewInt(7), tx.GasPrice())

	// Estimation still runs so a reverting call is caught.
	estimates, _ := node.counts()
	assert.Equal(t, 1, estimates)
}

func TestPrepare_Errors(t *testing.T) {
	t.Parallel()

	stranger, err := crypto.GenerateKey()
	require.NoError(t, err)
	strangerAddr := crypto.PubkeyToAddress(stranger.PublicKey)

	tests := []struct {
		name          string
		signer        func(t *testing.T) *ecdsa.PrivateKey
		sender        func(owner common.Address) common.Address
		method        string
		args          []any
		noKey         bool
		wantErrIs     error
		wantErr       string
		wantEstimates int
	}{
		{
			name:          "sender differs from signing key",
			signer:        ownerKey,
			sender:        func(common.Address) common.Address { return strangerAddr },
			method:        "setAllotment",
			args:          []any{beneficiary, big.NewInt(1)},
			wantErrIs:     ErrSigning,
			wantErr:       "not to sender",
			wantEstimates: 0,
		},
		{
			name:          "no signing key",
			signer:        ownerKey,
			sender:        func(o common.Address) common.Address { return o },
			method:        "setAllotment",
			args:          []any{beneficiary, big.NewInt(1)},
			noKey:         true,
			wantErrIs:     ErrSigning,
			wantErr:       "no signing key configured",
			wantEstimates: 0,
		},
		{
			name:          "unauthorized sender",
			signer:        func(*testing.T) *ecdsa.PrivateKey { return stranger },
			sender:        func(common.Address) common.Address { return strangerAddr },
			method:        "setAllotment",
			args:          []any{beneficiary, big.NewInt(1)},
			wantErrIs:     ErrEstimation,
			wantErr:       "Ownable: caller is not the owner",
			wantEstimates: 1,
		},
		{
			name:          "unknown method",
			signer:        ownerKey,
			sender:        func(o common.Address) common.Address { return o },
			method:        "setAllowance",
			wantErrIs:     ErrEncoding,
			wantEstimates: 0,
		},
		{
			name:          "amount overflows uint256",
			signer:        ownerKey,
			sender:        func(o common.Address) common.Address { return o },
			method:        "setAllotment",
			args:          []any{beneficiary, new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1000))},
			wantErrIs:     ErrEncoding,
			wantErr:       "argument amount",
			wantEstimates: 0,
		},
		{
			name:          "negative amount",
			signer:        ownerKey,
			sender:        func(o common.Address) common.Address { return o },
			method:        "setAllotment",
			args:          []any{beneficiary, big.NewInt(-1)},
			wantErrIs:     ErrEncoding,
			wantErr:       "is negative",
			wantEstimates: 0,
		},
		{
			name:          "arguments do not fit",
			signer:        ownerKey,
			sender:        func(o common.Address) common.Address { return o },
			method:        "setAllotment",
			args:          []any{"not an address", 1},
			wantErrIs:     ErrEncoding,
			wantEstimates: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			owner := crypto.PubkeyToAddress(ownerKey(t).PublicKey)
			node := newFakeNode(t, 1, contractAddr, owner)
			chain := newTestChain(t, node, tt.signer(t), 1, time.Second)
			if tt.noKey {
				chain.DeployerKey = nil
			}
			c := bindTestContract(t, chain)

			tx, err := c.Prepare(t.Context(), tt.sender(owner), tt.method, tt.args...)
			require.ErrorIs(t, err, tt.wantErrIs)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
			}
			assert.Nil(t, tx)

			estimates, sends := node.counts()
			assert.Equal(t, tt.wantEstimates, estimates)
			assert.Zero(t, sends)
		})
	}
}

func TestPrepare_SigningFailure(t *testing.T) {
	t.Parallel()

	key := ownerKey(t)
	owner := crypto.PubkeyToAddress(key.PublicKey)
	node := newFakeNode(t, 1, contractAddr, owner)
	chain := newTestChain(t, node, key, 1, time.Second)
	chain.DeployerKey.Signer = func(common.Address, *types.Transaction) (*types.Transaction, error) {
		return nil, bind.ErrNotAuthorized
	}

	c := bindTestContract(t, chain)

	_, err := c.Prepare(t.Context(), owner, "setAllotment", beneficiary, big.NewInt(1))
	require.ErrorIs(t, err, ErrSigning)
	require.ErrorIs(t, err, bind.ErrNotAuthorized)
	require.ErrorContains(t, err, StepSign)
}

func TestBroadcast_ChainMismatch(t *testing.T) {
	t.Parallel()

	key := ownerKey(t)
	owner := crypto.PubkeyToAddress(key.PublicKey)
	node := newFakeNode(t, 1, contractAddr, owner)
	// The signer was pinned to chain id 5 while the node serves chain id 1.
	chain := newTestChain(t, node, key, 5, time.Second)

	c := bindTestContract(t, chain)

	tx, err := c.Prepare(t.Context(), owner, "setAllotment", beneficiary, big.NewInt(1000))
	require.NoError(t, err)

	_, err = c.Broadcast(t.Context(), tx)
	require.ErrorIs(t, err, ErrChainMismatch)
	require.ErrorContains(t, err, "signed for chain id 5, node serves 1")

	_, sends := node.counts()
	assert.Zero(t, sends)
}

func TestCheckChainID(t *testing.T) {
	t.Parallel()

	key := ownerKey(t)
	owner := crypto.PubkeyToAddress(key.PublicKey)
	node := newFakeNode(t, 1, contractAddr, owner)

	matching := bindTestContract(t, newTestChain(t, node, key, 1, time.Second))
	tx, err := matching.Prepare(t.Context(), owner, "setAllotment", beneficiary, big.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, matching.CheckChainID(t.Context(), tx))

	pinned := bindTestContract(t, newTestChain(t, node, key, 1337, time.Second))
	tx, err = pinned.Prepare(t.Context(), owner, "setAllotment", beneficiary, big.NewInt(1000))
	require.NoError(t, err)
	err = pinned.CheckChainID(t.Context(), tx)
	require.ErrorIs(t, err, ErrChainMismatch)
	require.ErrorContains(t, err, "signed for chain id 1337, node serves 1")

	_, sends := node.counts()
	assert.Zero(t, sends)
}

func TestBroadcast_Duplicate(t *testing.T) {
	t.Parallel()

	key := ownerKey(t)
	owner := crypto.PubkeyToAddress(key.PublicKey)
	node := newFakeNode(t, 1, contractAddr, owner)
	chain := newTestChain(t, node, key, 1, time.Second)

	c := bindTestContract(t, chain)

	res, err := c.Transact(t.Context(), owner, "setAllotment", beneficiary, big.NewInt(1000))
	require.NoError(t, err)

	_, err = c.Broadcast(t.Context(), res.Tx)
	require.ErrorIs(t, err, ErrSubmission)
	require.ErrorContains(t, err, "already known")
	require.NotErrorIs(t, err, ErrReverted)
}

func TestBroadcast_ConfirmationTimeout(t *testing.T) {
	t.Parallel()

	key := ownerKey(t)
	owner := crypto.PubkeyToAddress(key.PublicKey)
	node := newFakeNode(t, 1, contractAddr, owner)
	node.neverMine = true
	chain := newTestChain(t, node, key, 1, 50*time.Millisecond)

	c := bindTestContract(t, chain)

	res, err := c.Transact(t.Context(), owner, "setAllotment", beneficiary, big.NewInt(1000))
	require.ErrorIs(t, err, ErrConfirmationTimeout)
	require.ErrorIs(t, err, evm.ErrConfirmTimeout)
	require.ErrorContains(t, err, "outcome unknown")
	assert.Nil(t, res)

	_, sends := node.counts()
	assert.Equal(t, 1, sends)
}

func TestBroadcast_Reverted(t *testing.T) {
	t.Parallel()

	key := ownerKey(t)
	owner := crypto.PubkeyToAddress(key.PublicKey)
	node := newFakeNode(t, 1, contractAddr, owner)
	chain := newTestChain(t, node, key, 1, time.Second)

	c := bindTestContract(t, chain)

	tx, err := c.Prepare(t.Context(), owner, "setAllotment", beneficiary, big.NewInt(1000))
	require.NoError(t, err)

	// Execution fails after estimation succeeded.
	node.mu.Lock()
	node.failExecution = true
	node.mu.Unlock()

	receipt, err := c.Broadcast(t.Context(), tx)
	require.ErrorIs(t, err, ErrReverted)
	require.ErrorContains(t, err, "paused")
	require.NotNil(t, receipt)
	assert.Equal(t, tx.Hash(), receipt.TxHash)
}

func TestBroadcast_NoConfirmFunc(t *testing.T) {
	t.Parallel()

	key := ownerKey(t)
	owner := crypto.PubkeyToAddress(key.PublicKey)
	node := newFakeNode(t, 1, contractAddr, owner)
	chain := newTestChain(t, node, key, 1, time.Second)
	chain.Confirm = nil

	c := bindTestContract(t, chain)

	tx, err := c.Prepare(t.Context(), owner, "setAllotment", beneficiary, big.NewInt(1000))
	require.NoError(t, err)

	_, err = c.Broadcast(t.Context(), tx)
	require.ErrorContains(t, err, "no confirm function configured")

	_, sends := node.counts()
	assert.Zero(t, sends)
}

func TestCall_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		callErr   error
		method    string
		wantErrIs error
		wantErr   string
	}{
		{
			name:      "revert",
			callErr:   revertError(t, "not allowed"),
			method:    "getAllotment",
			wantErrIs: ErrReverted,
			wantErr:   "not allowed",
		},
		{
			name:      "transport failure",
			callErr:   errors.New("connection refused"),
			method:    "getAllotment",
			wantErrIs: ErrNetwork,
			wantErr:   "connection refused",
		},
		{
			name:      "unknown method",
			method:    "getAllowance",
			wantErrIs: ErrEncoding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			key := ownerKey(t)
			node := newFakeNode(t, 1, contractAddr, crypto.PubkeyToAddress(key.PublicKey))
			node.callErr = tt.callErr
			c := bindTestContract(t, newTestChain(t, node, key, 1, time.Second))

			_, err := c.Call(t.Context(), tt.method, beneficiary)
			require.ErrorIs(t, err, tt.wantErrIs)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

type providerFunc func(ctx context.Context) (evm.Chain, error)

func (f providerFunc) Initialize(ctx context.Context) (evm.Chain, error) { return f(ctx) }

func TestConnect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		giveErr   error
		wantErrIs error
	}{
		{name: "success"},
		{
			name:      "bad credential",
			giveErr:   fmt.Errorf("failed to generate signer: %w: %w", evm.ErrInvalidSigner, errors.New("bad key")),
			wantErrIs: ErrSigning,
		},
		{
			name:      "node unreachable",
			giveErr:   errors.New("failed to create multi-client: dial tcp: connection refused"),
			wantErrIs: ErrNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			chain, err := Connect(t.Context(), providerFunc(func(context.Context) (evm.Chain, error) {
				if tt.giveErr != nil {
					return evm.Chain{}, tt.giveErr
				}

				return evm.Chain{ChainID: big.NewInt(1)}, nil
			}))
			if tt.wantErrIs != nil {
				require.ErrorIs(t, err, tt.wantErrIs)
				require.ErrorContains(t, err, StepConnect)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, big.NewInt(1), chain.ChainID)
		})
	}
}
