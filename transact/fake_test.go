package transact

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/vestingops/allotctl/chain/evm"
)

const allotmentABIJSON = `[
	{"type": "function", "name": "setAllotment", "stateMutability": "nonpayable",
	 "inputs": [{"name": "beneficiary", "type": "address"}, {"name": "amount", "type": "uint256"}],
	 "outputs": []},
	{"type": "function", "name": "getAllotment", "stateMutability": "view",
	 "inputs": [{"name": "beneficiary", "type": "address"}],
	 "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "owner", "stateMutability": "view",
	 "inputs": [], "outputs": [{"name": "", "type": "address"}]}
]`

func allotmentABI(t *testing.T) abi.ABI {
	t.Helper()

	parsed, err := abi.JSON(strings.NewReader(allotmentABIJSON))
	require.NoError(t, err)

	return parsed
}

// rpcError mimics the JSON-RPC error type of go-ethereum's rpc package.
type rpcError struct {
	code int
	msg  string
	data any
}

func (e *rpcError) Error() string  { return e.msg }
func (e *rpcError) ErrorCode() int { return e.code }
func (e *rpcError) ErrorData() any { return e.data }

// revertError builds the error a node returns for require(false, reason).
func revertError(t *testing.T, reason string) error {
	t.Helper()

	stringTy, err := abi.NewType("string", "", nil)
	require.NoError(t, err)

	payload, err := abi.Arguments{{Type: stringTy}}.Pack(reason)
	require.NoError(t, err)

	return &rpcError{
		code: 3,
		msg:  "execution reverted: " + reason,
		data: hexutil.Encode(append([]byte{0x08, 0xc3, 0x79, 0xa0}, payload...)),
	}
}

// fakeNode is an in-memory node serving a single allotment contract. setAllotment is
// restricted to the owner.
type fakeNode struct {
	t   *testing.T
	abi abi.ABI

	chainID  *big.Int
	contract common.Address
	owner    common.Address
	gasPrice *big.Int

	// neverMine leaves sent transactions pending forever.
	neverMine bool
	// failExecution makes mined setAllotment calls revert with "paused".
	failExecution bool
	// callErr is returned by every CallContract.
	callErr error

	mu         sync.Mutex
	allotments map[common.Address]*big.Int
	nonces     map[common.Address]uint64
	seen       map[common.Hash]bool
	receipts   map[common.Hash]*types.Receipt
	block      int64

	estimateCalls int
	sendCalls     int
	nonceCalls    int
}

var _ evm.OnchainClient = (*fakeNode)(nil)

func newFakeNode(t *testing.T, chainID int64, contract, owner common.Address) *fakeNode {
	t.Helper()

	return &fakeNode{
		t:          t,
		abi:        allotmentABI(t),
		chainID:    big.NewInt(chainID),
		contract:   contract,
		owner:      owner,
		gasPrice:   big.NewInt(2_000_000_000),
		allotments: make(map[common.Address]*big.Int),
		nonces:     make(map[common.Address]uint64),
		seen:       make(map[common.Hash]bool),
		receipts:   make(map[common.Hash]*types.Receipt),
		block:      1,
	}
}

func (n *fakeNode) counts() (estimates, sends int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.estimateCalls, n.sendCalls
}

// execute runs call data as from and returns the output or a revert error.
func (n *fakeNode) execute(from common.Address, to *common.Address, data []byte, write bool) ([]byte, error) {
	if to == nil || *to != n.contract {
		return nil, nil
	}
	if len(data) < 4 {
		return nil, revertError(n.t, "no fallback")
	}

	method, err := n.abi.MethodById(data[:4])
	if err != nil {
		return nil, revertError(n.t, "unknown selector")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, revertError(n.t, "bad calldata")
	}

	switch method.Name {
	case "setAllotment":
		if from != n.owner {
			return nil, revertError(n.t, "Ownable: caller is not the owner")
		}
		if write && n.failExecution {
			return nil, revertError(n.t, "paused")
		}
		if write {
			n.allotments[args[0].(common.Address)] = new(big.Int).Set(args[1].(*big.Int))
		}

		return nil, nil
	case "getAllotment":
		v, ok := n.allotments[args[0].(common.Address)]
		if !ok {
			v = new(big.Int)
		}

		return method.Outputs.Pack(v)
	case "owner":
		return method.Outputs.Pack(n.owner)
	default:
		return nil, revertError(n.t, "unknown method")
	}
}

func (n *fakeNode) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.callErr != nil {
		return nil, n.callErr
	}

	// Replaying a mined setAllotment reproduces its execution failure.
	return n.execute(call.From, call.To, call.Data, n.failExecution)
}

func (n *fakeNode) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nonceCalls++

	return n.nonces[account], nil
}

func (n *fakeNode) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(n.gasPrice), nil
}

func (n *fakeNode) EstimateGas(_ context.Context, call ethereum.CallMsg) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.estimateCalls++
	if _, err := n.execute(call.From, call.To, call.Data, false); err != nil {
		return 0, err
	}

	return 48_000, nil
}

func (n *fakeNode) SendTransaction(_ context.Context, tx *types.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.sendCalls++

	from, err := types.Sender(types.LatestSignerForChainID(n.chainID), tx)
	if err != nil {
		return &rpcError{code: -32000, msg: "invalid sender"}
	}
	if n.seen[tx.Hash()] {
		return &rpcError{code: -32000, msg: "already known"}
	}
	if tx.Nonce() < n.nonces[from] {
		return &rpcError{code: -32000, msg: "nonce too low"}
	}

	n.seen[tx.Hash()] = true
	n.nonces[from] = tx.Nonce() + 1

	if n.neverMine {
		return nil
	}

	status := types.ReceiptStatusSuccessful
	if _, err := n.execute(from, tx.To(), tx.Data(), true); err != nil {
		status = types.ReceiptStatusFailed
	}

	n.block++
	n.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(n.block),
		GasUsed:     42_000,
	}

	return nil
}

func (n *fakeNode) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	r, ok := n.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}

	return r, nil
}

func (n *fakeNode) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(n.chainID), nil
}
