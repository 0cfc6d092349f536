// Package allotment updates and reads the allotment a vesting contract records for a
// beneficiary.
package allotment

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/vestingops/allotctl/pkg/logger"
	"github.com/vestingops/allotctl/transact"
)

// maxAmountBits is the width of the uint256 amount argument.
const maxAmountBits = 256

// ErrVerificationMismatch is returned when the allotment read back after a mined update differs
// from the requested amount.
var ErrVerificationMismatch = errors.New("allotment read back does not match the requested amount")

// Contract is the bound vesting contract. *transact.Contract implements it.
type Contract interface {
	Transact(ctx context.Context, sender common.Address, method string, args ...any) (*transact.Result, error)
	Call(ctx context.Context, method string, args ...any) ([]any, error)
	HasMethod(method string) bool
}

var _ Contract = (*transact.Contract)(nil)

// Methods names the contract functions the Updater calls.
type Methods struct {
	Set   string
	Get   string
	Owner string
}

// DefaultMethods returns setAllotment(address,uint256), getAllotment(address) and owner().
func DefaultMethods() Methods {
	return Methods{
		Set:   "setAllotment",
		Get:   "getAllotment",
		Owner: "owner",
	}
}

// Option configures an Updater.
type Option func(*Updater)

// WithMethods overrides the contract function names.
func WithMethods(m Methods) Option {
	return func(u *Updater) {
		u.methods = m
	}
}

// WithOwnerCheck toggles the owner preflight of Set. It is on by default.
func WithOwnerCheck(enabled bool) Option {
	return func(u *Updater) {
		u.ownerCheck = enabled
	}
}

// Updater sets and reads allotments.
type Updater struct {
	contract   Contract
	methods    Methods
	ownerCheck bool
	lggr       logger.Logger
}

// NewUpdater returns an Updater for the bound contract. The set and get functions must be
// declared by the contract ABI.
func NewUpdater(contract Contract, lggr logger.Logger, opts ...Option) (*Updater, error) {
	u := &Updater{
		contract:   contract,
		methods:    DefaultMethods(),
		ownerCheck: true,
		lggr:       lggr.Named("Allotment"),
	}
	for _, opt := range opts {
		opt(u)
	}

	var errs []error
	for _, m := range []string{u.methods.Set, u.methods.Get} {
		if m == "" || !contract.HasMethod(m) {
			errs = append(errs, fmt.Errorf("contract has no method %q", m))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", transact.ErrEncoding, err)
	}

	return u, nil
}

// Outcome is the result of a mined allotment update.
type Outcome struct {
	TxHash    common.Hash
	Receipt   *types.Receipt
	Requested *big.Int
	Observed  *big.Int
}

// String renders the outcome the way the CLI prints it.
func (o *Outcome) String() string {
	observed := "unknown"
	if o.Observed != nil {
		observed = o.Observed.String()
	}

	return fmt.Sprintf("Transaction hash: %s  New Allotment: %s", o.TxHash.Hex(), observed)
}

// Set records amount for beneficiary, waits for the transaction to be mined and reads the
// allotment back. A read back that differs from amount returns the outcome together with
// ErrVerificationMismatch.
func (u *Updater) Set(ctx context.Context, sender, beneficiary common.Address, amount *big.Int) (*Outcome, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%s: %w: amount must be a non-negative integer", transact.StepEncode, transact.ErrEncoding)
	}
	if amount.BitLen() > maxAmountBits {
		return nil, fmt.Errorf("%s: %w: amount %s does not fit in uint256", transact.StepEncode, transact.ErrEncoding, amount)
	}

	if u.ownerCheck {
		u.checkOwner(ctx, sender)
	}

	u.lggr.Infow("Setting allotment",
		"beneficiary", beneficiary.Hex(), "amount", amount.String(), "sender", sender.Hex(),
	)

	res, err := u.contract.Transact(ctx, sender, u.methods.Set, beneficiary, amount)
	if err != nil {
		if res != nil && res.Receipt != nil {
			return &Outcome{TxHash: res.Hash(), Receipt: res.Receipt, Requested: amount}, err
		}

		return nil, err
	}

	outcome := &Outcome{
		TxHash:    res.Hash(),
		Receipt:   res.Receipt,
		Requested: amount,
	}

	observed, err := u.Get(ctx, beneficiary)
	if err != nil {
		return outcome, fmt.Errorf("%s: %w", transact.StepVerify, err)
	}
	outcome.Observed = observed

	if observed.Cmp(amount) != 0 {
		return outcome, fmt.Errorf("%s: %w: requested %s, observed %s",
			transact.StepVerify, ErrVerificationMismatch, amount, observed)
	}

	return outcome, nil
}

// Get reads the allotment of beneficiary at the latest block.
func (u *Updater) Get(ctx context.Context, beneficiary common.Address) (*big.Int, error) {
	out, err := u.contract.Call(ctx, u.methods.Get, beneficiary)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s: %w: %s returned %d values, want 1",
			transact.StepDecode, transact.ErrEncoding, u.methods.Get, len(out))
	}

	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s returned %T, want an integer",
			transact.StepDecode, transact.ErrEncoding, u.methods.Get, out[0])
	}

	return v, nil
}

// checkOwner warns when sender is not the owner the contract reports. Failures only log; the
// estimation step is what rejects unauthorized senders.
func (u *Updater) checkOwner(ctx context.Context, sender common.Address) {
	if u.methods.Owner == "" || !u.contract.HasMethod(u.methods.Owner) {
		return
	}

	out, err := u.contract.Call(ctx, u.methods.Owner)
	if err != nil {
		u.lggr.Warnw("Could not read contract owner", "err", err)
		return
	}
	if len(out) != 1 {
		return
	}

	owner, ok := out[0].(common.Address)
	if !ok {
		return
	}

	if owner != sender {
		u.lggr.Warnw("Sender is not the contract owner, the update will likely be rejected",
			"sender", sender.Hex(), "owner", owner.Hex(),
		)

		return
	}

	u.lggr.Debugw("Sender is the contract owner", "owner", owner.Hex())
}

// ParseAmount converts a human readable amount into base units, e.g. "1.5" with 18 decimals
// is 1500000000000000000. Exponents are accepted ("1e3").
func ParseAmount(s string, decimals int32) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("decimals must not be negative, got %d", decimals)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q is negative", s)
	}

	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}

	n := scaled.BigInt()
	if n.BitLen() > maxAmountBits {
		return nil, fmt.Errorf("amount %q does not fit in uint256", s)
	}

	return n, nil
}
