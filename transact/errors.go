package transact

import (
	"errors"
	"fmt"
)

// Error kinds of the transaction workflow. Every error returned by this package wraps exactly
// one of them, so callers classify failures with errors.Is.
var (
	// ErrResolution means no contract address is recorded for the connected network.
	ErrResolution = errors.New("resolution error")
	// ErrEstimation means the node rejected or reverted the call during gas estimation. Nothing
	// was signed or broadcast.
	ErrEstimation = errors.New("estimation error")
	// ErrChainMismatch means the signed transaction targets a different chain than the node
	// serves. Nothing was broadcast.
	ErrChainMismatch = errors.New("chain id mismatch")
	// ErrSubmission means the node refused the signed transaction (nonce too low, already
	// known, underpriced...).
	ErrSubmission = errors.New("submission error")
	// ErrConfirmationTimeout means the transaction was broadcast but not seen in a block in
	// time. The outcome is unknown: it may still be mined.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	// ErrSigning means the credential is malformed, does not match the sender or failed to sign.
	ErrSigning = errors.New("signing error")
	// ErrNetwork means the node could not be reached or a query failed.
	ErrNetwork = errors.New("network error")
	// ErrEncoding means the method is unknown or the arguments do not fit the ABI.
	ErrEncoding = errors.New("encoding error")
	// ErrReverted means the transaction was mined but execution failed.
	ErrReverted = errors.New("transaction reverted")
)

// Workflow steps named in errors.
const (
	StepConnect  = "connect"
	StepResolve  = "resolve contract"
	StepEncode   = "encode call"
	StepEstimate = "estimate gas"
	StepGasPrice = "fetch gas price"
	StepNonce    = "fetch nonce"
	StepSign     = "sign transaction"
	StepChainID  = "check chain id"
	StepSend     = "send transaction"
	StepConfirm  = "wait for confirmation"
	StepCall     = "call"
	StepDecode   = "decode result"
	StepVerify   = "verify"
)

// stepError wraps cause with the workflow step and the error kind.
func stepError(step string, kind error, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", step, kind)
	}

	return fmt.Errorf("%s: %w: %w", step, kind, cause)
}
