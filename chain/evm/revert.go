package evm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// jsonError matches the JSON-RPC error returned by go-ethereum's rpc package, whose concrete
// type is private.
//
// https://github.com/ethereum/go-ethereum/blob/0983cd789ee1905aedaed96f72793e5af8466f34/rpc/json.go#L140
type jsonError interface {
	Error() string
	ErrorCode() int
	ErrorData() any
}

// ErrorData extracts the data field of a JSON-RPC error, which for reverted calls holds the
// hex encoded revert payload.
func ErrorData(err error) (string, error) {
	if err == nil {
		return "", errors.New("cannot parse nil error")
	}

	var jerr jsonError
	if !errors.As(err, &jerr) {
		return "", fmt.Errorf("error must be of type jsonError: %w", err)
	}

	data := fmt.Sprintf("%s", jerr.ErrorData())
	if jerr.ErrorData() == nil {
		data = ""
	}
	if data == "" && strings.Contains(jerr.Error(), "missing trie node") {
		return "", errors.New("missing trie node, likely due to not using an archive node")
	}

	return data, nil
}

// RevertReason returns a human readable revert reason for an error returned by eth_call or
// eth_estimateGas. Error(string) and Panic(uint256) payloads are decoded; other payloads are
// returned as hex. When the error carries no data the node message is returned.
func RevertReason(err error) string {
	if err == nil {
		return ""
	}

	data, derr := ErrorData(err)
	if derr != nil || data == "" {
		return err.Error()
	}

	raw, herr := hexutil.Decode(data)
	if herr != nil {
		return data
	}

	reason, uerr := abi.UnpackRevert(raw)
	if uerr != nil {
		return data
	}

	return reason
}
