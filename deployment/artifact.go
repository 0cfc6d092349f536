package deployment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vestingops/allotctl/chain/evm"
)

// NetworkDeployment is the per-network section of a build artifact.
type NetworkDeployment struct {
	Address         string `json:"address"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

// Artifact is a truffle style build artifact: the compiled interface of a contract plus the
// addresses it was deployed to, keyed by network id.
type Artifact struct {
	ContractName string                       `json:"contractName"`
	RawABI       json.RawMessage              `json:"abi"`
	Networks     map[string]NetworkDeployment `json:"networks"`

	abi abi.ABI
}

// ABI returns the parsed contract interface.
func (a *Artifact) ABI() abi.ABI {
	return a.abi
}

// AddressFor returns the deployment recorded for the network id. It returns
// ErrDeploymentNotFound when the artifact has no entry for that network.
func (a *Artifact) AddressFor(networkID *big.Int) (common.Address, error) {
	if networkID == nil {
		return common.Address{}, errors.New("network id is required")
	}

	nd, ok := a.Networks[networkID.String()]
	if !ok || nd.Address == "" {
		return common.Address{}, fmt.Errorf("%s on network %s: %w", a.ContractName, networkID, ErrDeploymentNotFound)
	}

	addr, err := evm.ParseAddress(nd.Address)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s on network %s: %w", a.ContractName, networkID, err)
	}

	return addr, nil
}

// ParseArtifact decodes a build artifact and its ABI.
func ParseArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	if len(a.RawABI) == 0 {
		return nil, errors.New("artifact has no abi")
	}

	parsed, err := abi.JSON(bytes.NewReader(a.RawABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse artifact abi: %w", err)
	}
	a.abi = parsed

	return &a, nil
}

// LoadArtifact reads a build artifact from disk.
func LoadArtifact(path string) (*Artifact, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	a, err := ParseArtifact(b)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}

	return a, nil
}
