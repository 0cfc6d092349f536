package deployment

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/Masterminds/semver/v3"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vestingops/allotctl/chain/evm"
)

// ErrDeploymentNotFound is returned by a Resolver that has no address for the network.
var ErrDeploymentNotFound = errors.New("no deployment recorded for network")

// Resolver looks up the address of a contract on the chain the client is connected to.
type Resolver interface {
	Resolve(ctx context.Context, chain evm.Chain) (common.Address, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, chain evm.Chain) (common.Address, error)

func (f ResolverFunc) Resolve(ctx context.Context, chain evm.Chain) (common.Address, error) {
	return f(ctx, chain)
}

// ArtifactResolver resolves from the networks map of a build artifact. The map is keyed by
// the network id the artifact was migrated under, which is the chain id unless NetworkID is
// set. Local devnets such as Ganache report net_version 5777 while signing for chain id 1337.
type ArtifactResolver struct {
	Artifact  *Artifact
	NetworkID *big.Int
}

func (r ArtifactResolver) Resolve(_ context.Context, chain evm.Chain) (common.Address, error) {
	if r.Artifact == nil {
		return common.Address{}, errors.New("artifact is required")
	}
	if r.NetworkID != nil {
		return r.Artifact.AddressFor(r.NetworkID)
	}

	return r.Artifact.AddressFor(chain.ChainID)
}

// AddressBookResolver resolves by contract type from an address book. Version is optional;
// without it the highest recorded version is used.
type AddressBookResolver struct {
	Book    AddressBook
	Type    ContractType
	Version *semver.Version
}

func (r AddressBookResolver) Resolve(_ context.Context, chain evm.Chain) (common.Address, error) {
	if r.Book == nil {
		return common.Address{}, errors.New("address book is required")
	}
	if r.Type == "" {
		return common.Address{}, errors.New("contract type is required to search the address book")
	}
	if chain.Selector == 0 {
		return common.Address{}, fmt.Errorf("chain %s has no chain selector: %w", chain.String(), ErrDeploymentNotFound)
	}

	addr, _, err := SearchAddressBook(r.Book, chain.Selector, r.Type, r.Version)
	if errors.Is(err, ErrChainNotFound) {
		return common.Address{}, fmt.Errorf("%w: %w", ErrDeploymentNotFound, err)
	}

	return addr, err
}

// StaticResolver always resolves to Address.
type StaticResolver struct {
	Address common.Address
}

func (r StaticResolver) Resolve(context.Context, evm.Chain) (common.Address, error) {
	if r.Address == (common.Address{}) {
		return common.Address{}, fmt.Errorf("static address is empty: %w", ErrDeploymentNotFound)
	}

	return r.Address, nil
}

// FirstOf tries each resolver in order and returns the first hit. Only ErrDeploymentNotFound
// moves on to the next resolver; any other error is returned as is.
func FirstOf(resolvers ...Resolver) Resolver {
	return ResolverFunc(func(ctx context.Context, chain evm.Chain) (common.Address, error) {
		var errs []error
		for _, r := range resolvers {
			addr, err := r.Resolve(ctx, chain)
			if err == nil {
				return addr, nil
			}
			if !errors.Is(err, ErrDeploymentNotFound) {
				return common.Address{}, err
			}
			errs = append(errs, err)
		}

		if len(errs) == 0 {
			return common.Address{}, fmt.Errorf("no resolvers configured: %w", ErrDeploymentNotFound)
		}

		return common.Address{}, errors.Join(errs...)
	})
}
