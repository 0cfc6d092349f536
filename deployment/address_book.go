package deployment

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/ethereum/go-ethereum/common"
	chainsel "github.com/smartcontractkit/chain-selectors"
)

var (
	ErrInvalidChainSelector = errors.New("invalid chain selector")
	ErrInvalidAddress       = errors.New("invalid address")
	ErrChainNotFound        = errors.New("chain not found")
)

// ContractType is a simple string type for identifying contract types.
type ContractType string

func (ct ContractType) String() string {
	return string(ct)
}

// TypeAndVersion tags a deployed address with the contract it runs.
type TypeAndVersion struct {
	Type    ContractType   `json:"Type"`
	Version semver.Version `json:"Version"`
}

func (tv TypeAndVersion) String() string {
	return fmt.Sprintf("%s %s", tv.Type, tv.Version.String())
}

func (tv TypeAndVersion) Equal(other TypeAndVersion) bool {
	return tv.Type == other.Type && tv.Version.Equal(&other.Version)
}

func MustTypeAndVersionFromString(s string) TypeAndVersion {
	tv, err := TypeAndVersionFromString(s)
	if err != nil {
		panic(err)
	}

	return tv
}

// TypeAndVersionFromString parses "<Type> <semver>", e.g. "VestingVault 1.2.0".
func TypeAndVersionFromString(s string) (TypeAndVersion, error) {
	parts := strings.Fields(s) // Ignores consecutive spaces
	if len(parts) != 2 {
		return TypeAndVersion{}, fmt.Errorf("invalid type and version string: %s", s)
	}
	v, err := semver.NewVersion(parts[1])
	if err != nil {
		return TypeAndVersion{}, err
	}

	return TypeAndVersion{
		Type:    ContractType(parts[0]),
		Version: *v,
	}, nil
}

func NewTypeAndVersion(t ContractType, v semver.Version) TypeAndVersion {
	return TypeAndVersion{
		Type:    t,
		Version: v,
	}
}

// AddressBook stores contract addresses across chains, keyed by chain selector.
// We store rather than derive typeAndVersion as some contracts do not support it.
// For ethereum addresses are always stored in EIP55 format.
type AddressBook interface {
	Addresses() (map[uint64]map[string]TypeAndVersion, error)
	AddressesForChain(chain uint64) (map[string]TypeAndVersion, error)
	// Allows for merging address books (e.g. new deployments with existing ones)
	Merge(other AddressBook) error
}

var _ AddressBook = (*AddressBookMap)(nil)

// AddressBookMap is an in-memory AddressBook. Chains and addresses are kept sorted so every
// listing is deterministic.
type AddressBookMap struct {
	addressesByChain *treemap.Map // map[uint64]*treemap.Map[string]TypeAndVersion
	mtx              sync.RWMutex
}

func (m *AddressBookMap) save(chainSelector uint64, address string, typeAndVersion TypeAndVersion) error {
	family, err := chainsel.GetSelectorFamily(chainSelector)
	if err != nil {
		return fmt.Errorf("chain selector %d: %w", chainSelector, ErrInvalidChainSelector)
	}
	if family != chainsel.FamilyEVM {
		return fmt.Errorf("chain selector %d is a %s chain, only EVM chains are supported: %w",
			chainSelector, family, ErrInvalidChainSelector)
	}

	if address == "" || address == (common.Address{}).Hex() {
		return fmt.Errorf("address cannot be empty: %w", ErrInvalidAddress)
	}
	if !common.IsHexAddress(address) {
		return fmt.Errorf("address %s is not a valid Ethereum address: %w", address, ErrInvalidAddress)
	}
	// Always standardize to EIP55
	address = common.HexToAddress(address).Hex()

	if typeAndVersion.Type == "" {
		return errors.New("type cannot be empty")
	}

	chainAddresses, exists := m.addressesByChain.Get(chainSelector)
	if !exists {
		chainAddresses = treemap.NewWithStringComparator()
		m.addressesByChain.Put(chainSelector, chainAddresses)
	}

	chainMap := chainAddresses.(*treemap.Map)
	if _, exists := chainMap.Get(address); exists {
		return fmt.Errorf("address %s already exists for chain %d", address, chainSelector)
	}
	chainMap.Put(address, typeAndVersion)

	return nil
}

func (m *AddressBookMap) Addresses() (map[uint64]map[string]TypeAndVersion, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	result := make(map[uint64]map[string]TypeAndVersion)

	it := m.addressesByChain.Iterator()
	for it.Next() {
		result[it.Key().(uint64)] = toMap(it.Value().(*treemap.Map))
	}

	return result, nil
}

func (m *AddressBookMap) AddressesForChain(chainSelector uint64) (map[string]TypeAndVersion, error) {
	if _, err := chainsel.GetChainIDFromSelector(chainSelector); err != nil {
		return nil, fmt.Errorf("chain selector %d: %w", chainSelector, ErrInvalidChainSelector)
	}

	m.mtx.RLock()
	defer m.mtx.RUnlock()

	chainAddresses, exists := m.addressesByChain.Get(chainSelector)
	if !exists {
		return nil, fmt.Errorf("chain selector %d: %w", chainSelector, ErrChainNotFound)
	}

	return toMap(chainAddresses.(*treemap.Map)), nil
}

// Merge adds every address of ab to this book. An address already recorded for the same
// chain is an error, and the book is left unchanged.
func (m *AddressBookMap) Merge(ab AddressBook) error {
	addresses, err := ab.Addresses()
	if err != nil {
		return err
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	merged := &AddressBookMap{addressesByChain: treemap.NewWith(utils.UInt64Comparator)}
	for it := m.addressesByChain.Iterator(); it.Next(); {
		chainMap := treemap.NewWithStringComparator()
		for ait := it.Value().(*treemap.Map).Iterator(); ait.Next(); {
			chainMap.Put(ait.Key(), ait.Value())
		}
		merged.addressesByChain.Put(it.Key(), chainMap)
	}

	for chainSelector, chainAddresses := range addresses {
		for address, typeAndVersion := range chainAddresses {
			if err := merged.save(chainSelector, address, typeAndVersion); err != nil {
				return err
			}
		}
	}
	m.addressesByChain = merged.addressesByChain

	return nil
}

// Entry is one address of an address book listing.
type Entry struct {
	ChainSelector uint64
	Address       common.Address
	TypeAndVersion
}

// Entries lists every address sorted by chain selector, then address.
func (m *AddressBookMap) Entries() []Entry {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	var entries []Entry
	it := m.addressesByChain.Iterator()
	for it.Next() {
		selector := it.Key().(uint64)

		chainIt := it.Value().(*treemap.Map).Iterator()
		for chainIt.Next() {
			entries = append(entries, Entry{
				ChainSelector:  selector,
				Address:        common.HexToAddress(chainIt.Key().(string)),
				TypeAndVersion: chainIt.Value().(TypeAndVersion),
			})
		}
	}

	return entries
}

func toMap(chainMap *treemap.Map) map[string]TypeAndVersion {
	result := make(map[string]TypeAndVersion, chainMap.Size())

	it := chainMap.Iterator()
	for it.Next() {
		result[it.Key().(string)] = it.Value().(TypeAndVersion)
	}

	return result
}

func NewMemoryAddressBook() *AddressBookMap {
	return &AddressBookMap{
		addressesByChain: treemap.NewWith(utils.UInt64Comparator),
	}
}

// NewMemoryAddressBookFromMap builds an address book from a plain map. Every selector must be a
// known EVM chain, every address a non-zero hex address and every type non-empty.
func NewMemoryAddressBookFromMap(addressesByChain map[uint64]map[string]TypeAndVersion) (*AddressBookMap, error) {
	ab := NewMemoryAddressBook()

	for chainSelector, addresses := range addressesByChain {
		for address, tv := range addresses {
			if err := ab.save(chainSelector, address, tv); err != nil {
				return nil, err
			}
		}
	}

	return ab, nil
}

// LoadAddressBook reads an address book JSON file of the form
//
//	{"<chain selector>": {"<address>": {"Type": "VestingVault", "Version": "1.0.0"}}}
func LoadAddressBook(path string) (*AddressBookMap, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read address book: %w", err)
	}

	var raw map[string]map[string]TypeAndVersion
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode address book %s: %w", path, err)
	}

	byChain := make(map[uint64]map[string]TypeAndVersion, len(raw))
	for key, addresses := range raw {
		selector, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("address book %s: chain selector %q: %w", path, key, ErrInvalidChainSelector)
		}
		byChain[selector] = addresses
	}

	ab, err := NewMemoryAddressBookFromMap(byChain)
	if err != nil {
		return nil, fmt.Errorf("address book %s: %w", path, err)
	}

	return ab, nil
}

// SearchAddressBook returns the address of contract type typ on chain. When version is nil
// the highest version wins. More than one address for the same type and version is an error.
func SearchAddressBook(ab AddressBook, chain uint64, typ ContractType, version *semver.Version) (common.Address, TypeAndVersion, error) {
	addrs, err := ab.AddressesForChain(chain)
	if err != nil {
		return common.Address{}, TypeAndVersion{}, err
	}

	var (
		found   string
		foundTV TypeAndVersion
		dupes   int
	)
	for addr, tv := range addrs {
		if tv.Type != typ {
			continue
		}
		if version != nil && !tv.Version.Equal(version) {
			continue
		}

		switch {
		case found == "" || tv.Version.GreaterThan(&foundTV.Version):
			found, foundTV, dupes = addr, tv, 0
		case tv.Version.Equal(&foundTV.Version):
			dupes++
		}
	}

	if found == "" {
		return common.Address{}, TypeAndVersion{}, fmt.Errorf("%s on chain selector %d: %w", typ, chain, ErrDeploymentNotFound)
	}
	if dupes > 0 {
		return common.Address{}, TypeAndVersion{}, fmt.Errorf("found more than one instance of contract %s", foundTV)
	}

	return common.HexToAddress(found), foundTV, nil
}
