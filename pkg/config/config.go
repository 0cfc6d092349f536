// Package config loads the allotctl configuration from a YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/vestingops/allotctl/chain/evm"
)

const redacted = "<redacted>"

// RPCConfig is a single node endpoint.
type RPCConfig struct {
	Name               string `mapstructure:"name" yaml:"name"`
	HTTPURL            string `mapstructure:"http_url" yaml:"http_url"`
	WSURL              string `mapstructure:"ws_url" yaml:"ws_url,omitempty"`
	PreferredURLScheme string `mapstructure:"preferred_url_scheme" yaml:"preferred_url_scheme,omitempty"` // "http" (default) or "ws"
}

// RetryConfig is the per endpoint retry policy of the RPC client.
type RetryConfig struct {
	Attempts uint          `mapstructure:"attempts" yaml:"attempts"`
	Delay    time.Duration `mapstructure:"delay" yaml:"delay"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NetworkConfig describes how to reach the node.
type NetworkConfig struct {
	RPCURL         string        `mapstructure:"rpc_url" yaml:"rpc_url,omitempty"`   // Single endpoint, used before any entry of RPCs
	RPCs           []RPCConfig   `mapstructure:"rpcs" yaml:"rpcs,omitempty"`         // Primary first, then backups
	ChainID        uint64        `mapstructure:"chain_id" yaml:"chain_id,omitempty"` // Pins the chain id transactions are signed for
	// Key of the artifact networks map, when it differs from the chain id
	ArtifactID     uint64        `mapstructure:"artifact_network_id" yaml:"artifact_network_id,omitempty"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Retry          RetryConfig   `mapstructure:"retry" yaml:"retry"`
}

// KMSConfig is the configuration for an AWS KMS signing key.
//
// WARNING: This data type contains sensitive fields and should not be logged.
type KMSConfig struct {
	KeyID      string `mapstructure:"key_id" yaml:"key_id,omitempty"`         // Secret: AWS KMS Key ID
	KeyRegion  string `mapstructure:"key_region" yaml:"key_region,omitempty"` // AWS KMS Key Region (e.g. us-west-1)
	AWSProfile string `mapstructure:"aws_profile" yaml:"aws_profile,omitempty"`
}

// SignerConfig is the signing credential.
//
// WARNING: This data type contains sensitive fields and should not be logged or set in file
// configuration.
type SignerConfig struct {
	PrivateKey string    `mapstructure:"private_key" yaml:"private_key,omitempty"` // Secret: hex encoded private key. Prefer KMS keys instead.
	KMS        KMSConfig `mapstructure:"kms" yaml:"kms"`
	GasLimit   uint64    `mapstructure:"gas_limit" yaml:"gas_limit,omitempty"` // Pins the gas limit, zero means use the estimate
}

// MethodsConfig names the contract functions.
type MethodsConfig struct {
	Set   string `mapstructure:"set" yaml:"set"`
	Get   string `mapstructure:"get" yaml:"get"`
	Owner string `mapstructure:"owner" yaml:"owner"`
}

// ContractConfig describes where the contract interface and its deployments are recorded.
type ContractConfig struct {
	ArtifactPath    string        `mapstructure:"artifact_path" yaml:"artifact_path,omitempty"`         // Build artifact with abi and networks
	ABIPath         string        `mapstructure:"abi_path" yaml:"abi_path,omitempty"`                   // Bare ABI JSON, when no artifact is used
	AddressBookPath string        `mapstructure:"address_book_path" yaml:"address_book_path,omitempty"` // Address book keyed by chain selector
	Type            string        `mapstructure:"type" yaml:"type,omitempty"`                           // Contract type looked up in the address book
	Version         string        `mapstructure:"version" yaml:"version,omitempty"`                     // Optional semver of the contract type
	Address         string        `mapstructure:"address" yaml:"address,omitempty"`                     // Explicit address, overrides every registry
	Methods         MethodsConfig `mapstructure:"methods" yaml:"methods"`
	OwnerCheck      bool          `mapstructure:"owner_check" yaml:"owner_check"`
	Decimals        int32         `mapstructure:"decimals" yaml:"decimals"` // Scale of human readable amounts
}

// Config wraps the entire configuration of allotctl.
type Config struct {
	Network  NetworkConfig  `mapstructure:"network" yaml:"network"`
	Signer   SignerConfig   `mapstructure:"signer" yaml:"signer"`
	Contract ContractConfig `mapstructure:"contract" yaml:"contract"`
}

var defaults = map[string]any{
	"network.confirm_timeout": "2m",
	"network.poll_interval":   "1s",
	"network.retry.attempts":  1,
	"network.retry.delay":     "1s",
	"network.retry.timeout":   "10s",
	"contract.methods.set":    "setAllotment",
	"contract.methods.get":    "getAllotment",
	"contract.methods.owner":  "owner",
	"contract.owner_check":    true,
}

var (
	// envBindings maps config keys to the environment variables that can provide them. The first
	// name is preferred, the second (if present) is a legacy name.
	envBindings = map[string][]string{
		"network.rpc_url":             {"ALLOTCTL_RPC_URL", "ETH_RPC_URL"},
		"network.chain_id":            {"ALLOTCTL_CHAIN_ID"},
		"network.artifact_network_id": {"ALLOTCTL_ARTIFACT_NETWORK_ID"},
		"network.confirm_timeout":     {"ALLOTCTL_CONFIRM_TIMEOUT"},
		"signer.private_key":          {"ALLOTCTL_SIGNER_PRIVATE_KEY", "PRIVATE_KEY"},
		"signer.kms.key_id":           {"ALLOTCTL_SIGNER_KMS_KEY_ID", "KMS_DEPLOYER_KEY_ID"},
		"signer.kms.key_region":       {"ALLOTCTL_SIGNER_KMS_KEY_REGION", "KMS_DEPLOYER_KEY_REGION"},
		"signer.kms.aws_profile":      {"ALLOTCTL_SIGNER_KMS_AWS_PROFILE", "AWS_PROFILE"},
		"signer.gas_limit":            {"ALLOTCTL_SIGNER_GAS_LIMIT"},
		"contract.artifact_path":      {"ALLOTCTL_CONTRACT_ARTIFACT_PATH"},
		"contract.abi_path":           {"ALLOTCTL_CONTRACT_ABI_PATH"},
		"contract.address_book_path":  {"ALLOTCTL_CONTRACT_ADDRESS_BOOK_PATH"},
		"contract.address":            {"ALLOTCTL_CONTRACT_ADDRESS", "CONTRACT_ADDRESS"},
	}
)

// Load loads the config from the file path, falling back to env vars if the file does not
// exist. If the file exists, any env vars that are set override the values loaded from it. An
// empty path only reads env vars.
func Load(filePath string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	if filePath != "" {
		v.SetConfigFile(filePath)

		if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return cfg, nil
}

// bindEnvs binds the environment variables to the viper instance.
func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		// Prepend the config key to the start of the arguments
		inputs := slices.Insert(slices.Clone(envs), 0, key)

		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}

	return nil
}

// Validate reports every missing or conflicting field. The signer is only checked when
// needSigner is set, read-only commands run without one.
func (c *Config) Validate(needSigner bool) error {
	var errs []error

	if c.Network.RPCURL == "" && len(c.Network.RPCs) == 0 {
		errs = append(errs, errors.New("network.rpc_url or network.rpcs is required"))
	}
	for i, rpc := range c.Network.RPCs {
		if rpc.HTTPURL == "" && rpc.WSURL == "" {
			errs = append(errs, fmt.Errorf("network.rpcs[%d] needs an http_url or a ws_url", i))
		}
		if _, err := evm.URLSchemePreferenceFromString(rpc.PreferredURLScheme); err != nil {
			errs = append(errs, fmt.Errorf("network.rpcs[%d]: %w", i, err))
		}
	}
	if c.Network.ConfirmTimeout <= 0 {
		errs = append(errs, errors.New("network.confirm_timeout must be positive"))
	}

	if needSigner {
		hasKey, hasKMS := c.Signer.PrivateKey != "", c.Signer.KMS.KeyID != ""
		switch {
		case !hasKey && !hasKMS:
			errs = append(errs, errors.New("signer.private_key or signer.kms.key_id is required"))
		case hasKey && hasKMS:
			errs = append(errs, errors.New("signer.private_key and signer.kms.key_id are mutually exclusive"))
		case hasKMS && c.Signer.KMS.KeyRegion == "":
			errs = append(errs, errors.New("signer.kms.key_region is required"))
		}
	}

	cc := c.Contract
	if cc.ArtifactPath == "" && cc.ABIPath == "" {
		errs = append(errs, errors.New("contract.artifact_path or contract.abi_path is required"))
	}
	if cc.ArtifactPath == "" && cc.AddressBookPath == "" && cc.Address == "" {
		errs = append(errs, errors.New("contract.artifact_path, contract.address_book_path or contract.address is required"))
	}
	if cc.AddressBookPath != "" && cc.Type == "" {
		errs = append(errs, errors.New("contract.type is required with contract.address_book_path"))
	}
	if cc.Version != "" {
		if _, err := semver.NewVersion(cc.Version); err != nil {
			errs = append(errs, fmt.Errorf("contract.version: %w", err))
		}
	}
	if cc.Address != "" {
		if _, err := evm.ParseAddress(cc.Address); err != nil {
			errs = append(errs, fmt.Errorf("contract.address: %w", err))
		}
	}
	if cc.Methods.Set == "" || cc.Methods.Get == "" {
		errs = append(errs, errors.New("contract.methods.set and contract.methods.get are required"))
	}
	if cc.Decimals < 0 {
		errs = append(errs, errors.New("contract.decimals must not be negative"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// EVMRPCs returns the configured endpoints, rpc_url first.
func (c *Config) EVMRPCs() ([]evm.RPC, error) {
	var rpcs []evm.RPC
	if c.Network.RPCURL != "" {
		rpcs = append(rpcs, evm.RPC{
			Name:               "rpc_url",
			HTTPURL:            c.Network.RPCURL,
			PreferredURLScheme: evm.URLSchemePreferenceHTTP,
		})
	}

	for i, r := range c.Network.RPCs {
		pref, err := evm.URLSchemePreferenceFromString(r.PreferredURLScheme)
		if err != nil {
			return nil, fmt.Errorf("network.rpcs[%d]: %w", i, err)
		}
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rpc-%d", i)
		}

		rpcs = append(rpcs, evm.RPC{
			Name:               name,
			HTTPURL:            r.HTTPURL,
			WSURL:              r.WSURL,
			PreferredURLScheme: pref,
		})
	}

	return rpcs, nil
}

// ArtifactNetworkID returns the key of the artifact networks map, or nil when the chain id is
// used.
func (c *Config) ArtifactNetworkID() *big.Int {
	if c.Network.ArtifactID == 0 {
		return nil
	}

	return new(big.Int).SetUint64(c.Network.ArtifactID)
}

// PinnedChainID returns the pinned chain id, or nil when the node's chain id is used.
func (c *Config) PinnedChainID() *big.Int {
	if c.Network.ChainID == 0 {
		return nil
	}

	return new(big.Int).SetUint64(c.Network.ChainID)
}

// EVMRetryConfig returns the retry policy of the RPC client.
func (c *Config) EVMRetryConfig() evm.RetryConfig {
	return evm.RetryConfig{
		Attempts: c.Network.Retry.Attempts,
		Delay:    c.Network.Retry.Delay,
		Timeout:  c.Network.Retry.Timeout,
	}
}

// Redacted renders the config as YAML with secrets masked.
func (c *Config) Redacted() (string, error) {
	cp := *c
	cp.Network.RPCURL = redactURL(c.Network.RPCURL)
	cp.Network.RPCs = slices.Clone(c.Network.RPCs)
	for i := range cp.Network.RPCs {
		cp.Network.RPCs[i].HTTPURL = redactURL(cp.Network.RPCs[i].HTTPURL)
		cp.Network.RPCs[i].WSURL = redactURL(cp.Network.RPCs[i].WSURL)
	}
	if cp.Signer.PrivateKey != "" {
		cp.Signer.PrivateKey = redacted
	}
	if cp.Signer.KMS.KeyID != "" {
		cp.Signer.KMS.KeyID = redacted
	}

	b, err := yaml.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	return string(b), nil
}

// redactURL keeps the scheme and host of a node URL. Paths, queries and credentials often
// carry provider API keys.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}
	if u.User == nil && (u.Path == "" || u.Path == "/") && u.RawQuery == "" {
		return raw
	}

	return u.Scheme + "://" + u.Host + "/" + redacted
}
