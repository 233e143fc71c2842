package config

import (
	"time"

	"accumreg/native/accumulator"
	"accumreg/native/common"
	"accumreg/native/params"
)

// Node configures the development ledger served by accumd.
type Node struct {
	ListenAddress string `toml:"ListenAddress" yaml:"listenAddress"`
	// DataDir holds the LevelDB database. Empty runs in memory.
	DataDir     string `toml:"DataDir" yaml:"dataDir"`
	NetworkName string `toml:"NetworkName" yaml:"networkName"`
	// AuthTokenEnv names the environment variable holding the bearer token
	// that guards ledger_submit.
	AuthTokenEnv string       `toml:"AuthTokenEnv" yaml:"authTokenEnv"`
	JWT          JWT          `toml:"jwt" yaml:"jwt"`
	RateLimit    RateLimit    `toml:"rate_limit" yaml:"rateLimit"`
	Pauses       Pauses       `toml:"pauses" yaml:"pauses"`
	Quota        Quota        `toml:"quota" yaml:"quota"`
	Controllers  []Controller `toml:"controllers" yaml:"controllers"`
	// DevKeystorePath, when set, holds a controller key that accumd loads or
	// creates on start and registers for DevDID.
	DevKeystorePath string `toml:"DevKeystorePath" yaml:"devKeystorePath"`
	DevKeystoreEnv  string `toml:"DevKeystoreEnv" yaml:"devKeystoreEnv"`
	DevDID          string `toml:"DevDID" yaml:"devDid"`
	// AllowedOrigins are the websocket origin patterns accepted on
	// /ws/blocks besides the node's own host.
	AllowedOrigins []string `toml:"AllowedOrigins" yaml:"allowedOrigins"`
	Index          Index    `toml:"index" yaml:"index"`
}

// Index configures the SQLite event index kept next to the ledger.
type Index struct {
	// Path of the SQLite database. Empty disables indexing.
	Path            string `toml:"Path" yaml:"path"`
	IntervalSeconds int    `toml:"IntervalSeconds" yaml:"intervalSeconds"`
}

// Interval returns the sync period, defaulting to one second.
func (i Index) Interval() time.Duration {
	if i.IntervalSeconds <= 0 {
		return time.Second
	}
	return time.Duration(i.IntervalSeconds) * time.Second
}

// JWT enables HMAC-signed bearer tokens for submissions.
type JWT struct {
	HMACSecretEnv string `toml:"HMACSecretEnv" yaml:"hmacSecretEnv"`
	Issuer        string `toml:"Issuer" yaml:"issuer"`
}

// RateLimit bounds JSON-RPC requests per client address.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute" yaml:"requestsPerMinute"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

// Pauses switches individual ledger modules off.
type Pauses struct {
	Accumulator        bool `toml:"Accumulator" yaml:"accumulator"`
	OffchainSignatures bool `toml:"OffchainSignatures" yaml:"offchainSignatures"`
}

// View converts the flags into the map consulted by the ledger.
func (p Pauses) View() common.Pauses {
	return common.Pauses{
		accumulator.ModuleName:          p.Accumulator,
		params.ModuleOffchainSignatures: p.OffchainSignatures,
	}
}

// Quota defines per-signer limits enforced by the ledger.
type Quota struct {
	MaxCallsPerEpoch    uint32 `toml:"MaxCallsPerEpoch" yaml:"maxCallsPerEpoch"`
	MaxArgBytesPerEpoch uint64 `toml:"MaxArgBytesPerEpoch" yaml:"maxArgBytesPerEpoch"`
	EpochSeconds        uint32 `toml:"EpochSeconds" yaml:"epochSeconds"`
}

// Runtime converts the section into the ledger quota.
func (q Quota) Runtime() common.Quota {
	return common.Quota{
		MaxCallsPerEpoch:    q.MaxCallsPerEpoch,
		MaxArgBytesPerEpoch: q.MaxArgBytesPerEpoch,
		EpochSeconds:        q.EpochSeconds,
	}
}

// Controller grants a secp256k1 address control over a DID at startup.
type Controller struct {
	DID     string `toml:"DID" yaml:"did"`
	Address string `toml:"Address" yaml:"address"`
}

// Client configures JSON-RPC clients such as accumctl.
type Client struct {
	Endpoint          string  `toml:"Endpoint" yaml:"endpoint"`
	TimeoutSeconds    int     `toml:"TimeoutSeconds" yaml:"timeoutSeconds"`
	AuthTokenEnv      string  `toml:"AuthTokenEnv" yaml:"authTokenEnv"`
	RequestsPerSecond float64 `toml:"RequestsPerSecond" yaml:"requestsPerSecond"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

// Timeout returns the per-request timeout.
func (c Client) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Logging configures the process logger.
type Logging struct {
	Service    string `toml:"Service" yaml:"service"`
	Env        string `toml:"Env" yaml:"env"`
	Level      string `toml:"Level" yaml:"level"`
	Format     string `toml:"Format" yaml:"format"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"maxAgeDays"`
	Compress   bool   `toml:"Compress" yaml:"compress"`
}

// Observability configures metrics and tracing export.
type Observability struct {
	Metrics     bool    `toml:"Metrics" yaml:"metrics"`
	Traces      bool    `toml:"Traces" yaml:"traces"`
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Headers     string  `toml:"Headers" yaml:"headers"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sampleRatio"`
}
