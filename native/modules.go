// Package native wires the ledger modules served by the development chain.
package native

import (
	"accumreg/native/accumulator"
	"accumreg/native/common"
	"accumreg/native/params"
)

// DefaultModules returns the accumulator module and the standalone
// offchain-signatures registry module.
func DefaultModules() []common.Module {
	return []common.Module{
		accumulator.NewEngine(),
		params.NewEngine(params.ModuleOffchainSignatures),
	}
}
