package crypto

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

const moduleAddressDomain = "collend/module/"

// ModuleAddress derives the deterministic vault address for a named module.
// The derivation has no private key: module vaults only ever move funds
// through engine entry points, never by signature.
func ModuleAddress(name string) Address {
	digest := ethcrypto.Keccak256([]byte(moduleAddressDomain + name))
	return NewAddress(CLNPrefix, digest[12:])
}
