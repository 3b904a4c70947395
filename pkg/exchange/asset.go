package exchange

import "github.com/ethereum/go-ethereum/common"

// Asset identifies a balance sheet column: a token contract address,
// or the zero address for the chain's native currency.
type Asset = common.Address

// NativeAsset is the native currency sentinel (the zero address).
var NativeAsset = common.Address{}

func IsNative(a Asset) bool { return a == NativeAsset }
