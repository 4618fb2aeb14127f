// Package counter executes actions against the Counter contract: reading the
// current count and submitting increment/decrement transactions whose
// lifecycle is recorded by the transaction tracker.
package counter

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const counterABIJSON = `[
  {"inputs":[],"name":"count","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"increment","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"decrement","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// ABI is the parsed Counter contract interface.
var ABI = mustParseABI(counterABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid counter ABI: %v", err))
	}
	return parsed
}

// packCall encodes a zero-argument call to method.
func packCall(method string) ([]byte, error) {
	data, err := ABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}
	return data, nil
}

// unpackCount decodes the return data of count().
func unpackCount(out []byte) (*big.Int, error) {
	values, err := ABI.Unpack("count", out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode count: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("failed to decode count: expected 1 value, got %d", len(values))
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to decode count: unexpected type %T", values[0])
	}
	return n, nil
}
