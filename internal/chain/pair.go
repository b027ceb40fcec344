package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"collateralwatch/internal/fixedpoint"
)

const pairABIJSON = `[{"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"reserve0","type":"uint112"},{"internalType":"uint112","name":"reserve1","type":"uint112"},{"internalType":"uint32","name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"totalSupply","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var pairABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		panic("failed to parse pair ABI: " + err.Error())
	}
	pairABI = parsed
}

// PoolState is one consistent observation of a two-asset pool, with all
// quantities normalised to 18 fractional digits.
type PoolState struct {
	Reserve0    fixedpoint.Fix
	Reserve1    fixedpoint.Fix
	TotalSupply fixedpoint.Fix
}

// PairOptions parameterise a constant-product pair reader.
type PairOptions struct {
	PairAddress    string
	Token0Decimals uint8
	Token1Decimals uint8
	ShareDecimals  uint8
}

// PairReader reads reserves and supply of a UniswapV2-style pair.
type PairReader struct {
	addr           common.Address
	token0Decimals uint8
	token1Decimals uint8
	shareDecimals  uint8
	caller         ethereum.ContractCaller
	logger         zerolog.Logger
}

// NewPairReader builds a pool reader for one pair contract.
func NewPairReader(opts PairOptions, caller ethereum.ContractCaller, logger zerolog.Logger) (*PairReader, error) {
	if opts.PairAddress == "" {
		return nil, errors.New("chain: pair address not configured")
	}
	if !common.IsHexAddress(opts.PairAddress) {
		return nil, fmt.Errorf("chain: invalid pair address %q", opts.PairAddress)
	}
	d0 := opts.Token0Decimals
	if d0 == 0 {
		d0 = 18
	}
	d1 := opts.Token1Decimals
	if d1 == 0 {
		d1 = 18
	}
	share := opts.ShareDecimals
	if share == 0 {
		share = 18
	}
	return &PairReader{
		addr:           common.HexToAddress(opts.PairAddress),
		token0Decimals: d0,
		token1Decimals: d1,
		shareDecimals:  share,
		caller:         caller,
		logger:         logger.With().Str("component", "pair_reader").Str("pair", opts.PairAddress).Logger(),
	}, nil
}

// PoolState reads reserves and total supply in one pass.
func (r *PairReader) PoolState(ctx context.Context) (PoolState, error) {
	reservesPayload, err := pairABI.Pack("getReserves")
	if err != nil {
		return PoolState{}, err
	}
	res, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.addr, Data: reservesPayload}, nil)
	if err != nil {
		return PoolState{}, fmt.Errorf("read pair reserves: %w", err)
	}
	outputs, err := pairABI.Unpack("getReserves", res)
	if err != nil {
		return PoolState{}, fmt.Errorf("decode getReserves: %w", err)
	}
	if len(outputs) != 3 {
		return PoolState{}, errors.New("unexpected getReserves response")
	}
	reserve0, ok0 := outputs[0].(*big.Int)
	reserve1, ok1 := outputs[1].(*big.Int)
	if !ok0 || !ok1 {
		return PoolState{}, errors.New("failed to decode pair reserves")
	}

	supplyPayload, err := pairABI.Pack("totalSupply")
	if err != nil {
		return PoolState{}, err
	}
	res, err = r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.addr, Data: supplyPayload}, nil)
	if err != nil {
		return PoolState{}, fmt.Errorf("read pair supply: %w", err)
	}
	outputs, err = pairABI.Unpack("totalSupply", res)
	if err != nil {
		return PoolState{}, fmt.Errorf("decode totalSupply: %w", err)
	}
	if len(outputs) != 1 {
		return PoolState{}, errors.New("unexpected totalSupply response")
	}
	supply, ok := outputs[0].(*big.Int)
	if !ok {
		return PoolState{}, errors.New("failed to decode pair supply")
	}
	if supply.Sign() == 0 {
		return PoolState{}, errors.New("pair has zero supply")
	}

	return PoolState{
		Reserve0:    fixedpoint.FromScaled(reserve0, r.token0Decimals),
		Reserve1:    fixedpoint.FromScaled(reserve1, r.token1Decimals),
		TotalSupply: fixedpoint.FromScaled(supply, r.shareDecimals),
	}, nil
}
