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
)

const rewardsABIJSON = `[{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"earned","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var rewardsABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(rewardsABIJSON))
	if err != nil {
		panic("failed to parse rewards ABI: " + err.Error())
	}
	rewardsABI = parsed
}

// RewardOptions parameterise a reward sweep for one wrapped token.
type RewardOptions struct {
	// ProgramAddress is the staking/reward contract exposing earned().
	ProgramAddress string
	// RewardToken is the token the program pays out in.
	RewardToken string
	// Holder is the account whose accrued rewards are swept.
	Holder string
}

// RewardReader sweeps the accrued reward balance of a wrapped token's
// reward program. The service holds no signing key, so a sweep reports the
// claimable amount rather than submitting a claim transaction.
type RewardReader struct {
	program     common.Address
	rewardToken common.Address
	holder      common.Address
	caller      ethereum.ContractCaller
	logger      zerolog.Logger
}

// NewRewardReader builds a reward reader. All three addresses are required.
func NewRewardReader(opts RewardOptions, caller ethereum.ContractCaller, logger zerolog.Logger) (*RewardReader, error) {
	for name, addr := range map[string]string{
		"program address": opts.ProgramAddress,
		"reward token":    opts.RewardToken,
		"holder":          opts.Holder,
	} {
		if addr == "" {
			return nil, fmt.Errorf("chain: %s not configured", name)
		}
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("chain: invalid %s %q", name, addr)
		}
	}
	return &RewardReader{
		program:     common.HexToAddress(opts.ProgramAddress),
		rewardToken: common.HexToAddress(opts.RewardToken),
		holder:      common.HexToAddress(opts.Holder),
		caller:      caller,
		logger:      logger.With().Str("component", "reward_reader").Str("program", opts.ProgramAddress).Logger(),
	}, nil
}

// RewardTokenAddress returns the payout token address.
func (r *RewardReader) RewardTokenAddress() common.Address { return r.rewardToken }

// Earned reads the holder's accrued reward balance. A zero balance is a
// legitimate result, not a failure.
func (r *RewardReader) Earned(ctx context.Context) (*big.Int, error) {
	payload, err := rewardsABI.Pack("earned", r.holder)
	if err != nil {
		return nil, err
	}

	res, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.program, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("read earned rewards: %w", err)
	}

	outputs, err := rewardsABI.Unpack("earned", res)
	if err != nil {
		return nil, fmt.Errorf("decode earned: %w", err)
	}
	if len(outputs) != 1 {
		return nil, errors.New("unexpected earned response")
	}
	amount, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode earned output")
	}
	return amount, nil
}
