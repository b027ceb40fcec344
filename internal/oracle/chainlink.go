package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"collateralwatch/internal/fixedpoint"
)

const aggregatorABIJSON = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise an on-chain aggregator feed.
type ChainlinkOptions struct {
	Address  string
	Decimals uint8
}

// ChainlinkFeed reads a Chainlink-style aggregator over Ethereum RPC.
type ChainlinkFeed struct {
	addr     common.Address
	decimals uint8
	caller   ethereum.ContractCaller
	logger   zerolog.Logger
}

// NewChainlinkFeed builds a feed bound to one aggregator contract.
func NewChainlinkFeed(opts ChainlinkOptions, caller ethereum.ContractCaller, logger zerolog.Logger) (*ChainlinkFeed, error) {
	if opts.Address == "" {
		return nil, errors.New("oracle: feed address not configured")
	}
	if !common.IsHexAddress(opts.Address) {
		return nil, fmt.Errorf("oracle: invalid feed address %q", opts.Address)
	}
	decimals := opts.Decimals
	if decimals == 0 {
		decimals = 8
	}
	return &ChainlinkFeed{
		addr:     common.HexToAddress(opts.Address),
		decimals: decimals,
		caller:   caller,
		logger:   logger.With().Str("component", "oracle").Str("feed", opts.Address).Logger(),
	}, nil
}

// LatestRound fetches the aggregator's most recent round.
func (f *ChainlinkFeed) LatestRound(ctx context.Context) (fixedpoint.Fix, time.Time, error) {
	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return fixedpoint.Fix{}, time.Time{}, err
	}

	res, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &f.addr, Data: payload}, nil)
	if err != nil {
		return fixedpoint.Fix{}, time.Time{}, classifyCallError(err)
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return fixedpoint.Fix{}, time.Time{}, fmt.Errorf("decode latestRoundData: %w", err)
	}
	if len(outputs) != 5 {
		return fixedpoint.Fix{}, time.Time{}, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return fixedpoint.Fix{}, time.Time{}, errors.New("failed to decode aggregator answer")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return fixedpoint.Fix{}, time.Time{}, errors.New("failed to decode aggregator timestamp")
	}

	return fixedpoint.FromScaled(answer, f.decimals), time.Unix(updatedAt.Int64(), 0).UTC(), nil
}

// classifyCallError separates revert-with-reason from revert-with-empty-data.
// Transport failures pass through unchanged; they are as fatal as an empty
// revert but keep their own diagnostics.
func classifyCallError(err error) error {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return err
	}

	data := revertBytes(de.ErrorData())
	if len(data) == 0 {
		return fmt.Errorf("%w: %s", ErrRevertedNoReason, de.Error())
	}
	if reason, uerr := abi.UnpackRevert(data); uerr == nil {
		return &RevertError{Reason: reason}
	}
	return &RevertError{Reason: hexutil.Encode(data)}
}

func revertBytes(data interface{}) []byte {
	switch v := data.(type) {
	case nil:
		return nil
	case []byte:
		return v
	case hexutil.Bytes:
		return v
	case string:
		decoded, err := hexutil.Decode(v)
		if err != nil {
			return nil
		}
		return decoded
	default:
		return nil
	}
}

var _ Feed = (*ChainlinkFeed)(nil)
