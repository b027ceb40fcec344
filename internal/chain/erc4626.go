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

const erc4626ABIJSON = `[{"inputs":[{"internalType":"uint256","name":"shares","type":"uint256"}],"name":"convertToAssets","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var erc4626ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc4626ABIJSON))
	if err != nil {
		panic("failed to parse ERC-4626 ABI: " + err.Error())
	}
	erc4626ABI = parsed
}

// ERC4626Options parameterise a wrapped-yield rate reader.
type ERC4626Options struct {
	VaultAddress  string
	ShareDecimals uint8
	AssetDecimals uint8
}

// ERC4626Reader reads the reference units redeemable per share of an
// ERC-4626 vault. The rate grows as yield accrues; a decrease means the
// underlying claim itself lost value.
type ERC4626Reader struct {
	addr          common.Address
	shareDecimals uint8
	assetDecimals uint8
	caller        ethereum.ContractCaller
	logger        zerolog.Logger
}

// NewERC4626Reader builds a rate reader for one vault.
func NewERC4626Reader(opts ERC4626Options, caller ethereum.ContractCaller, logger zerolog.Logger) (*ERC4626Reader, error) {
	if opts.VaultAddress == "" {
		return nil, errors.New("chain: vault address not configured")
	}
	if !common.IsHexAddress(opts.VaultAddress) {
		return nil, fmt.Errorf("chain: invalid vault address %q", opts.VaultAddress)
	}
	share := opts.ShareDecimals
	if share == 0 {
		share = 18
	}
	asset := opts.AssetDecimals
	if asset == 0 {
		asset = 18
	}
	return &ERC4626Reader{
		addr:          common.HexToAddress(opts.VaultAddress),
		shareDecimals: share,
		assetDecimals: asset,
		caller:        caller,
		logger:        logger.With().Str("component", "erc4626_reader").Str("vault", opts.VaultAddress).Logger(),
	}, nil
}

// RefPerTok returns the assets redeemable per one whole share.
func (r *ERC4626Reader) RefPerTok(ctx context.Context) (fixedpoint.Fix, error) {
	oneShare := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(r.shareDecimals)), nil)

	payload, err := erc4626ABI.Pack("convertToAssets", oneShare)
	if err != nil {
		return fixedpoint.Fix{}, err
	}

	res, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.addr, Data: payload}, nil)
	if err != nil {
		return fixedpoint.Fix{}, fmt.Errorf("read vault rate: %w", err)
	}

	outputs, err := erc4626ABI.Unpack("convertToAssets", res)
	if err != nil {
		return fixedpoint.Fix{}, fmt.Errorf("decode convertToAssets: %w", err)
	}
	if len(outputs) != 1 {
		return fixedpoint.Fix{}, errors.New("unexpected convertToAssets response")
	}

	assets, ok := outputs[0].(*big.Int)
	if !ok {
		return fixedpoint.Fix{}, errors.New("failed to decode convertToAssets output")
	}

	return fixedpoint.FromScaled(assets, r.assetDecimals), nil
}
