package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type fakeCaller struct {
	results [][]byte
	err     error
	calls   int
}

func (c *fakeCaller) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	res := c.results[c.calls%len(c.results)]
	c.calls++
	return res, nil
}

func TestClientRequiresRPCURL(t *testing.T) {
	client := NewClient(ClientOptions{}, testLogger())
	if _, err := client.CallContract(context.Background(), ethereum.CallMsg{}, nil); err == nil {
		t.Fatal("missing rpc url should be rejected")
	}
}

func TestERC4626ReaderValidation(t *testing.T) {
	if _, err := NewERC4626Reader(ERC4626Options{}, &fakeCaller{}, testLogger()); err == nil {
		t.Fatal("missing vault address should be rejected")
	}
	if _, err := NewERC4626Reader(ERC4626Options{VaultAddress: "bogus"}, &fakeCaller{}, testLogger()); err == nil {
		t.Fatal("malformed vault address should be rejected")
	}
}

func TestERC4626ReaderDecodesRate(t *testing.T) {
	// 1 share redeems 1.05 assets at 6 asset decimals.
	assets := big.NewInt(1_050_000)
	out, err := erc4626ABI.Methods["convertToAssets"].Outputs.Pack(assets)
	if err != nil {
		t.Fatalf("pack output: %v", err)
	}

	reader, err := NewERC4626Reader(ERC4626Options{
		VaultAddress:  "0x83F20F44975D03b1b09e64809B757c47f942BEeA",
		ShareDecimals: 18,
		AssetDecimals: 6,
	}, &fakeCaller{results: [][]byte{out}}, testLogger())
	if err != nil {
		t.Fatalf("construct reader: %v", err)
	}

	rate, err := reader.RefPerTok(context.Background())
	if err != nil {
		t.Fatalf("read rate: %v", err)
	}
	if rate.Decimal().String() != "1.05" {
		t.Fatalf("unexpected rate: %s", rate)
	}
}

func TestPairReaderDecodesState(t *testing.T) {
	reserves, err := pairABI.Methods["getReserves"].Outputs.Pack(
		big.NewInt(4_000_000), // 4.0 at 6 decimals
		new(big.Int).Mul(big.NewInt(9), big.NewInt(1e18)),
		uint32(0),
	)
	if err != nil {
		t.Fatalf("pack reserves: %v", err)
	}
	supply, err := pairABI.Methods["totalSupply"].Outputs.Pack(new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)))
	if err != nil {
		t.Fatalf("pack supply: %v", err)
	}

	reader, err := NewPairReader(PairOptions{
		PairAddress:    "0x3041CbD36888bECc7bbCBc0045E3B1f144466f5f",
		Token0Decimals: 6,
		Token1Decimals: 18,
	}, &fakeCaller{results: [][]byte{reserves, supply}}, testLogger())
	if err != nil {
		t.Fatalf("construct reader: %v", err)
	}

	state, err := reader.PoolState(context.Background())
	if err != nil {
		t.Fatalf("read pool state: %v", err)
	}
	if state.Reserve0.Decimal().String() != "4" {
		t.Fatalf("unexpected reserve0: %s", state.Reserve0)
	}
	if state.Reserve1.Decimal().String() != "9" {
		t.Fatalf("unexpected reserve1: %s", state.Reserve1)
	}
	if state.TotalSupply.Decimal().String() != "2" {
		t.Fatalf("unexpected supply: %s", state.TotalSupply)
	}
}

func TestRewardReaderEarned(t *testing.T) {
	out, err := rewardsABI.Methods["earned"].Outputs.Pack(big.NewInt(0))
	if err != nil {
		t.Fatalf("pack output: %v", err)
	}

	reader, err := NewRewardReader(RewardOptions{
		ProgramAddress: "0xd533a949740bb3306d119CC777fa900bA034cd52",
		RewardToken:    "0xD533a949740bb3306d119CC777fa900bA034cd52",
		Holder:         "0x0000000000000000000000000000000000000001",
	}, &fakeCaller{results: [][]byte{out}}, testLogger())
	if err != nil {
		t.Fatalf("construct reader: %v", err)
	}

	amount, err := reader.Earned(context.Background())
	if err != nil {
		t.Fatalf("read earned: %v", err)
	}
	if amount.Sign() != 0 {
		t.Fatalf("expected zero accrual, got %s", amount)
	}
}

func TestRewardReaderValidation(t *testing.T) {
	if _, err := NewRewardReader(RewardOptions{RewardToken: "0x1", Holder: "0x2"}, &fakeCaller{}, testLogger()); err == nil {
		t.Fatal("missing program address should be rejected")
	}
}
