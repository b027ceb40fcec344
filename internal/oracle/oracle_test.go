package oracle

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/shopspring/decimal"
)

func TestReadHealthy(t *testing.T) {
	now := time.Now().UTC()
	feed := &StaticFeed{Price: decimal.RequireFromString("1.001"), UpdatedAt: now.Add(-time.Minute)}

	price, err := Read(context.Background(), feed, time.Hour, now)
	if err != nil {
		t.Fatalf("healthy read should succeed: %v", err)
	}
	if price.Decimal().String() != "1.001" {
		t.Fatalf("unexpected price: %s", price)
	}
}

func TestReadStale(t *testing.T) {
	now := time.Now().UTC()
	feed := &StaticFeed{Price: decimal.NewFromInt(1), UpdatedAt: now.Add(-2 * time.Hour)}

	if _, err := Read(context.Background(), feed, time.Hour, now); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
}

func TestReadNonPositive(t *testing.T) {
	now := time.Now().UTC()
	for _, price := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-1)} {
		feed := &StaticFeed{Price: price, UpdatedAt: now}
		if _, err := Read(context.Background(), feed, time.Hour, now); !errors.Is(err, ErrNonPositivePrice) {
			t.Fatalf("price %s: expected ErrNonPositivePrice, got %v", price, err)
		}
	}
}

func TestReadPropagatesFeedError(t *testing.T) {
	now := time.Now().UTC()
	feed := &StaticFeed{Err: ErrRevertedNoReason}
	if _, err := Read(context.Background(), feed, time.Hour, now); !errors.Is(err, ErrRevertedNoReason) {
		t.Fatalf("expected ErrRevertedNoReason, got %v", err)
	}
}

func TestIsRecoverable(t *testing.T) {
	if !IsRecoverable(ErrStalePrice) || !IsRecoverable(ErrNonPositivePrice) {
		t.Fatal("stale and non-positive answers are market conditions")
	}
	if !IsRecoverable(&RevertError{Reason: "StalePrice()"}) {
		t.Fatal("a revert carrying diagnostics is recoverable")
	}
	if IsRecoverable(ErrRevertedNoReason) {
		t.Fatal("an empty-data revert must never be absorbed")
	}
	if IsRecoverable(errors.New("connection refused")) {
		t.Fatal("transport failures are fatal to the call")
	}
}

// fakeDataError mimics go-ethereum's rpc.DataError for revert payloads.
type fakeDataError struct {
	msg  string
	data interface{}
}

func (e *fakeDataError) Error() string          { return e.msg }
func (e *fakeDataError) ErrorData() interface{} { return e.data }

// encodeRevertReason builds the Error(string) revert payload for reason.
func encodeRevertReason(reason string) []byte {
	selector := []byte{0x08, 0xc3, 0x79, 0xa0}
	payload := make([]byte, 64)
	payload[31] = 0x20
	binary.BigEndian.PutUint64(payload[56:64], uint64(len(reason)))
	padded := make([]byte, (len(reason)+31)/32*32)
	copy(padded, reason)
	out := append([]byte{}, selector...)
	out = append(out, payload...)
	return append(out, padded...)
}

func TestClassifyCallError(t *testing.T) {
	empty := classifyCallError(&fakeDataError{msg: "execution reverted", data: "0x"})
	if !errors.Is(empty, ErrRevertedNoReason) {
		t.Fatalf("empty revert data should classify as ErrRevertedNoReason, got %v", empty)
	}

	withReason := classifyCallError(&fakeDataError{
		msg:  "execution reverted",
		data: encodeRevertReason("price out of range"),
	})
	var re *RevertError
	if !errors.As(withReason, &re) {
		t.Fatalf("expected RevertError, got %v", withReason)
	}
	if re.Reason != "price out of range" {
		t.Fatalf("revert reason not propagated: %q", re.Reason)
	}

	plain := errors.New("dial tcp: connection refused")
	if classifyCallError(plain) != plain {
		t.Fatal("transport errors must pass through unchanged")
	}
}

type fakeCaller struct {
	result []byte
	err    error
}

func (c *fakeCaller) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return c.result, c.err
}

func packRound(answer int64, updatedAt time.Time) []byte {
	out, err := aggregatorABI.Methods["latestRoundData"].Outputs.Pack(
		big.NewInt(1),
		big.NewInt(answer),
		big.NewInt(updatedAt.Unix()),
		big.NewInt(updatedAt.Unix()),
		big.NewInt(1),
	)
	if err != nil {
		panic(err)
	}
	return out
}

func TestChainlinkFeedDecodesRound(t *testing.T) {
	updated := time.Unix(1_700_000_000, 0).UTC()
	caller := &fakeCaller{result: packRound(102_000_000, updated)}

	feed, err := NewChainlinkFeed(ChainlinkOptions{
		Address:  "0x8fFfFfd4AfB6115b954Bd326cbe7B4BA576818f6",
		Decimals: 8,
	}, caller, testLogger())
	if err != nil {
		t.Fatalf("construct feed: %v", err)
	}

	price, updatedAt, err := feed.LatestRound(context.Background())
	if err != nil {
		t.Fatalf("latest round: %v", err)
	}
	if price.Decimal().String() != "1.02" {
		t.Fatalf("unexpected price: %s", price)
	}
	if !updatedAt.Equal(updated) {
		t.Fatalf("unexpected timestamp: %s", updatedAt)
	}
}

func TestChainlinkFeedRejectsBadAddress(t *testing.T) {
	if _, err := NewChainlinkFeed(ChainlinkOptions{}, &fakeCaller{}, testLogger()); err == nil {
		t.Fatal("missing address should be rejected")
	}
	if _, err := NewChainlinkFeed(ChainlinkOptions{Address: "not-an-address"}, &fakeCaller{}, testLogger()); err == nil {
		t.Fatal("malformed address should be rejected")
	}
}
