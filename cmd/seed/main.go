// Command seed populates a fresh exchange with demo activity: funded
// accounts, deposits on both sides, a cancelled order, a run of filled
// orders spread over several hours, and an open book with orders on
// both sides. Run it against an empty data dir before starting the
// node, or point DATA_DIR elsewhere for a throwaway ledger.
package main

import (
	"log"
	"math/big"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sangwoo-bae/etherdex/params"
	"github.com/sangwoo-bae/etherdex/pkg/events"
	"github.com/sangwoo-bae/etherdex/pkg/exchange"
	"github.com/sangwoo-bae/etherdex/pkg/projector"
	"github.com/sangwoo-bae/etherdex/pkg/storage"
	"github.com/sangwoo-bae/etherdex/pkg/token"
	"github.com/sangwoo-bae/etherdex/pkg/util"
)

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), weiPerEther)
}

// tokens and ether share 18 decimals
var tokensOf = ether

// milliEther returns n/1000 ether.
func milliEther(n int64) *big.Int {
	out := new(big.Int).Mul(big.NewInt(n), weiPerEther)
	return out.Div(out, big.NewInt(1000))
}

var (
	tokenAddr = common.HexToAddress("0xDa99000000000000000000000000000000000000")
	user1     = common.HexToAddress("0xA100000000000000000000000000000000000000")
	user2     = common.HexToAddress("0xB200000000000000000000000000000000000000")
)

func main() {
	cfg := params.LoadFromEnv("")
	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	// Deterministic event times, one hour apart where it matters, so
	// the candle chart has several buckets to show.
	clock := util.NewManualClock(time.Now().Add(-24 * time.Hour).Truncate(time.Hour))

	registry := token.NewRegistry()
	supply := new(big.Int).Mul(big.NewInt(1_000_000), weiPerEther)
	if err := registry.Register(tokenAddr, "Dapp Token", "DAPP", 18, supply, user1); err != nil {
		sugar.Fatalw("register_token_failed", "err", err)
	}
	registry.CreditNative(user1, ether(100))
	registry.CreditNative(user2, ether(100))

	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "events.db"))
	if err != nil {
		sugar.Fatalw("open_event_store_failed", "err", err)
	}
	defer store.Close()
	elog, err := events.NewLog(store)
	if err != nil {
		sugar.Fatalw("restore_event_log_failed", "err", err)
	}
	if n := elog.Len(); n > 0 {
		sugar.Fatalw("data_dir_not_empty", "events", n)
	}

	ledger, err := exchange.NewLedger(exchange.Config{
		FeeRecipient: cfg.Exchange.FeeRecipient,
		FeePercent:   cfg.Exchange.FeePercent,
	}, registry, elog, clock, logger)
	if err != nil {
		sugar.Fatalw("ledger_init_failed", "err", err)
	}

	seed(sugar, ledger, registry, clock)

	// Rebuild the views from the log we just wrote, as the node will
	// on startup, and report what a UI would see.
	proj := projector.New(logger)
	proj.Replay(elog.Range(0, elog.Len()))

	sugar.Infow("seed_complete",
		"events", elog.Len(),
		"open_orders", len(proj.OpenOrders()),
		"trades", len(proj.TradeHistory()),
		"candles", len(proj.Candles()),
		"user1_token_balance", proj.Balance(tokenAddr, user1).String(),
		"user2_ether_balance", proj.Balance(common.Address{}, user2).String(),
	)
}

func seed(sugar *zap.SugaredLogger, ledger *exchange.Ledger, registry *token.Registry, clock *util.ManualClock) {
	must := func(err error) {
		if err != nil {
			sugar.Fatalw("seed_step_failed", "err", err)
		}
	}

	// Give user2 tokens to trade with
	must(registry.Transfer(tokenAddr, user1, user2, tokensOf(10_000)))

	// Both sides deposit
	must(ledger.DepositNative(user1, ether(1), ether(1)))
	must(registry.Approve(tokenAddr, user2, ledger.Custody(), tokensOf(10_000)))
	must(ledger.DepositToken(tokenAddr, user2, tokensOf(10_000)))

	// A made-then-cancelled order
	id, err := ledger.MakeOrder(user1, tokenAddr, tokensOf(100), exchange.NativeAsset, milliEther(100))
	must(err)
	must(ledger.CancelOrder(user1, id))

	// Three fills, an hour apart, at slightly different prices
	for _, give := range []int64{100, 120, 90} { // milli-ether for 100 tokens
		clock.Advance(time.Hour)
		id, err := ledger.MakeOrder(user1, tokenAddr, tokensOf(100), exchange.NativeAsset, milliEther(give))
		must(err)
		must(ledger.FillOrder(user2, id))
	}

	// Open book: five buys from user1, five sells from user2
	for i := int64(1); i <= 5; i++ {
		clock.Advance(time.Minute)
		_, err := ledger.MakeOrder(user1, tokenAddr, tokensOf(10*i), exchange.NativeAsset, milliEther(10))
		must(err)
	}
	for i := int64(1); i <= 5; i++ {
		clock.Advance(time.Minute)
		_, err := ledger.MakeOrder(user2, exchange.NativeAsset, milliEther(10), tokenAddr, tokensOf(10*i))
		must(err)
	}
}
