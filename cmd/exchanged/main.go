package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sangwoo-bae/etherdex/params"
	"github.com/sangwoo-bae/etherdex/pkg/api"
	"github.com/sangwoo-bae/etherdex/pkg/events"
	"github.com/sangwoo-bae/etherdex/pkg/exchange"
	"github.com/sangwoo-bae/etherdex/pkg/projector"
	"github.com/sangwoo-bae/etherdex/pkg/storage"
	"github.com/sangwoo-bae/etherdex/pkg/token"
	"github.com/sangwoo-bae/etherdex/pkg/util"
)

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Devnet defaults; override via env.
var (
	defaultTokenAddr = common.HexToAddress("0xDa99000000000000000000000000000000000000")
	defaultDeployer  = common.HexToAddress("0xDe91000000000000000000000000000000000000")
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- On-chain asset layer ----
	tokens := token.NewRegistry()
	tokenAddr := defaultTokenAddr
	if v := os.Getenv("TOKEN_ADDR"); v != "" {
		tokenAddr = common.HexToAddress(v)
	}
	deployer := defaultDeployer
	if v := os.Getenv("TOKEN_DEPLOYER"); v != "" {
		deployer = common.HexToAddress(v)
	}
	supply := new(big.Int).Mul(big.NewInt(1_000_000), weiPerEther)
	if err := tokens.Register(tokenAddr, "Dapp Token", "DAPP", 18, supply, deployer); err != nil {
		sugar.Fatalw("token_register_failed", "err", err)
	}

	// Genesis native funding for dev accounts (comma-separated hex list)
	if accounts := os.Getenv("GENESIS_ACCOUNTS"); accounts != "" {
		grant := new(big.Int).Mul(big.NewInt(100), weiPerEther)
		for _, a := range strings.Split(accounts, ",") {
			tokens.CreditNative(common.HexToAddress(strings.TrimSpace(a)), grant)
		}
	}

	// ---- Event log (durable) ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "events.db"))
	if err != nil {
		sugar.Fatalw("open_event_store_failed", "err", err)
	}
	defer store.Close()

	elog, err := events.NewLog(store)
	if err != nil {
		sugar.Fatalw("restore_event_log_failed", "err", err)
	}
	sugar.Infow("event_log_restored", "events", elog.Len())

	// ---- Ledger ----
	ledger, err := exchange.NewLedger(exchange.Config{
		FeeRecipient: cfg.Exchange.FeeRecipient,
		FeePercent:   cfg.Exchange.FeePercent,
	}, tokens, elog, util.RealClock{}, logger)
	if err != nil {
		sugar.Fatalw("ledger_init_failed", "err", err)
	}
	sugar.Infow("ledger_initialized",
		"fee_recipient", ledger.FeeRecipient().Hex(),
		"fee_percent", ledger.FeePercent(),
		"token", tokenAddr.Hex(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Projector: full replay from genesis, then live tail ----
	proj := projector.New(logger)
	go proj.Run(ctx, elog)

	// ---- API ----
	srv := api.NewServer(ledger, proj, elog, logger)
	if err := srv.Start(ctx, cfg.API.Addr, cfg.API.CORSOrigins); err != nil {
		sugar.Fatalw("api_server_failed", "err", err)
	}
	sugar.Infow("shutdown_complete")
}
