package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Exchange struct {
	// FeeRecipient is credited with the fee portion of every fill.
	// Immutable after ledger construction.
	FeeRecipient common.Address
	// FeePercent is an integer percentage (0-100) charged in tokenGet
	// on top of the filler's debit.
	FeePercent int64
}

type API struct {
	Addr        string
	CORSOrigins []string
}

type Node struct {
	DataDir string
	LogFile string
}

type Config struct {
	Exchange Exchange
	API      API
	Node     Node
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			FeeRecipient: common.HexToAddress("0xFEE0000000000000000000000000000000000000"),
			FeePercent:   2,
		},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Node: Node{
			DataDir: "data",
			LogFile: "data/exchanged.log",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// .env file is optional
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if fee := os.Getenv("FEE_RECIPIENT"); fee != "" {
		cfg.Exchange.FeeRecipient = common.HexToAddress(fee)
	}
	if pct := os.Getenv("FEE_PERCENT"); pct != "" {
		if n, err := strconv.ParseInt(pct, 10, 64); err == nil && n >= 0 && n <= 100 {
			cfg.Exchange.FeePercent = n
		}
	}
	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.API.Addr = addr
	}
	if origins := os.Getenv("API_CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = strings.Split(origins, ",")
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Node.DataDir = dir
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		cfg.Node.LogFile = file
	}

	return cfg
}
