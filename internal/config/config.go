package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/you/flash-bot/internal/types"
	"gopkg.in/yaml.v3"
)

// Token is an ERC-20 the bot can quote or borrow.
type Token struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int    `yaml:"decimals"`
}

// Asset is one entry of the tradeable menu.
type Asset = Token

type ChainCfg struct {
	RPCEndpoints          []string `yaml:"rpc_endpoints"`
	WalletPK              string   `yaml:"wallet_pk"`
	Treasury              string   `yaml:"treasury"`
	NativeUSDPrice        float64  `yaml:"native_usd_price"`
	MinGasNative          float64  `yaml:"min_gas_native"`
	GasLimitFlash         uint64   `yaml:"gas_limit_flash"`
	GasLimitTransfer      uint64   `yaml:"gas_limit_transfer"`
	GasLimitWithdraw      uint64   `yaml:"gas_limit_withdraw"`
	WithdrawReserveNative *float64 `yaml:"withdraw_reserve_native"`
	ConfirmTimeoutMs      int      `yaml:"confirm_timeout_ms"`
	RPCTimeoutMs          int      `yaml:"rpc_timeout_ms"`
}

type FlashLoanCfg struct {
	Contract     string `yaml:"contract"`
	FeeRecipient string `yaml:"fee_recipient"`
}

type DEXCfg struct {
	QuoteToken Token    `yaml:"quote_token"`
	QuoterV2   string   `yaml:"quoter_v2"`
	Factory    string   `yaml:"factory"`
	Multicall  string   `yaml:"multicall"`
	FeeTiers   []uint32 `yaml:"fee_tiers"`
}

type StrategyCfg struct {
	Kind      string  `yaml:"kind"`
	SimMinBps float64 `yaml:"sim_min_bps"`
	SimMaxBps float64 `yaml:"sim_max_bps"`
	Seed      uint64  `yaml:"seed"`
}

type Config struct {
	Mode       types.Mode `yaml:"mode"`
	ListenAddr string     `yaml:"listen_addr"`

	Chain     ChainCfg     `yaml:"chain"`
	FlashLoan FlashLoanCfg `yaml:"flashloan"`
	DEX       DEXCfg       `yaml:"dex"`
	Strategy  StrategyCfg  `yaml:"strategy"`
	Menu      []Asset      `yaml:"menu"`

	Trade struct {
		FlashAmount float64 `yaml:"flash_amount"`
	} `yaml:"trade"`

	Risk struct {
		MinProfitUSD *float64 `yaml:"min_profit_usd"`
		MaxGasUSD    float64  `yaml:"max_gas_usd"`
	} `yaml:"risk"`

	Recycle struct {
		Enabled  *bool   `yaml:"enabled"`
		FloorUSD float64 `yaml:"floor_usd"`
		Fraction float64 `yaml:"fraction"`
		CapUSD   float64 `yaml:"cap_usd"`
	} `yaml:"recycle"`

	Withdraw struct {
		Source string `yaml:"source"` // treasury | contract
	} `yaml:"withdraw"`

	Engine struct {
		Autostart *bool `yaml:"autostart"`
	} `yaml:"engine"`

	Timings struct {
		TickIntervalMs    int `yaml:"tick_interval_ms"`
		RecycleIntervalMs int `yaml:"recycle_interval_ms"`
	} `yaml:"timings"`

	API struct {
		PushIntervalMs int `yaml:"push_interval_ms"`
	} `yaml:"api"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Redis struct {
		Addr        string `yaml:"addr"`
		DB          int    `yaml:"db"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		Stream      string `yaml:"stream"`
		SnapshotKey string `yaml:"snapshot_key"`
		MaxLen      int64  `yaml:"max_len"`
	} `yaml:"redis"`

	Log struct {
		Level    string `yaml:"level"`
		Encoding string `yaml:"encoding"`
	} `yaml:"log"`
}

// Load reads the YAML file at path, applies environment overrides (an optional
// .env is loaded first) and fills defaults. It does not validate.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	_ = godotenv.Load()
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TREASURY_PRIVATE_KEY"); v != "" {
		c.Chain.WalletPK = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.ListenAddr = ":" + v
	}
	if v := os.Getenv("RPC_ENDPOINTS"); v != "" {
		var eps []string
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				eps = append(eps, e)
			}
		}
		c.Chain.RPCEndpoints = eps
	}
	if v := os.Getenv("FLASH_MODE"); v != "" {
		c.Mode = types.Mode(strings.ToLower(v))
	}
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = types.ModeSimulation
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":3000"
	}
	if c.Chain.NativeUSDPrice == 0 {
		c.Chain.NativeUSDPrice = 3450
	}
	if c.Chain.MinGasNative == 0 {
		c.Chain.MinGasNative = 0.01
	}
	if c.Chain.GasLimitFlash == 0 {
		c.Chain.GasLimitFlash = 900_000
	}
	if c.Chain.GasLimitTransfer == 0 {
		c.Chain.GasLimitTransfer = 21_000
	}
	if c.Chain.GasLimitWithdraw == 0 {
		c.Chain.GasLimitWithdraw = 100_000
	}
	if c.Chain.WithdrawReserveNative == nil {
		v := 0.002
		c.Chain.WithdrawReserveNative = &v
	}
	if c.Chain.ConfirmTimeoutMs == 0 {
		c.Chain.ConfirmTimeoutMs = 90_000
	}
	if c.Chain.RPCTimeoutMs == 0 {
		c.Chain.RPCTimeoutMs = 10_000
	}
	if c.FlashLoan.FeeRecipient == "" {
		c.FlashLoan.FeeRecipient = "0x4024Fd78E2AD5532FBF3ec2B3eC83870FAe45fC7"
	}
	if c.DEX.QuoteToken.Symbol == "" {
		c.DEX.QuoteToken.Symbol = "USDC"
	}
	if c.DEX.QuoteToken.Decimals == 0 {
		c.DEX.QuoteToken.Decimals = 6
	}
	if c.DEX.Factory == "" {
		c.DEX.Factory = "0x1F98431c8aD98523631AE4a59f267346ea31F984"
	}
	if len(c.DEX.FeeTiers) == 0 {
		c.DEX.FeeTiers = []uint32{500, 3000, 10000}
	}
	if c.Strategy.Kind == "" {
		if c.Mode == types.ModeChain {
			c.Strategy.Kind = "onchain_quote"
		} else {
			c.Strategy.Kind = "simulated"
		}
	}
	if c.Strategy.SimMinBps == 0 && c.Strategy.SimMaxBps == 0 {
		c.Strategy.SimMinBps, c.Strategy.SimMaxBps = 20, 50
	}
	if len(c.Menu) == 0 {
		for _, s := range []string{"PEPE", "SHIB", "DOGE", "FLOKI", "BONK", "WIF", "MEME", "TURBO"} {
			c.Menu = append(c.Menu, Asset{Symbol: s, Decimals: 18})
		}
	}
	if c.Trade.FlashAmount == 0 {
		c.Trade.FlashAmount = 100_000
	}
	if c.Risk.MinProfitUSD == nil {
		v := 5.0
		c.Risk.MinProfitUSD = &v
	}
	if c.Recycle.Enabled == nil {
		on := true
		c.Recycle.Enabled = &on
	}
	if c.Recycle.FloorUSD == 0 {
		c.Recycle.FloorUSD = 35
	}
	if c.Recycle.Fraction == 0 {
		c.Recycle.Fraction = 0.1
	}
	if c.Recycle.CapUSD == 0 {
		c.Recycle.CapUSD = 100
	}
	if c.Withdraw.Source == "" {
		c.Withdraw.Source = "treasury"
	}
	if c.Engine.Autostart == nil {
		on := true
		c.Engine.Autostart = &on
	}
	if c.Timings.TickIntervalMs == 0 {
		c.Timings.TickIntervalMs = 1000
	}
	if c.Timings.RecycleIntervalMs == 0 {
		c.Timings.RecycleIntervalMs = 30_000
	}
	if c.API.PushIntervalMs == 0 {
		c.API.PushIntervalMs = 1000
	}
	switch c.Metrics.ListenAddr {
	case "":
		c.Metrics.ListenAddr = ":9100"
	case "off":
		c.Metrics.ListenAddr = ""
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "flash:trades"
	}
	if c.Redis.SnapshotKey == "" {
		c.Redis.SnapshotKey = "flash:ledger"
	}
	if c.Redis.MaxLen == 0 {
		c.Redis.MaxLen = 10_000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Encoding == "" {
		c.Log.Encoding = "json"
	}
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case types.ModeSimulation, types.ModeChain:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	switch c.Strategy.Kind {
	case "simulated":
		if c.Strategy.SimMinBps < 0 || c.Strategy.SimMaxBps < c.Strategy.SimMinBps {
			errs = append(errs, errors.New("strategy: sim_max_bps must be >= sim_min_bps >= 0"))
		}
	case "onchain_quote":
		if c.DEX.QuoterV2 == "" || c.DEX.Multicall == "" || c.DEX.QuoteToken.Address == "" {
			errs = append(errs, errors.New("dex: quoter_v2, multicall and quote_token.address are required for onchain_quote"))
		}
		for _, a := range c.Menu {
			if a.Address == "" {
				errs = append(errs, fmt.Errorf("menu: %s has no address", a.Symbol))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("unknown strategy kind %q", c.Strategy.Kind))
	}
	if len(c.Chain.RPCEndpoints) == 0 {
		errs = append(errs, errors.New("chain: rpc_endpoints is empty"))
	}
	if c.Chain.WalletPK == "" && c.Chain.Treasury == "" {
		errs = append(errs, errors.New("chain: wallet_pk or treasury is required"))
	}
	if c.Mode == types.ModeChain {
		if c.Chain.WalletPK == "" {
			errs = append(errs, errors.New("chain: wallet_pk is required in chain mode"))
		}
		if c.FlashLoan.Contract == "" {
			errs = append(errs, errors.New("flashloan: contract is required in chain mode"))
		}
	}
	if c.MinProfit() < 0 {
		errs = append(errs, errors.New("risk: min_profit_usd must be >= 0"))
	}
	if c.WithdrawReserve() < 0 {
		errs = append(errs, errors.New("chain: withdraw_reserve_native must be >= 0"))
	}
	if c.Recycle.Fraction <= 0 || c.Recycle.Fraction > 1 {
		errs = append(errs, fmt.Errorf("recycle: fraction %v must be in (0, 1]", c.Recycle.Fraction))
	}
	if c.Withdraw.Source != "treasury" && c.Withdraw.Source != "contract" {
		errs = append(errs, fmt.Errorf("withdraw: unknown source %q", c.Withdraw.Source))
	}
	if len(c.Menu) == 0 {
		errs = append(errs, errors.New("menu is empty"))
	}
	return errors.Join(errs...)
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Timings.TickIntervalMs) * time.Millisecond
}
func (c *Config) RecycleInterval() time.Duration {
	return time.Duration(c.Timings.RecycleIntervalMs) * time.Millisecond
}
func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.Chain.ConfirmTimeoutMs) * time.Millisecond
}
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.Chain.RPCTimeoutMs) * time.Millisecond
}
func (c *Config) PushInterval() time.Duration {
	return time.Duration(c.API.PushIntervalMs) * time.Millisecond
}

// MinProfit is the profit threshold in USD; an explicit 0 is kept.
func (c *Config) MinProfit() float64 {
	if c.Risk.MinProfitUSD == nil {
		return 0
	}
	return *c.Risk.MinProfitUSD
}

// WithdrawReserve is the native balance a treasury withdraw leaves behind.
func (c *Config) WithdrawReserve() float64 {
	if c.Chain.WithdrawReserveNative == nil {
		return 0
	}
	return *c.Chain.WithdrawReserveNative
}

func (c *Config) RecycleEnabled() bool { return c.Recycle.Enabled == nil || *c.Recycle.Enabled }
func (c *Config) Autostart() bool      { return c.Engine.Autostart == nil || *c.Engine.Autostart }

// Default returns a config with every default filled in and nothing else set.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}
