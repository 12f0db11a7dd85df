// Command quote-check inspects the configured menu against Uniswap V3: which
// fee tiers have a pool against the quote token, whether the configured
// decimals match the token, and how the estimation strategy ranks the menu.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/you/flash-bot/internal/chain"
	"github.com/you/flash-bot/internal/config"
	"github.com/you/flash-bot/internal/dex/univ3"
	"github.com/you/flash-bot/internal/evaluator"
	"github.com/you/flash-bot/internal/multicall"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config")
	tiersStr := flag.String("tiers", "100,500,3000,10000", "fee tiers to test, comma-separated")
	limit := flag.Int("limit", 0, "check only the first N menu entries")
	rank := flag.Bool("rank", true, "run one evaluation round and print the ranking")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fail("load config: %v", err)
	}
	if len(cfg.Chain.RPCEndpoints) == 0 {
		fail("chain.rpc_endpoints is empty")
	}
	quote := common.HexToAddress(cfg.DEX.QuoteToken.Address)
	if quote == (common.Address{}) {
		fail("dex.quote_token.address is empty")
	}

	tiers := parseTiers(*tiersStr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	url := cfg.Chain.RPCEndpoints[0]
	rpc, err := chain.Dial(ctx, url, chain.NodeOptions{}, zap.NewNop())
	if err != nil {
		fail("%v", err)
	}
	defer rpc.Close()

	mc, err := multicall.New(rpc, common.HexToAddress(cfg.DEX.Multicall))
	if err != nil {
		fail("multicall: %v", err)
	}

	menu := cfg.Menu
	if *limit > 0 && *limit < len(menu) {
		menu = menu[:*limit]
	}

	fmt.Printf("RPC: %s\n", url)
	fmt.Printf("%s: %s\n", cfg.DEX.QuoteToken.Symbol, quote.Hex())
	fmt.Printf("Testing tiers: %v\n\n", tiers)

	mismatches, err := univ3.CheckDecimals(ctx, mc, append([]config.Token{cfg.DEX.QuoteToken}, menu...))
	if err != nil {
		fmt.Printf("decimals check: %v\n", err)
	}
	for _, m := range mismatches {
		fmt.Printf("decimals mismatch %s\n", m)
	}

	factory := common.HexToAddress(cfg.DEX.Factory)
	for _, a := range menu {
		if a.Address == "" {
			fmt.Printf("%-10s no address configured\n", a.Symbol)
			continue
		}
		base := common.HexToAddress(a.Address)
		present, pools, err := univ3.AvailableFeeTiers(ctx, mc, factory, base, quote, tiers)
		if err != nil {
			fmt.Printf("%-10s error: %v\n", a.Symbol, err)
			continue
		}
		if len(present) == 0 {
			fmt.Printf("%-10s no pools on given tiers\n", a.Symbol)
			continue
		}
		fmt.Printf("%-10s tiers: %v", a.Symbol, present)
		for _, f := range present {
			fmt.Printf("  [fee=%d] %s", f, pools[f].Hex())
		}
		fmt.Println()
	}

	if !*rank {
		return
	}
	q, err := univ3.NewMultiQuoter(mc, common.HexToAddress(cfg.DEX.QuoterV2), zap.NewNop())
	if err != nil {
		fail("quoter: %v", err)
	}
	ev := evaluator.New(evaluator.NewOnChainQuote(q, rpc, cfg), zap.NewNop())
	amount := decimal.NewFromFloat(cfg.Trade.FlashAmount)
	cands, err := ev.Evaluate(ctx, menu, amount)
	if err != nil {
		fail("evaluate: %v", err)
	}
	fmt.Printf("\nRanking for %s %s:\n", amount.String(), cfg.DEX.QuoteToken.Symbol)
	for i, c := range cands {
		fmt.Printf("%2d. %-10s %s USD\n", i+1, c.AssetID, c.EstimatedProfit.StringFixed(4))
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func parseTiers(s string) []uint32 {
	parts := strings.Split(s, ",")
	var out []uint32
	for _, p := range parts {
		p = strings.TrimSpace(p)
		var v uint32
		fmt.Sscanf(p, "%d", &v)
		if v > 0 {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		out = []uint32{100, 500, 3000, 10000}
	}
	return out
}
