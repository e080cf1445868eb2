package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"mmbot/internal/config"
	"mmbot/internal/exchange"
	"mmbot/internal/logging"
	"mmbot/internal/strategy"

	"go.uber.org/zap"
)

type report struct {
	Symbol     string                 `json:"symbol"`
	Signing    string                 `json:"signing"`
	Price      float64                `json:"price"`
	PriceError string                 `json:"price_error,omitempty"`
	Bid        float64                `json:"bid"`
	Ask        float64                `json:"ask"`
	BaseAsset  string                 `json:"base_asset"`
	QuoteAsset string                 `json:"quote_asset"`
	Balances   map[string]float64     `json:"balances,omitempty"`
	Affordable map[string]bool        `json:"affordable,omitempty"`
	OpenOrders []exchange.OpenOrder   `json:"open_orders"`
	Cancel     *exchange.CancelReport `json:"cancel,omitempty"`
}

// verify checks credentials and signing against the configured exchange
// without placing orders.
func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	envPath := flag.String("env", ".env", "path to .env file")
	cancelAll := flag.Bool("cancel", false, "cancel every open order for the symbol after listing")
	flag.Parse()

	if err := config.LoadEnv(*envPath); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	client, err := exchange.NewClient(exchange.Options{
		BaseURL:           cfg.REST.BaseURL,
		Timeout:           cfg.REST.Timeout,
		Scheme:            exchange.Scheme(cfg.Exchange.Signing),
		APIKey:            cfg.Exchange.APIKey,
		APISecret:         cfg.Exchange.APISecret,
		Symbol:            cfg.Market.Symbol,
		PriceField:        cfg.Exchange.PriceField,
		RequestsPerSecond: cfg.REST.MaxRequestsPerSecond,
		Paths: exchange.Paths{
			Ticker:       cfg.Exchange.Paths.Ticker,
			Account:      cfg.Exchange.Paths.Account,
			Order:        cfg.Exchange.Paths.Order,
			OpenOrders:   cfg.Exchange.Paths.OpenOrders,
			Cancel:       cfg.Exchange.Paths.Cancel,
			CancelMethod: cfg.Exchange.Paths.CancelMethod,
		},
	}, log)
	if err != nil {
		fatal(err)
	}
	base, quote, err := strategy.SplitSymbol(cfg.Market)
	if err != nil {
		fatal(err)
	}
	q, err := strategy.ComputeQuote(cfg.Strategy.TargetPrice, cfg.Strategy.SpreadFraction, cfg.Strategy.PriceFloor, cfg.Strategy.PriceCeil)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out := report{
		Symbol:     cfg.Market.Symbol,
		Signing:    cfg.Exchange.Signing,
		Bid:        q.Bid,
		Ask:        q.Ask,
		BaseAsset:  base,
		QuoteAsset: quote,
	}
	if price, err := client.Price(ctx); err != nil {
		out.PriceError = err.Error()
	} else {
		out.Price = price
	}
	balances, err := client.Balances(ctx)
	if err != nil {
		fatal(fmt.Errorf("signed account request failed: %w", err))
	}
	out.Balances = map[string]float64{base: 0, quote: 0}
	for _, b := range balances {
		if b.Asset == base || b.Asset == quote {
			out.Balances[b.Asset] = b.Free
		}
	}
	out.Affordable = map[string]bool{
		string(exchange.SideBuy):  strategy.CanBuy(out.Balances[quote], q, cfg.Strategy.OrderSize),
		string(exchange.SideSell): strategy.CanSell(out.Balances[base], cfg.Strategy.OrderSize),
	}
	orders, err := client.OpenOrders(ctx)
	if err != nil {
		fatal(fmt.Errorf("signed open orders request failed: %w", err))
	}
	out.OpenOrders = orders
	if *cancelAll {
		r := client.CancelAllOpenOrders(ctx)
		out.Cancel = &r
		log.Info("cancel pass complete", zap.Int("cancelled", r.Cancelled), zap.Int("failed", r.Failed))
	}

	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(pretty))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
