// voltrader runs the volatility trading system in one of three modes:
// standalone (worker in-process), daemon (supervisor forking workers),
// or worker (one trading process, normally forked by the daemon).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantfisher/voltrader/internal/config"
	"github.com/quantfisher/voltrader/internal/domain"
	"github.com/quantfisher/voltrader/internal/gateway"
	"github.com/quantfisher/voltrader/internal/supervisor"
	"github.com/quantfisher/voltrader/internal/worker"
	"github.com/quantfisher/voltrader/pkg/logger"
)

var (
	strategyConfigPath string
	paperMode          bool
)

var rootCmd = &cobra.Command{
	Use:   "voltrader",
	Short: "Options volatility trading engine",
	Long: `voltrader sells option volatility on Chinese futures exchanges:
signal-driven option selection, Greeks-based risk limits, smart order
execution and crash-safe state snapshots.`,
}

var standaloneCmd = &cobra.Command{
	Use:   "standalone",
	Short: "Run a single worker in-process, without the supervisor",
	RunE:  func(cmd *cobra.Command, args []string) error { return runWorker(cmd.Context()) },
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run one trading process (normally forked by the daemon)",
	RunE:  func(cmd *cobra.Command, args []string) error { return runWorker(cmd.Context()) },
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the supervisor, forking and watching worker processes",
	RunE:  func(cmd *cobra.Command, args []string) error { return runDaemon(cmd.Context()) },
}

func init() {
	rootCmd.PersistentFlags().StringVar(&strategyConfigPath, "config", "", "Strategy YAML path (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVar(&paperMode, "paper", true, "Use the in-process paper broker")
	rootCmd.AddCommand(standaloneCmd, workerCmd, daemonCmd)
}

func runWorker(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	strat, err := config.LoadStrategyConfig(strategyConfigPath)
	if err != nil {
		return err
	}

	log := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Pretty:   cfg.DevMode,
		Strategy: cfg.StrategyName,
		Variant:  cfg.VariantName,
	})
	logger.SetGlobalLogger(log)

	if !paperMode {
		return fmt.Errorf("no live broker binding is built into this binary; run with --paper")
	}
	gw := gateway.NewResilient(paperGateway(strat), log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return worker.New(cfg, strat, gw, log).Run(ctx)
}

func runDaemon(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	strat, err := config.LoadStrategyConfig(strategyConfigPath)
	if err != nil {
		return err
	}

	log := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Pretty:   cfg.DevMode,
		Strategy: cfg.StrategyName,
		Variant:  cfg.VariantName,
	})
	logger.SetGlobalLogger(log)

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot resolve own binary path: %w", err)
	}
	args := []string{"worker", fmt.Sprintf("--paper=%t", paperMode)}
	if strategyConfigPath != "" {
		args = append(args, "--config", strategyConfigPath)
	}
	sup := supervisor.New(strat.Runtime, binary, args, log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			sup.RequestRestart()
		}
	}()

	return sup.Run(ctx)
}

// paperGateway seeds a self-contained market for the configured
// products: two futures per product and an option ladder on the nearer
// one, enough for the full open/close/hedge flow to exercise itself.
func paperGateway(strat config.StrategyConfig) *gateway.Paper {
	now := time.Now()
	var contracts []domain.Contract
	prices := make(map[string]float64)

	for i, product := range strat.Products {
		seed := 3000.0 + float64(i)*1500
		near := now.AddDate(0, 2, 0)
		far := now.AddDate(0, 6, 0)

		nearSym := fmt.Sprintf("%s%02d%02d.SIM", product, near.Year()%100, int(near.Month()))
		farSym := fmt.Sprintf("%s%02d%02d.SIM", product, far.Year()%100, int(far.Month()))
		for _, sym := range []string{nearSym, farSym} {
			contracts = append(contracts, domain.Contract{
				VtSymbol:   sym,
				Symbol:     sym,
				Exchange:   "SIM",
				Product:    product,
				PriceTick:  1,
				Multiplier: 10,
				MinVolume:  1,
			})
			prices[sym] = seed
		}

		expiry := time.Date(near.Year(), near.Month(), 15, 0, 0, 0, 0, time.Local)
		for level := 1; level <= 4; level++ {
			strikeUp := seed * (1 + 0.02*float64(level))
			strikeDn := seed * (1 - 0.02*float64(level))
			call := fmt.Sprintf("%sC%d.SIM", nearSym[:len(nearSym)-4], int(strikeUp))
			put := fmt.Sprintf("%sP%d.SIM", nearSym[:len(nearSym)-4], int(strikeDn))

			contracts = append(contracts, domain.Contract{
				VtSymbol: call, Symbol: call, Exchange: "SIM", Product: product,
				PriceTick: 0.5, Multiplier: 10, MinVolume: 1,
				IsOption: true, OptionType: domain.OptionCall,
				Strike: strikeUp, Underlying: nearSym, Expiry: expiry,
			}, domain.Contract{
				VtSymbol: put, Symbol: put, Exchange: "SIM", Product: product,
				PriceTick: 0.5, Multiplier: 10, MinVolume: 1,
				IsOption: true, OptionType: domain.OptionPut,
				Strike: strikeDn, Underlying: nearSym, Expiry: expiry,
			})
			prices[call] = seed * 0.03 / float64(level)
			prices[put] = seed * 0.03 / float64(level)
		}
	}
	return gateway.NewPaper(contracts, prices, 1_000_000)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
