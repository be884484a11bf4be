package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Joe-Swanson828/prediction-bot/internal/composite"
	"github.com/Joe-Swanson828/prediction-bot/internal/config"
)

const defaultConfigPath = "configs/bot.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := config.Load(defaultConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== Prediction Bot Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit bankroll and risk knobs")
		fmt.Println("3) Edit signal weights")
		fmt.Println("4) Edit tracked markets")
		fmt.Println("5) Save config")
		fmt.Println("6) Launch bot")
		fmt.Println("7) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		switch strings.TrimSpace(input) {
		case "1":
			printSummary(cfg)
		case "2":
			editRisk(reader, cfg)
		case "3":
			editWeights(reader, cfg)
		case "4":
			editMarkets(reader, cfg)
		case "5":
			if err := config.Save(defaultConfigPath, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "6":
			launchBot(reader)
		case "7":
			reloaded, err := config.Load(defaultConfigPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Mode: %s | feed: %s\n", cfg.Trading.Mode, cfg.Feed.Provider)
	fmt.Printf("Starting cash: $%.2f\n", cfg.Trading.StartingCash)
	fmt.Printf("Score threshold: %.0f | agreement: %s\n", cfg.Trading.ScoreThreshold, cfg.Trading.AgreementPolicy)
	fmt.Printf("Position sizing: %.0f%%-%.0f%% of balance\n", cfg.Risk.MinFraction*100, cfg.Risk.MaxFraction*100)
	fmt.Printf("Max positions: %d | exposure cap: %.0f%% | cash reserve: %.0f%%\n",
		cfg.Risk.MaxPositions, cfg.Risk.MaxExposure*100, cfg.Risk.CashReserve*100)
	fmt.Printf("Stop loss: %.0f%% | take profit: %.0f%%\n", cfg.Risk.StopLossPct*100, cfg.Risk.TakeProfitPct*100)
	for name, triple := range cfg.Weights {
		fmt.Printf("Weights %-8s ta=%.2f sentiment=%.2f speed=%.2f\n", name, triple.TA, triple.Sentiment, triple.Speed)
	}
	fmt.Printf("Tracked markets: %d\n", len(cfg.Markets))
}

func editRisk(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Risk / Bankroll ---")
	cfg.Trading.StartingCash = promptFloat(reader, "Starting cash", cfg.Trading.StartingCash)
	cfg.Trading.ScoreThreshold = promptFloat(reader, "Score threshold", cfg.Trading.ScoreThreshold)
	cfg.Risk.MaxPositions = int(promptFloat(reader, "Max concurrent positions", float64(cfg.Risk.MaxPositions)))
	cfg.Risk.MaxFraction = promptPercent(reader, "Per-trade cap (%)", cfg.Risk.MaxFraction)
	cfg.Risk.MaxExposure = promptPercent(reader, "Total exposure cap (%)", cfg.Risk.MaxExposure)
	cfg.Risk.CashReserve = promptPercent(reader, "Cash reserve (%)", cfg.Risk.CashReserve)
	cfg.Risk.StopLossPct = promptPercent(reader, "Stop loss (%)", cfg.Risk.StopLossPct)
	cfg.Risk.TakeProfitPct = promptPercent(reader, "Take profit (%)", cfg.Risk.TakeProfitPct)
}

func editWeights(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Signal Weights ---")
	fmt.Println("Each category's weights must sum to 1.0.")
	for _, name := range []string{"sports", "crypto", "weather"} {
		triple := cfg.Weights[name]
		fmt.Printf("\n[%s]\n", name)
		edited := composite.Triple{
			TA:        promptFloat(reader, "  TA weight", triple.TA),
			Sentiment: promptFloat(reader, "  Sentiment weight", triple.Sentiment),
			Speed:     promptFloat(reader, "  Speed weight", triple.Speed),
		}
		if sum := edited.Sum(); sum < 0.99 || sum > 1.01 {
			fmt.Printf("  weights sum to %.2f, keeping previous values\n", sum)
			continue
		}
		cfg.Weights[name] = edited
	}
}

func editMarkets(reader *bufio.Reader, cfg *config.Config) {
	for {
		fmt.Println("\n--- Tracked Markets ---")
		for i, m := range cfg.Markets {
			fmt.Printf("%d) %-22s %-10s %-8s %s\n", i+1, m.ID, m.Exchange, m.Category, m.Title)
		}
		fmt.Println("a) Add market   r) Remove market   b) Back")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		switch strings.TrimSpace(input) {
		case "a":
			seed := config.MarketSeed{
				Exchange: promptString(reader, "Exchange", "kalshi"),
				Ticker:   promptString(reader, "Ticker", ""),
				Title:    promptString(reader, "Title", ""),
				Category: promptString(reader, "Category (sports/crypto/weather)", "sports"),
			}
			if seed.Ticker == "" {
				fmt.Println("ticker is required, market not added")
				continue
			}
			seed.ID = seed.Exchange + ":" + seed.Ticker
			cfg.Markets = append(cfg.Markets, seed)
		case "r":
			idx := int(promptFloat(reader, "Market number to remove", 0))
			if idx < 1 || idx > len(cfg.Markets) {
				fmt.Println("no such market")
				continue
			}
			cfg.Markets = append(cfg.Markets[:idx-1], cfg.Markets[idx:]...)
		case "b":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func launchBot(reader *bufio.Reader) {
	fmt.Println("Launching bot (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/bot", "-config", defaultConfigPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start bot: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop the bot and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func promptPercent(reader *bufio.Reader, label string, current float64) float64 {
	return promptFloat(reader, label, current*100) / 100
}

func promptString(reader *bufio.Reader, label, current string) string {
	fmt.Printf("%s [%s]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	return line
}
