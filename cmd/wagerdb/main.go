package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gapscanner/storage"
	"github.com/web3guy0/gapscanner/types"
)

func main() {
	limit := flag.Int("n", 20, "number of recent wagers to list")
	reset := flag.Bool("reset", false, "drop and recreate the wager table")
	flag.Parse()

	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "data/gapscanner.db"
	}

	fmt.Println("🔌 Connecting to database...")
	db, err := storage.New(dbURL)
	if err != nil {
		fmt.Printf("❌ Connection error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if *reset {
		fmt.Println("\n🧹 RESETTING WAGER TABLE...")
		if err := db.Reset(); err != nil {
			fmt.Printf("  ⚠️ Failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("  ✅ Done")
		return
	}

	stats, err := db.Stats()
	if err != nil {
		fmt.Printf("❌ Query error: %v\n", err)
		os.Exit(1)
	}

	winRate := 0.0
	if resolved := stats.Wins + stats.Losses; resolved > 0 {
		winRate = float64(stats.Wins) / float64(resolved) * 100
	}

	fmt.Println("\n📊 Wagers:")
	fmt.Printf("  - total:    %d\n", stats.Total)
	fmt.Printf("  - wins:     %d\n", stats.Wins)
	fmt.Printf("  - losses:   %d\n", stats.Losses)
	fmt.Printf("  - pending:  %d\n", stats.Pending)
	fmt.Printf("  - win rate: %.1f%%\n", winRate)
	fmt.Printf("  - pnl:      $%s\n", stats.PnL.StringFixed(2))

	wagers, err := db.RecentWagers(*limit)
	if err != nil {
		fmt.Printf("❌ Query error: %v\n", err)
		os.Exit(1)
	}
	if len(wagers) == 0 {
		fmt.Println("\n  (no wagers found)")
		return
	}

	fmt.Printf("\n📜 Last %d:\n", len(wagers))
	for _, w := range wagers {
		emoji := "⏳"
		switch w.Result {
		case types.Win:
			emoji = "✅"
		case types.Lose:
			emoji = "❌"
		}
		fmt.Printf("  %s %s %-8s %-4s %-7s $%s @ %.2f  pnl %s\n",
			emoji,
			w.CreatedAt.UTC().Format("Jan 02 15:04"),
			w.Key(), w.Direction, w.Source,
			w.Amount.StringFixed(2), w.Quoted,
			w.ProfitLoss.StringFixed(2),
		)
	}
}
