package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gapscanner/core"
	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Wager notifications & control
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   🎯 Fired wager alerts
//   💰 Settlement results with running balance
//   🛑 Circuit breaker trips
//   🎛️ Control commands (/status, /stats, /wagers, /pause, /resume)
//   🛑 Per-asset suspension (/suspend <asset> [duration], /resume <asset>)
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	recentWagerCount = 10
	defaultSuspend   = time.Hour
)

// Controller is the scanner surface the bot reads and drives
type Controller interface {
	Status() []core.KeyStatus
	Pause()
	Resume()
	Paused() bool
	Suspend(instrument string, d time.Duration) (time.Time, error)
	Unsuspend(instrument string) error
	Ledger() *core.Ledger
	Bankroll() *core.Bankroll
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramBot manages the Telegram interface
type TelegramBot struct {
	mu     sync.Mutex
	api    *tgbotapi.BotAPI
	out    sender
	chatID int64
	dryRun bool
	ctl    Controller
}

// NewTelegramBot creates a new Telegram bot
func NewTelegramBot(token string, chatID int64, dryRun bool) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := newBot(api, chatID, nil, dryRun)
	b.api = api

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return b, nil
}

func newBot(out sender, chatID int64, ctl Controller, dryRun bool) *TelegramBot {
	return &TelegramBot{out: out, chatID: chatID, ctl: ctl, dryRun: dryRun}
}

// Attach sets the scanner the commands read and drive. Call before Run.
func (b *TelegramBot) Attach(ctl Controller) {
	if b == nil {
		return
	}
	b.ctl = ctl
}

// Run listens for commands until ctx is cancelled
func (b *TelegramBot) Run(ctx context.Context) error {
	if b == nil || b.api == nil {
		<-ctx.Done()
		return nil
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	log.Info().Msg("📱 Telegram bot started")
	b.notifyStartup()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			// Only respond to authorized chat
			if update.Message.Chat.ID != b.chatID {
				continue
			}
			b.handleCommand(update.Message.Command(), update.Message.CommandArguments())
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// NotifyFired sends a fired wager alert
func (b *TelegramBot) NotifyFired(w types.Wager) {
	if b == nil {
		return
	}
	b.sendMarkdown(formatFired(w))
}

// NotifySettled sends a settlement result
func (b *TelegramBot) NotifySettled(w types.Wager, balance decimal.Decimal) {
	if b == nil {
		return
	}
	b.sendMarkdown(formatSettled(w, balance))
}

// NotifyCircuitTrip sends a circuit breaker alert
func (b *TelegramBot) NotifyCircuitTrip(instrument string, until time.Time, reason string) {
	if b == nil {
		return
	}
	b.sendMarkdown(fmt.Sprintf("🛑 *CIRCUIT BREAKER*\n\n📊 %s suspended until *%s UTC*\n📝 %s",
		instrument, until.UTC().Format("15:04:05"), reason))
}

func (b *TelegramBot) notifyStartup() {
	balance := "N/A"
	if b.ctl != nil {
		balance = "$" + b.ctl.Bankroll().Balance().StringFixed(2)
	}
	b.sendMarkdown(fmt.Sprintf(`🚀 *GAP SCANNER STARTED*
━━━━━━━━━━━━━━━━━━━━

📊 Mode: *%s*
💰 Balance: *%s*

Use /help for commands`, b.mode(), balance))
}

func formatFired(w types.Wager) string {
	emoji := "🟢"
	if w.Direction == types.Down {
		emoji = "🔴"
	}
	return fmt.Sprintf(`%s *WAGER FIRED*

📊 *%s* — %s (%s)
━━━━━━━━━━━━━━━━
💵 Quoted: *%s¢*
🎲 Probability: *%.1f%%*
📈 EV: *%+.2f*
📦 Size: *$%s*
━━━━━━━━━━━━━━━━
Open %.2f → Entry %.2f`,
		emoji,
		w.Key(), w.Direction, w.Source,
		cents(w.Quoted),
		w.Probability*100,
		w.EV,
		w.Amount.StringFixed(2),
		w.OpenPrice, w.EntryPrice,
	)
}

func formatSettled(w types.Wager, balance decimal.Decimal) string {
	emoji := "📈"
	if w.Result != types.Win {
		emoji = "📉"
	}
	return fmt.Sprintf(`%s *%s*

📊 %s %s
💵 P&L: *%s*
🏁 Open %.2f → Close %.2f
💰 Balance: *$%s*`,
		emoji, w.Result,
		w.Key(), w.Direction,
		signed(w.ProfitLoss),
		w.OpenPrice, w.ExitPrice,
		balance.StringFixed(2),
	)
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) handleCommand(command, args string) {
	switch strings.ToLower(command) {
	case "start", "help":
		b.cmdHelp()
	case "status":
		b.cmdStatus()
	case "stats":
		b.cmdStats()
	case "wagers":
		b.cmdWagers()
	case "pause":
		b.cmdPause()
	case "resume":
		if strings.TrimSpace(args) != "" {
			b.cmdUnsuspend(args)
			return
		}
		b.cmdResume()
	case "suspend":
		b.cmdSuspend(args)
	case "ping":
		b.send("🏓 Pong!")
	default:
		b.send("❓ Unknown command. Use /help")
	}
}

func (b *TelegramBot) cmdHelp() {
	b.sendMarkdown(`🤖 *GAP SCANNER COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Per-market state
📈 /stats — Win rate and P&L
📜 /wagers — Last 10 wagers
⏸️ /pause — Stop firing
▶️ /resume — Resume firing
🛑 /suspend BTC 30m — Suspend one asset (default 1h)
✅ /resume BTC — Lift an asset suspension
🏓 /ping — Test connection`)
}

func (b *TelegramBot) cmdStatus() {
	if b.ctl == nil {
		b.send("❌ Status not available")
		return
	}

	status := "🟢 RUNNING"
	if b.ctl.Paused() {
		status = "⏸️ PAUSED"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *BOT STATUS*\n━━━━━━━━━━━━━━━━━━━━\n\n%s\n📊 Mode: *%s*\n💰 Balance: *$%s*\n⏳ Pending: *%d*\n\n",
		status, b.mode(), b.ctl.Bankroll().Balance().StringFixed(2), len(b.ctl.Ledger().Pending()))

	for _, ks := range b.ctl.Status() {
		fmt.Fprintf(&sb, "`%-8s` %s · %d/h", ks.Key, ks.State, ks.TradesThisHour)
		if !ks.SuspendedUntil.IsZero() {
			fmt.Fprintf(&sb, " · 🛑 until %s", ks.SuspendedUntil.UTC().Format("15:04"))
		}
		sb.WriteString("\n")
	}
	b.sendMarkdown(sb.String())
}

func (b *TelegramBot) cmdStats() {
	if b.ctl == nil {
		b.send("❌ Stats not available")
		return
	}

	s := b.ctl.Ledger().Stats()
	b.sendMarkdown(fmt.Sprintf(`📈 *WAGER STATS*
━━━━━━━━━━━━━━━━━━━━

📊 Total: *%d*
✅ Wins: *%d*
❌ Losses: *%d*
⏳ Pending: *%d*
📈 Win Rate: *%.1f%%*

━━━━━━━━━━━━━━━━━━━━
💵 Total P&L: *%s*
💰 Balance: *$%s*`,
		s.Total, s.Wins, s.Losses, s.Pending, s.WinRate()*100,
		signed(s.PnL),
		b.ctl.Bankroll().Balance().StringFixed(2),
	))
}

func (b *TelegramBot) cmdWagers() {
	if b.ctl == nil {
		b.send("❌ Wagers not available")
		return
	}

	wagers := b.ctl.Ledger().Recent(recentWagerCount)
	if len(wagers) == 0 {
		b.send("📭 No wagers yet")
		return
	}

	var sb strings.Builder
	sb.WriteString("📜 *LAST 10 WAGERS*\n━━━━━━━━━━━━━━━━━━━━\n\n")
	for _, w := range wagers {
		emoji := "⏳"
		switch w.Result {
		case types.Win:
			emoji = "✅"
		case types.Lose:
			emoji = "❌"
		}
		pnl := ""
		if w.Resolved() {
			pnl = " | P&L: " + signed(w.ProfitLoss)
		}
		fmt.Fprintf(&sb, "%s %s %s $%s @ %s¢%s\n   _%s_\n\n",
			emoji, w.Key(), w.Direction, w.Amount.StringFixed(2), cents(w.Quoted),
			pnl, w.CreatedAt.UTC().Format("Jan 2 15:04"))
	}
	b.sendMarkdown(sb.String())
}

func (b *TelegramBot) cmdPause() {
	if b.ctl != nil {
		b.ctl.Pause()
	}
	b.send("⏸️ Firing paused")
	log.Info().Msg("Firing paused via Telegram")
}

func (b *TelegramBot) cmdResume() {
	if b.ctl != nil {
		b.ctl.Resume()
	}
	b.send("▶️ Firing resumed")
	log.Info().Msg("Firing resumed via Telegram")
}

func (b *TelegramBot) cmdSuspend(args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		b.send("❓ Usage: /suspend <asset> [duration]")
		return
	}
	d := defaultSuspend
	if len(fields) == 2 {
		parsed, err := time.ParseDuration(fields[1])
		if err != nil || parsed <= 0 {
			b.send("❓ Invalid duration, e.g. 30m or 2h")
			return
		}
		d = parsed
	}
	if b.ctl == nil {
		b.send("❌ Scanner not available")
		return
	}

	until, err := b.ctl.Suspend(fields[0], d)
	if err != nil {
		b.send("❌ " + err.Error())
		return
	}
	b.send(fmt.Sprintf("🛑 %s suspended until %s UTC", strings.ToUpper(fields[0]), until.UTC().Format("15:04:05")))
	log.Info().Str("asset", fields[0]).Dur("for", d).Msg("Asset suspended via Telegram")
}

func (b *TelegramBot) cmdUnsuspend(args string) {
	asset := strings.TrimSpace(args)
	if b.ctl == nil {
		b.send("❌ Scanner not available")
		return
	}
	if err := b.ctl.Unsuspend(asset); err != nil {
		b.send("❌ " + err.Error())
		return
	}
	b.send(fmt.Sprintf("✅ %s suspension lifted", strings.ToUpper(asset)))
	log.Info().Str("asset", asset).Msg("Asset suspension lifted via Telegram")
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) mode() string {
	if b.dryRun {
		return "PAPER"
	}
	return "LIVE"
}

func cents(price float64) string {
	return decimal.NewFromFloat(price).Mul(decimal.NewFromInt(100)).StringFixed(1)
}

func signed(v decimal.Decimal) string {
	if v.IsNegative() {
		return "-$" + v.Abs().StringFixed(2)
	}
	return "+$" + v.StringFixed(2)
}

func (b *TelegramBot) send(text string) {
	b.deliver(tgbotapi.NewMessage(b.chatID, text))
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = "Markdown"
	b.deliver(msg)
}

func (b *TelegramBot) deliver(msg tgbotapi.MessageConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.out.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
