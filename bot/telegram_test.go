package bot

import (
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gapscanner/core"
	"github.com/web3guy0/gapscanner/types"
)

type recordingSender struct {
	texts []string
	err   error
}

func (r *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		r.texts = append(r.texts, msg.Text)
	}
	return tgbotapi.Message{}, r.err
}

func (r *recordingSender) last() string {
	if len(r.texts) == 0 {
		return ""
	}
	return r.texts[len(r.texts)-1]
}

type fakeController struct {
	paused    bool
	suspended map[string]time.Duration
	ledger    *core.Ledger
	bankroll  *core.Bankroll
}

func (f *fakeController) Status() []core.KeyStatus {
	return []core.KeyStatus{
		{Key: types.Key{Instrument: "BTC", Timeframe: types.TF15M}, State: core.StateIdle, TradesThisHour: 1},
		{Key: types.Key{Instrument: "ETH", Timeframe: types.TF5M}, State: core.StateCooldown, SuspendedUntil: time.Date(2026, 2, 12, 9, 30, 0, 0, time.UTC)},
	}
}
func (f *fakeController) Pause()                   { f.paused = true }
func (f *fakeController) Resume()                  { f.paused = false }
func (f *fakeController) Paused() bool             { return f.paused }
func (f *fakeController) Ledger() *core.Ledger     { return f.ledger }
func (f *fakeController) Bankroll() *core.Bankroll { return f.bankroll }

func (f *fakeController) Suspend(instrument string, d time.Duration) (time.Time, error) {
	if instrument != "BTC" {
		return time.Time{}, core.ErrUnknownInstrument
	}
	f.suspended[instrument] = d
	return time.Date(2026, 2, 12, 9, 0, 0, 0, time.UTC).Add(d), nil
}

func (f *fakeController) Unsuspend(instrument string) error {
	if _, ok := f.suspended[instrument]; !ok {
		return core.ErrUnknownInstrument
	}
	delete(f.suspended, instrument)
	return nil
}

func newTestBot() (*TelegramBot, *recordingSender, *fakeController) {
	out := &recordingSender{}
	ctl := &fakeController{
		suspended: make(map[string]time.Duration),
		ledger:    core.NewLedger(nil),
		bankroll:  core.NewBankroll(decimal.NewFromInt(50)),
	}
	return newBot(out, 42, ctl, true), out, ctl
}

func TestTelegramBot_PauseResume(t *testing.T) {
	b, out, ctl := newTestBot()

	b.handleCommand("pause", "")
	if !ctl.paused || !strings.Contains(out.last(), "paused") {
		t.Fatalf("expected paused, got %v %q", ctl.paused, out.last())
	}
	b.handleCommand("RESUME", "")
	if ctl.paused {
		t.Fatalf("expected resumed")
	}
}

func TestTelegramBot_SuspendAndResumeAsset(t *testing.T) {
	b, out, ctl := newTestBot()

	b.handleCommand("suspend", "BTC 30m")
	if ctl.suspended["BTC"] != 30*time.Minute || !strings.Contains(out.last(), "until 09:30:00") {
		t.Fatalf("expected BTC suspended for 30m, got %v %q", ctl.suspended, out.last())
	}

	b.handleCommand("suspend", "BTC")
	if ctl.suspended["BTC"] != time.Hour {
		t.Fatalf("expected default 1h suspension, got %v", ctl.suspended["BTC"])
	}

	b.handleCommand("suspend", "BTC soon")
	if !strings.Contains(out.last(), "Invalid duration") {
		t.Fatalf("expected duration error, got %q", out.last())
	}
	b.handleCommand("suspend", "DOGE")
	if !strings.Contains(out.last(), "unknown instrument") {
		t.Fatalf("expected unknown instrument, got %q", out.last())
	}

	ctl.paused = true
	b.handleCommand("resume", "BTC")
	if _, still := ctl.suspended["BTC"]; still || !strings.Contains(out.last(), "lifted") {
		t.Fatalf("expected BTC suspension lifted, got %v %q", ctl.suspended, out.last())
	}
	if !ctl.paused {
		t.Fatalf("expected an asset resume to leave the global pause alone")
	}
}

func TestTelegramBot_StatusListsKeys(t *testing.T) {
	b, out, _ := newTestBot()
	b.handleCommand("status", "")

	text := out.last()
	for _, want := range []string{"PAPER", "$50.00", "BTC_15M", "ETH_5M", "COOLDOWN", "until 09:30"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in status, got %q", want, text)
		}
	}
}

func TestTelegramBot_StatsAndWagers(t *testing.T) {
	b, out, ctl := newTestBot()

	b.handleCommand("wagers", "")
	if !strings.Contains(out.last(), "No wagers") {
		t.Fatalf("expected empty history, got %q", out.last())
	}

	w := ctl.ledger.Open(types.Wager{Instrument: "BTC", Timeframe: types.TF15M, Direction: types.Up, Amount: decimal.NewFromInt(5), Quoted: 0.55})
	if _, err := ctl.ledger.Resolve(w.ID, types.Win, 101, decimal.NewFromFloat(4.01), time.Now()); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	b.handleCommand("wagers", "")
	if text := out.last(); !strings.Contains(text, "✅") || !strings.Contains(text, "+$4.01") {
		t.Fatalf("expected resolved wager line, got %q", text)
	}

	b.handleCommand("stats", "")
	if text := out.last(); !strings.Contains(text, "Wins: *1*") || !strings.Contains(text, "100.0%") {
		t.Fatalf("unexpected stats %q", text)
	}
}

func TestTelegramBot_Notifications(t *testing.T) {
	b, out, _ := newTestBot()
	w := types.Wager{
		Instrument: "ETH", Timeframe: types.TF1H, Direction: types.Down, Source: types.SourceReverse,
		Amount: decimal.NewFromInt(3), Quoted: 0.22, Probability: 0.36, EV: 0.63,
	}

	b.NotifyFired(w)
	if text := out.last(); !strings.Contains(text, "🔴") || !strings.Contains(text, "22.0¢") || !strings.Contains(text, "REVERSE") {
		t.Fatalf("unexpected fired message %q", text)
	}

	w.Result = types.Lose
	w.ProfitLoss = decimal.NewFromInt(-3)
	b.NotifySettled(w, decimal.NewFromInt(47))
	if text := out.last(); !strings.Contains(text, "-$3.00") || !strings.Contains(text, "$47.00") {
		t.Fatalf("unexpected settled message %q", text)
	}

	b.NotifyCircuitTrip("ETH", time.Date(2026, 2, 12, 9, 5, 0, 0, time.UTC), "3 consecutive losses")
	if !strings.Contains(out.last(), "09:05:00") {
		t.Fatalf("unexpected circuit message %q", out.last())
	}
}

func TestTelegramBot_NilAndSendErrors(t *testing.T) {
	var nilBot *TelegramBot
	nilBot.NotifyFired(types.Wager{})
	nilBot.NotifySettled(types.Wager{}, decimal.Zero)
	nilBot.NotifyCircuitTrip("BTC", time.Now(), "x")

	b, out, _ := newTestBot()
	out.err = errors.New("network down")
	b.handleCommand("ping", "")
	if out.last() != "🏓 Pong!" {
		t.Fatalf("expected send attempt despite error, got %q", out.last())
	}
}
