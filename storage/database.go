package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Wager persistence layer
// ═══════════════════════════════════════════════════════════════════════════════

type Database struct {
	db *gorm.DB
}

// WagerRecord is the persisted form of types.Wager
type WagerRecord struct {
	ID          string          `gorm:"primaryKey"`
	Instrument  string          `gorm:"index"`
	Timeframe   string          `gorm:"index"`
	Direction   string          // "UP" or "DOWN"
	Source      string          // "SCAN", "SPIKE", "REVERSE"
	Amount      decimal.Decimal `gorm:"type:decimal(20,6)"`
	OpenPrice   float64
	EntryPrice  float64
	Quoted      float64
	Probability float64
	EV          float64
	MarketID    string
	TokenID     string
	OrderID     string
	WindowStart time.Time `gorm:"index"`
	Result      string    `gorm:"index"` // "PENDING", "WIN", "LOSE"
	ExitPrice   float64
	ProfitLoss  decimal.Decimal `gorm:"type:decimal(20,6)"`
	ResolvedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Stats summarises the wager table
type Stats struct {
	Total   int64
	Wins    int64
	Losses  int64
	Pending int64
	PnL     decimal.Decimal
}

// New opens Postgres for postgres:// URLs, SQLite otherwise
func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), cfg)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("💾 Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), cfg)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("💾 Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&WagerRecord{}); err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

func toRecord(w types.Wager) WagerRecord {
	r := WagerRecord{
		ID:          w.ID,
		Instrument:  w.Instrument,
		Timeframe:   string(w.Timeframe),
		Direction:   string(w.Direction),
		Source:      string(w.Source),
		Amount:      w.Amount,
		OpenPrice:   w.OpenPrice,
		EntryPrice:  w.EntryPrice,
		Quoted:      w.Quoted,
		Probability: w.Probability,
		EV:          w.EV,
		MarketID:    w.MarketID,
		TokenID:     w.TokenID,
		OrderID:     w.OrderID,
		WindowStart: w.WindowStart.UTC(),
		Result:      string(w.Result),
		ExitPrice:   w.ExitPrice,
		ProfitLoss:  w.ProfitLoss,
		CreatedAt:   w.CreatedAt,
	}
	if !w.ResolvedAt.IsZero() {
		at := w.ResolvedAt
		r.ResolvedAt = &at
	}
	return r
}

func (r WagerRecord) toWager() types.Wager {
	w := types.Wager{
		ID:          r.ID,
		Instrument:  r.Instrument,
		Timeframe:   types.Timeframe(r.Timeframe),
		Direction:   types.Direction(r.Direction),
		Source:      types.Source(r.Source),
		Amount:      r.Amount,
		OpenPrice:   r.OpenPrice,
		EntryPrice:  r.EntryPrice,
		Quoted:      r.Quoted,
		Probability: r.Probability,
		EV:          r.EV,
		MarketID:    r.MarketID,
		TokenID:     r.TokenID,
		OrderID:     r.OrderID,
		WindowStart: r.WindowStart.UTC(),
		Result:      types.Result(r.Result),
		ExitPrice:   r.ExitPrice,
		ProfitLoss:  r.ProfitLoss,
		CreatedAt:   r.CreatedAt,
	}
	if r.ResolvedAt != nil {
		w.ResolvedAt = *r.ResolvedAt
	}
	return w
}

// CreateWager inserts a new wager
func (d *Database) CreateWager(w types.Wager) error {
	if w.ID == "" {
		return errors.New("wager has no id")
	}
	rec := toRecord(w)
	return d.db.Create(&rec).Error
}

// UpdateWager saves a wager's full state, inserting it if missing
func (d *Database) UpdateWager(w types.Wager) error {
	rec := toRecord(w)
	return d.db.Save(&rec).Error
}

// PendingWagers returns every unresolved wager, oldest first
func (d *Database) PendingWagers() ([]types.Wager, error) {
	var recs []WagerRecord
	err := d.db.Where("result = ?", string(types.Pending)).Order("created_at ASC").Find(&recs).Error
	return toWagers(recs), err
}

// RecentWagers returns the newest wagers
func (d *Database) RecentWagers(limit int) ([]types.Wager, error) {
	var recs []WagerRecord
	err := d.db.Order("created_at DESC").Limit(limit).Find(&recs).Error
	return toWagers(recs), err
}

// Stats counts wagers by result and sums realised pnl
func (d *Database) Stats() (Stats, error) {
	var s Stats
	if err := d.db.Model(&WagerRecord{}).Count(&s.Total).Error; err != nil {
		return s, err
	}
	d.db.Model(&WagerRecord{}).Where("result = ?", string(types.Win)).Count(&s.Wins)
	d.db.Model(&WagerRecord{}).Where("result = ?", string(types.Lose)).Count(&s.Losses)
	d.db.Model(&WagerRecord{}).Where("result = ?", string(types.Pending)).Count(&s.Pending)

	var result struct {
		Total decimal.Decimal
	}
	err := d.db.Model(&WagerRecord{}).Select("COALESCE(SUM(profit_loss), 0) as total").Scan(&result).Error
	s.PnL = result.Total
	return s, err
}

// Reset drops and recreates the wager table
func (d *Database) Reset() error {
	if err := d.db.Migrator().DropTable(&WagerRecord{}); err != nil {
		return err
	}
	return d.db.AutoMigrate(&WagerRecord{})
}

// Close closes the underlying connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toWagers(recs []WagerRecord) []types.Wager {
	out := make([]types.Wager, len(recs))
	for i, r := range recs {
		out[i] = r.toWager()
	}
	return out
}
