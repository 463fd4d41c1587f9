// Package histdata 负责历史行情的落地与装载：
// 每个（合约，周期）一个 sqlite 文件，tick 单独成文件。
package histdata

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"backsim/internal/market"
)

// 会话标记：日盘 / 夜盘。
const (
	SessionDay   = "day"
	SessionNight = "night"
)

// Manifest 记录某个合约@周期文件的统计信息。
type Manifest struct {
	InstrumentID string `json:"instrument_id"`
	Interval     string `json:"interval"`
	MinTime      int64  `json:"min_time"`
	MaxTime      int64  `json:"max_time"`
	Rows         int64  `json:"rows"`
	LastSyncAt   int64  `json:"last_sync_at"`
	Path         string `json:"path"`
}

// Store 管理行情 sqlite 文件句柄。
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewStore 创建以 root 为根目录的行情库。
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("行情库根目录不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

// Close 关闭全部数据库句柄。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) db(instrumentID, interval string) (*sql.DB, string, error) {
	if instrumentID == "" || interval == "" {
		return nil, "", fmt.Errorf("instrument/interval 不能为空")
	}
	key := instrumentID + "@" + strings.ToLower(interval)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, s.dbPath(instrumentID, interval), nil
	}
	path := s.dbPath(instrumentID, interval)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db, interval); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *Store) dbPath(instrumentID, interval string) string {
	dir := filepath.Join(s.root, instrumentID)
	return filepath.Join(dir, strings.ToLower(interval)+".db")
}

func ensureSchema(db *sql.DB, interval string) error {
	if strings.EqualFold(interval, "tick") {
		_, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS ticks (
				time INTEGER NOT NULL,
				seq INTEGER NOT NULL,
				trading_day TEXT NOT NULL,
				last REAL, bid_price REAL, bid_volume REAL,
				ask_price REAL, ask_volume REAL, volume REAL,
				PRIMARY KEY (time, seq)
			);
			CREATE INDEX IF NOT EXISTS idx_ticks_day ON ticks(trading_day);`)
		return err
	}
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			close_time INTEGER PRIMARY KEY,
			open_time INTEGER NOT NULL,
			trading_day TEXT NOT NULL,
			session TEXT NOT NULL DEFAULT 'day',
			open REAL, high REAL, low REAL, close REAL,
			volume REAL, open_interest REAL
		);
		CREATE INDEX IF NOT EXISTS idx_bars_day ON bars(trading_day, session);`)
	return err
}

// InsertBars 批量写入 K 线（close_time 冲突时覆盖）。
func (s *Store) InsertBars(ctx context.Context, instrumentID, interval, session string, bars []market.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	if session == "" {
		session = SessionDay
	}
	db, _, err := s.db(instrumentID, interval)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (close_time, open_time, trading_day, session, open, high, low, close, volume, open_interest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(close_time) DO UPDATE SET
		    open_time=excluded.open_time,
		    trading_day=excluded.trading_day,
		    session=excluded.session,
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume,
		    open_interest=excluded.open_interest`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx,
			b.CloseTime, b.OpenTime, b.TradingDay, session,
			b.Open, b.High, b.Low, b.Close, b.Volume, b.OpenInterest); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// BarsByDay 按交易日取 K 线，session 为空时返回全部会话（按时间升序）。
func (s *Store) BarsByDay(ctx context.Context, instrumentID, interval, day, session string) ([]market.Bar, error) {
	db, _, err := s.db(instrumentID, interval)
	if err != nil {
		return nil, err
	}
	query := `SELECT close_time, open_time, trading_day, open, high, low, close, volume, open_interest
		FROM bars WHERE trading_day = ?`
	args := []any{day}
	if session != "" {
		query += ` AND session = ?`
		args = append(args, session)
	}
	query += ` ORDER BY close_time ASC`
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Bar
	for rows.Next() {
		b := market.Bar{InstrumentID: instrumentID, Interval: interval}
		if err := rows.Scan(&b.CloseTime, &b.OpenTime, &b.TradingDay,
			&b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.OpenInterest); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// RangeBars 按毫秒时间区间取 K 线。
func (s *Store) RangeBars(ctx context.Context, instrumentID, interval string, start, end int64) ([]market.Bar, error) {
	db, _, err := s.db(instrumentID, interval)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT close_time, open_time, trading_day, open, high, low, close, volume, open_interest
		FROM bars WHERE close_time >= ? AND close_time <= ?
		ORDER BY close_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Bar
	for rows.Next() {
		b := market.Bar{InstrumentID: instrumentID, Interval: interval}
		if err := rows.Scan(&b.CloseTime, &b.OpenTime, &b.TradingDay,
			&b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.OpenInterest); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// InsertTicks 批量写入 tick（同一毫秒按写入顺序编号去重）。
func (s *Store) InsertTicks(ctx context.Context, instrumentID string, ticks []market.Tick) (int, error) {
	if len(ticks) == 0 {
		return 0, nil
	}
	db, _, err := s.db(instrumentID, "tick")
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ticks (time, seq, trading_day, last, bid_price, bid_volume, ask_price, ask_volume, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(time, seq) DO NOTHING`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	seqInMs := make(map[int64]int)
	for _, t := range ticks {
		seq := seqInMs[t.Time]
		seqInMs[t.Time] = seq + 1
		if _, err := stmt.ExecContext(ctx,
			t.Time, seq, t.TradingDay, t.Last,
			t.BidPrice, t.BidVolume, t.AskPrice, t.AskVolume, t.Volume); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// TicksByDay 按交易日取全部 tick。
func (s *Store) TicksByDay(ctx context.Context, instrumentID, day string) ([]market.Tick, error) {
	db, _, err := s.db(instrumentID, "tick")
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT time, trading_day, last, bid_price, bid_volume, ask_price, ask_volume, volume
		FROM ticks WHERE trading_day = ?
		ORDER BY time ASC, seq ASC`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Tick
	for rows.Next() {
		t := market.Tick{InstrumentID: instrumentID}
		if err := rows.Scan(&t.Time, &t.TradingDay, &t.Last,
			&t.BidPrice, &t.BidVolume, &t.AskPrice, &t.AskVolume, &t.Volume); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Manifest 返回某合约@周期文件的统计信息。
func (s *Store) Manifest(ctx context.Context, instrumentID, interval string) (Manifest, error) {
	db, path, err := s.db(instrumentID, interval)
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{
		InstrumentID: instrumentID,
		Interval:     strings.ToLower(interval),
		Path:         path,
		LastSyncAt:   time.Now().UnixMilli(),
	}
	row := db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MIN(close_time), 0), COALESCE(MAX(close_time), 0) FROM bars`)
	if err := row.Scan(&m.Rows, &m.MinTime, &m.MaxTime); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// IntegrityReport 描述一段交易日区间内数据的完整性。
type IntegrityReport struct {
	Present     int      `json:"present"`
	MissingDays []string `json:"missing_days"`
}

// Complete 判断是否无缺口。
func (r IntegrityReport) Complete() bool { return len(r.MissingDays) == 0 }

// CheckIntegrity 统计给定交易日列表里有数据 / 缺数据的天数。
// 缺数据的交易日不是错误，调度器按空日回放；报告用于提示覆盖率。
func (s *Store) CheckIntegrity(ctx context.Context, instrumentID, interval string, days []string) (IntegrityReport, error) {
	db, _, err := s.db(instrumentID, interval)
	if err != nil {
		return IntegrityReport{}, err
	}
	var report IntegrityReport
	for _, day := range days {
		var n int64
		row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bars WHERE trading_day = ?`, day)
		if err := row.Scan(&n); err != nil {
			return IntegrityReport{}, err
		}
		if n > 0 {
			report.Present++
		} else {
			report.MissingDays = append(report.MissingDays, day)
		}
	}
	return report, nil
}
