package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"backsim/internal/account"
	"backsim/internal/logger"
	"backsim/internal/market"
	"backsim/internal/match"
	"backsim/internal/replay"
	"backsim/internal/strategy"
)

// RunnerConfig 组装一次回测所需的全部依赖。
type RunnerConfig struct {
	Source      replay.DataSource
	Calendar    replay.Calendar
	Instruments map[string]market.Instrument
	Factory     strategy.Factory
	// CancelAtDayEnd 打开后每个交易日收盘自动撤销全部未成交委托。
	CancelAtDayEnd bool
	Debug          bool
}

// RunResult 汇总一次回测的全部产出。
type RunResult struct {
	Stats     RunStats
	Orders    []*market.Order
	Trades    []market.Trade
	Snapshots []Snapshot
}

// Runner 把交易日历、回放调度器、撮合中心、资金账户和策略组装成
// 一次完整的回测执行，可被多个 run 复用。
type Runner struct {
	source         replay.DataSource
	cal            replay.Calendar
	factory        strategy.Factory
	cancelAtDayEnd bool
	debug          bool

	mu          sync.RWMutex
	instruments map[string]market.Instrument
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Source == nil {
		return nil, errors.New("数据源不能为空")
	}
	if cfg.Calendar == nil {
		return nil, errors.New("交易日历不能为空")
	}
	if cfg.Factory == nil {
		return nil, errors.New("策略工厂不能为空")
	}
	return &Runner{
		source:         cfg.Source,
		cal:            cfg.Calendar,
		instruments:    cfg.Instruments,
		factory:        cfg.Factory,
		cancelAtDayEnd: cfg.CancelAtDayEnd,
		debug:          cfg.Debug,
	}, nil
}

// SetInstruments 整体替换合约表，合约注册表热更新时由装配层调用；
// 只影响之后开始的 run。
func (r *Runner) SetInstruments(instruments map[string]market.Instrument) {
	r.mu.Lock()
	r.instruments = instruments
	r.mu.Unlock()
}

func (r *Runner) instrumentSnapshot() map[string]market.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instruments
}

// Execute 同步执行一次回测，返回完整结果。调用方负责持久化。
func (r *Runner) Execute(ctx context.Context, runID string, cfg RunConfig) (RunResult, error) {
	cfg = withDefaults(cfg)
	if cfg.DriveInstrument == "" {
		return RunResult{}, replay.ErrNoDriveInstrument
	}

	instruments := r.instrumentSnapshot()
	acct := account.NewCache(cfg.Product, cfg.Strategy, decimal.NewFromFloat(cfg.InitialCash), instruments)
	center, err := match.NewCenter(match.Mode(cfg.MatchMode), acct)
	if err != nil {
		return RunResult{}, err
	}
	center.SetDebug(r.debug)

	sched, err := replay.NewScheduler(replay.SchedulerConfig{
		Exchange:        cfg.Exchange,
		DriveInstrument: cfg.DriveInstrument,
		Granularity:     replay.Granularity(cfg.Granularity),
		Interval:        cfg.Interval,
		Debug:           r.debug,
	}, r.source, r.cal)
	if err != nil {
		return RunResult{}, err
	}
	sched.Subscribe(cfg.Subscribed...)

	st, err := r.factory.NewStrategy(strategy.Spec{
		RunID:        runID,
		Product:      cfg.Product,
		InstrumentID: cfg.DriveInstrument,
		Exchange:     cfg.Exchange,
		Params:       cfg.Params,
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("构造策略失败: %w", err)
	}
	sctx := strategy.NewContext(center, acct, cfg.Product, cfg.Strategy, cfg.Exchange)

	track := newRunTracker(runID, cfg, acct, instruments)

	center.RegisterOrder(func(o *market.Order) error {
		track.seeOrder(o)
		return nil
	})
	center.RegisterRejected(func(o *market.Order) error {
		track.seeOrder(o)
		track.rejected++
		return nil
	})
	center.RegisterCanceled(func(o *market.Order) error {
		track.seeOrder(o)
		track.canceled++
		return nil
	})
	center.RegisterTrade(func(t market.Trade) error {
		track.seeTrade(t)
		return acct.ApplyTrade(t)
	})

	sched.RegisterStart(func(span replay.Span) error {
		return st.OnStart(sctx)
	})
	sched.RegisterDayBegin(func(day string) error {
		track.days++
		return st.OnDayBegin(sctx, day)
	})
	sched.RegisterBar(func(ev replay.BarEvent) error {
		for _, rec := range ev.Others {
			if err := track.matchRecord(center, rec); err != nil {
				return err
			}
		}
		track.markBar(ev.Drive)
		if err := center.MatchByBar(ev.Drive); err != nil {
			return err
		}
		if err := st.OnBar(sctx, ev); err != nil {
			return err
		}
		track.snapshot(ev.Drive.CloseTime, ev.Drive.TradingDay, "")
		return nil
	})
	sched.RegisterTick(func(ev replay.TickEvent) error {
		for _, rec := range ev.Others {
			if err := track.matchRecord(center, rec); err != nil {
				return err
			}
		}
		track.markTick(ev.Drive)
		if err := center.MatchByTick(ev.Drive); err != nil {
			return err
		}
		if err := st.OnTick(sctx, ev); err != nil {
			return err
		}
		track.snapshot(ev.Drive.Time, ev.Drive.TradingDay, "")
		return nil
	})
	sched.RegisterDayEnd(func(day string) error {
		if r.cancelAtDayEnd {
			if n := sctx.CancelAll(); n > 0 {
				logger.Debugf("run=%s %s 收盘自动撤单 %d 笔", runID, day, n)
			}
		}
		if err := st.OnDayEnd(sctx, day); err != nil {
			return err
		}
		track.snapshot(sched.Now(), day, "day_end")
		return nil
	})
	sched.RegisterEnd(func(span replay.Span) error {
		return st.OnEnd(sctx)
	})

	if err := sched.Run(ctx, cfg.FromDay, cfg.ToDay); err != nil {
		return RunResult{}, err
	}
	return track.result(), nil
}

func withDefaults(cfg RunConfig) RunConfig {
	if cfg.Product == "" {
		cfg.Product = "default"
	}
	if cfg.Strategy == "" {
		cfg.Strategy = "default"
	}
	if cfg.Granularity == "" {
		cfg.Granularity = string(replay.GranularityMinute)
	}
	if cfg.MatchMode == "" {
		cfg.MatchMode = string(match.ModeLastPrice)
	}
	if cfg.InitialCash <= 0 {
		cfg.InitialCash = 1_000_000
	}
	found := false
	for _, id := range cfg.Subscribed {
		if id == cfg.DriveInstrument {
			found = true
			break
		}
	}
	if !found && cfg.DriveInstrument != "" {
		cfg.Subscribed = append([]string{cfg.DriveInstrument}, cfg.Subscribed...)
	}
	return cfg
}

// runTracker 收集一次回测过程中的订单、成交与资金曲线，执行结束后
// 汇总为 RunStats。
type runTracker struct {
	runID       string
	cfg         RunConfig
	acct        *account.Cache
	instruments map[string]market.Instrument

	orders    map[int64]*market.Order
	orderSeq  []int64
	trades    []market.Trade
	snapshots []Snapshot
	lastPrice map[string]float64

	days     int
	rejected int
	canceled int
	wins     int
	losses   int

	peak   float64
	valley float64
	maxDD  float64
}

func newRunTracker(runID string, cfg RunConfig, acct *account.Cache, instruments map[string]market.Instrument) *runTracker {
	return &runTracker{
		runID:       runID,
		cfg:         cfg,
		acct:        acct,
		instruments: instruments,
		orders:      make(map[int64]*market.Order),
		lastPrice:   make(map[string]float64),
		peak:        cfg.InitialCash,
		valley:      cfg.InitialCash,
	}
}

func (t *runTracker) seeOrder(o *market.Order) {
	if _, ok := t.orders[o.SysID]; !ok {
		t.orderSeq = append(t.orderSeq, o.SysID)
	}
	t.orders[o.SysID] = o
}

// seeTrade 在账户应用成交之前调用，借此捕获平仓的单笔盈亏。
func (t *runTracker) seeTrade(tr market.Trade) {
	t.trades = append(t.trades, tr)
	if tr.Offset != market.OffsetClose {
		return
	}
	dir := market.OffsetPositionDirection(tr.Direction)
	pos, ok := t.acct.Position(t.cfg.Product, t.cfg.Strategy, tr.InstrumentID, dir)
	if !ok {
		return
	}
	inst, ok := t.instruments[tr.InstrumentID]
	if !ok {
		return
	}
	multiple, _ := inst.VolumeMultiple.Float64()
	pnl := (tr.Price - pos.OpenPrice) * tr.Volume * multiple
	if dir == market.PositionShort {
		pnl = -pnl
	}
	if pnl >= 0 {
		t.wins++
	} else {
		t.losses++
	}
}

func (t *runTracker) markBar(bar market.Bar) {
	if bar.Close > 0 {
		t.lastPrice[bar.InstrumentID] = bar.Close
	}
}

func (t *runTracker) markTick(tick market.Tick) {
	if tick.Last > 0 {
		t.lastPrice[tick.InstrumentID] = tick.Last
	}
}

func (t *runTracker) matchRecord(center *match.Center, rec market.Record) error {
	switch r := rec.(type) {
	case market.Bar:
		t.markBar(r)
		return center.MatchByBar(r)
	case market.Tick:
		t.markTick(r)
		return center.MatchByTick(r)
	}
	return nil
}

// equity = 可用资金 + 占用保证金 + 浮动盈亏。
func (t *runTracker) equity() (equity, cash, margin float64) {
	cash, _ = t.acct.AvailableCash().Float64()
	unrealized := 0.0
	for _, pos := range t.acct.Positions() {
		m, _ := pos.Margin.Float64()
		margin += m
		inst, ok := t.instruments[pos.InstrumentID]
		if !ok {
			continue
		}
		last, ok := t.lastPrice[pos.InstrumentID]
		if !ok || last <= 0 {
			continue
		}
		multiple, _ := inst.VolumeMultiple.Float64()
		pnl := (last - pos.OpenPrice) * pos.Volume * multiple
		if pos.Direction == market.PositionShort {
			pnl = -pnl
		}
		unrealized += pnl
	}
	return cash + margin + unrealized, cash, margin
}

func (t *runTracker) snapshot(ts int64, day, note string) {
	equity, cash, margin := t.equity()
	if equity > t.peak {
		t.peak = equity
	}
	if equity < t.valley {
		t.valley = equity
	}
	drawdown := 0.0
	if t.peak > 0 {
		drawdown = (t.peak - equity) / t.peak * 100
	}
	if drawdown > t.maxDD {
		t.maxDD = drawdown
	}
	t.snapshots = append(t.snapshots, Snapshot{
		RunID:      t.runID,
		TS:         ts,
		TradingDay: day,
		Equity:     equity,
		Cash:       cash,
		Margin:     margin,
		Drawdown:   drawdown,
		Note:       note,
	})
}

func (t *runTracker) result() RunResult {
	equity, _, _ := t.equity()
	stats := RunStats{
		InitialCash:    t.cfg.InitialCash,
		FinalEquity:    equity,
		Profit:         equity - t.cfg.InitialCash,
		Orders:         len(t.orders),
		Trades:         len(t.trades),
		Rejected:       t.rejected,
		Canceled:       t.canceled,
		Wins:           t.wins,
		Losses:         t.losses,
		Snapshots:      len(t.snapshots),
		EquityPeak:     t.peak,
		EquityValley:   t.valley,
		MaxDrawdownPct: t.maxDD,
		TradingDays:    t.days,
		FinishedAt:     time.Now(),
	}
	if t.cfg.InitialCash > 0 {
		stats.ReturnPct = stats.Profit / t.cfg.InitialCash * 100
	}
	if total := t.wins + t.losses; total > 0 {
		stats.WinRate = float64(t.wins) / float64(total) * 100
	}
	orders := make([]*market.Order, 0, len(t.orderSeq))
	for _, id := range t.orderSeq {
		orders = append(orders, t.orders[id])
	}
	return RunResult{
		Stats:     stats,
		Orders:    orders,
		Trades:    t.trades,
		Snapshots: t.snapshots,
	}
}
