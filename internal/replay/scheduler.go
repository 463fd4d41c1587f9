package replay

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"backsim/internal/logger"
	"backsim/internal/market"
	"backsim/internal/pkg/eventbus"
)

// Granularity 驱动回放的行情粒度。
type Granularity string

const (
	GranularityDay     Granularity = "day"
	GranularityHour    Granularity = "hour"
	GranularityMinute  Granularity = "minute"
	GranularityTick    Granularity = "tick"
	GranularitySession Granularity = "session" // 夜盘 + 日盘分段的分钟线
)

var (
	ErrNoDriveInstrument  = errors.New("未配置驱动合约")
	ErrUnknownGranularity = errors.New("未知的回放粒度")
)

// 事件种类名，用于日志与句柄归属。
const (
	kindStart    = "on_start"
	kindEnd      = "on_end"
	kindDayBegin = "on_day_begin"
	kindDayEnd   = "on_day_end"
	kindBar      = "on_bar"
	kindTick     = "on_tick"
)

// Span 表示一次完整回放的交易日区间。
type Span struct {
	FromDay string
	ToDay   string
}

// BarEvent 携带驱动合约的一根 K 线以及同步追平的其它合约行情。
type BarEvent struct {
	Drive  market.Bar
	Others []market.Record
}

// TickEvent 同 BarEvent，粒度为 tick。
type TickEvent struct {
	Drive  market.Tick
	Others []market.Record
}

// SchedulerConfig 构造调度器所需的配置。
type SchedulerConfig struct {
	Exchange        string
	DriveInstrument string
	Granularity     Granularity
	Interval        int // 周期数值，如 1 分钟、1 小时；<=0 时取 1
	// Debug 打开后观察者回调失败会中止整个回放（开发期快速失败）。
	Debug bool
}

// Scheduler 是顶层回放驱动（行情通道）：逐个交易日装载订阅合约的
// 行情序列，沿驱动合约的时间线逐条推进，把其它合约追平到同一时刻，
// 再广播日始/行情/日终事件。全程单线程、确定性。
type Scheduler struct {
	cfg        SchedulerConfig
	source     DataSource
	cal        Calendar
	subscribed []string
	indexes    map[string]*Index

	currentDay string
	now        int64

	startBus    *eventbus.Bus[Span]
	endBus      *eventbus.Bus[Span]
	dayBeginBus *eventbus.Bus[string]
	dayEndBus   *eventbus.Bus[string]
	barBus      *eventbus.Bus[BarEvent]
	tickBus     *eventbus.Bus[TickEvent]
}

// NewScheduler 校验粒度并创建调度器；粒度未知属于致命配置错误，
// 在任何回放开始之前就报出。
func NewScheduler(cfg SchedulerConfig, source DataSource, cal Calendar) (*Scheduler, error) {
	switch cfg.Granularity {
	case GranularityDay, GranularityHour, GranularityMinute, GranularityTick, GranularitySession:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGranularity, cfg.Granularity)
	}
	if source == nil {
		return nil, errors.New("数据源不能为空")
	}
	if cal == nil {
		return nil, errors.New("交易日历不能为空")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 1
	}
	s := &Scheduler{
		cfg:         cfg,
		source:      source,
		cal:         cal,
		indexes:     make(map[string]*Index),
		startBus:    eventbus.New[Span](kindStart),
		endBus:      eventbus.New[Span](kindEnd),
		dayBeginBus: eventbus.New[string](kindDayBegin),
		dayEndBus:   eventbus.New[string](kindDayEnd),
		barBus:      eventbus.New[BarEvent](kindBar),
		tickBus:     eventbus.New[TickEvent](kindTick),
	}
	s.setDebug(cfg.Debug)
	if cfg.DriveInstrument != "" {
		s.Subscribe(cfg.DriveInstrument)
	}
	return s, nil
}

func (s *Scheduler) setDebug(debug bool) {
	s.startBus.SetDebug(debug)
	s.endBus.SetDebug(debug)
	s.dayBeginBus.SetDebug(debug)
	s.dayEndBus.SetDebug(debug)
	s.barBus.SetDebug(debug)
	s.tickBus.SetDebug(debug)
}

// Subscribe 订阅合约，重复订阅为空操作。驱动合约也必须订阅。
func (s *Scheduler) Subscribe(instrumentIDs ...string) {
	for _, id := range instrumentIDs {
		if id == "" {
			continue
		}
		if _, ok := s.indexes[id]; ok {
			continue
		}
		s.subscribed = append(s.subscribed, id)
		s.indexes[id] = NewIndex(id)
	}
}

// SetDriveInstrument 指定驱动合约，自动完成订阅。
func (s *Scheduler) SetDriveInstrument(id string) {
	s.cfg.DriveInstrument = id
	if id != "" {
		s.Subscribe(id)
	}
}

// Subscribed 返回订阅顺序下的合约列表。
func (s *Scheduler) Subscribed() []string {
	out := make([]string, len(s.subscribed))
	copy(out, s.subscribed)
	return out
}

// CurrentDay 返回当前回放到的交易日。
func (s *Scheduler) CurrentDay() string { return s.currentDay }

// Now 返回当前模拟时刻（Unix 毫秒）。
func (s *Scheduler) Now() int64 { return s.now }

// RegisterStart 注册 on_start 处理器（整个回放前触发一次）。
func (s *Scheduler) RegisterStart(fn func(Span) error) eventbus.Handle {
	return s.startBus.Register(fn)
}

// RegisterEnd 注册 on_end 处理器（最后一个交易日之后触发一次）。
func (s *Scheduler) RegisterEnd(fn func(Span) error) eventbus.Handle {
	return s.endBus.Register(fn)
}

// RegisterDayBegin 注册日始处理器。
func (s *Scheduler) RegisterDayBegin(fn func(day string) error) eventbus.Handle {
	return s.dayBeginBus.Register(fn)
}

// RegisterDayEnd 注册日终处理器。
func (s *Scheduler) RegisterDayEnd(fn func(day string) error) eventbus.Handle {
	return s.dayEndBus.Register(fn)
}

// RegisterBar 注册驱动 K 线处理器。
func (s *Scheduler) RegisterBar(fn func(BarEvent) error) eventbus.Handle {
	return s.barBus.Register(fn)
}

// RegisterTick 注册驱动 tick 处理器。
func (s *Scheduler) RegisterTick(fn func(TickEvent) error) eventbus.Handle {
	return s.tickBus.Register(fn)
}

// Remove 按句柄移除处理器。
func (s *Scheduler) Remove(h eventbus.Handle) bool {
	switch h.Kind() {
	case kindStart:
		return s.startBus.Remove(h)
	case kindEnd:
		return s.endBus.Remove(h)
	case kindDayBegin:
		return s.dayBeginBus.Remove(h)
	case kindDayEnd:
		return s.dayEndBus.Remove(h)
	case kindBar:
		return s.barBus.Remove(h)
	case kindTick:
		return s.tickBus.Remove(h)
	}
	return false
}

// Run 对 [fromDay, toDay] 区间内的每个交易日执行回放。
// 数据缺口按空日处理；只有装载失败、非法配置或 debug 模式下的
// 观察者失败才会中止。
func (s *Scheduler) Run(ctx context.Context, fromDay, toDay string) error {
	if s.cfg.DriveInstrument == "" {
		return ErrNoDriveInstrument
	}
	days, err := s.cal.TradingDays(fromDay, toDay)
	if err != nil {
		return fmt.Errorf("查询交易日失败: %w", err)
	}
	if err := s.startBus.Fire(Span{FromDay: fromDay, ToDay: toDay}); err != nil {
		return err
	}
	for _, day := range days {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.runDay(ctx, day); err != nil {
			return err
		}
	}
	return s.endBus.Fire(Span{FromDay: fromDay, ToDay: toDay})
}

func (s *Scheduler) runDay(ctx context.Context, day string) error {
	s.currentDay = day
	if err := s.source.Init(ctx, day); err != nil {
		return fmt.Errorf("数据源初始化失败 day=%s: %w", day, err)
	}

	loaded := make([][]market.Record, len(s.subscribed))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range s.subscribed {
		g.Go(func() error {
			recs, err := s.loadDay(gctx, id, day)
			if err != nil {
				return fmt.Errorf("装载 %s %s 失败: %w", id, day, err)
			}
			loaded[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, id := range s.subscribed {
		idx := s.indexes[id]
		idx.Clear(day)
		if err := idx.AddRecords(day, loaded[i]); err != nil {
			return err
		}
		idx.SetCurrentDay(day)
		if len(loaded[i]) == 0 {
			logger.Warnf("合约 %s 在 %s 无行情数据，按缺口处理", id, day)
		}
	}

	if err := s.dayBeginBus.Fire(day); err != nil {
		return err
	}
	drive := s.indexes[s.cfg.DriveInstrument]
	w := drive.CurrentWindow()
	if w == nil || w.Len() == 0 {
		// 驱动合约当天无数据：空跑一天，不算错误。
		return s.dayEndBus.Fire(day)
	}
	for {
		rec, ok := w.next()
		if !ok {
			break
		}
		s.now = rec.RecordTime()
		others := s.catchUp(s.now)
		if err := s.fireRecord(rec, others); err != nil {
			return err
		}
	}
	return s.dayEndBus.Fire(day)
}

// catchUp 把驱动合约以外的索引推进到当前时刻，汇总新就绪的记录。
// 非驱动合约的行情不早投、不重投，至多滞后到下一个驱动时刻。
func (s *Scheduler) catchUp(ts int64) []market.Record {
	var out []market.Record
	for _, id := range s.subscribed {
		if id == s.cfg.DriveInstrument {
			continue
		}
		if _, recs := s.indexes[id].AdvanceTo(ts); len(recs) > 0 {
			out = append(out, recs...)
		}
	}
	return out
}

func (s *Scheduler) fireRecord(rec market.Record, others []market.Record) error {
	switch r := rec.(type) {
	case market.Bar:
		return s.barBus.Fire(BarEvent{Drive: r, Others: others})
	case market.Tick:
		return s.tickBus.Fire(TickEvent{Drive: r, Others: others})
	default:
		logger.Errorf("未知的行情记录类型 %T，已跳过", rec)
		return nil
	}
}

func (s *Scheduler) loadDay(ctx context.Context, instrumentID, day string) ([]market.Record, error) {
	var (
		bars  []market.Bar
		ticks []market.Tick
		err   error
	)
	switch s.cfg.Granularity {
	case GranularityDay:
		bars, err = s.source.LoadBarSeries(ctx, s.cfg.Exchange, instrumentID, s.cfg.Interval, "day", day, day)
	case GranularityHour:
		bars, err = s.source.LoadBarSeries(ctx, s.cfg.Exchange, instrumentID, s.cfg.Interval, "hour", day, day)
	case GranularityMinute:
		bars, err = s.source.LoadBarSeries(ctx, s.cfg.Exchange, instrumentID, s.cfg.Interval, "minute", day, day)
	case GranularitySession:
		var night, session []market.Bar
		night, err = s.source.LoadNightBarSeries(ctx, s.cfg.Exchange, instrumentID, s.cfg.Interval, "minute", day)
		if err != nil {
			return nil, err
		}
		session, err = s.source.LoadBarSeries(ctx, s.cfg.Exchange, instrumentID, s.cfg.Interval, "minute", day, day)
		bars = append(night, session...)
	case GranularityTick:
		ticks, err = s.source.LoadTickSeries(ctx, s.cfg.Exchange, instrumentID, day)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGranularity, s.cfg.Granularity)
	}
	if err != nil {
		return nil, err
	}
	if s.cfg.Granularity == GranularityTick {
		out := make([]market.Record, 0, len(ticks))
		for _, t := range ticks {
			out = append(out, t)
		}
		return out, nil
	}
	out := make([]market.Record, 0, len(bars))
	for _, b := range bars {
		out = append(out, b)
	}
	return out, nil
}
