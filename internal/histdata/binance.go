package histdata

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"backsim/internal/market"
	"backsim/internal/pkg/symbol"
)

const maxKlineLimit = 1500

// RemoteSource 统一远端行情的拉取行为，供 FetchService 回填本地库。
type RemoteSource interface {
	Name() string
	FetchBars(ctx context.Context, instrumentID, interval string, start, end int64, limit int) ([]market.Bar, error)
}

// BinanceSource 基于 go-binance SDK 的 USDT 合约 K 线源。
type BinanceSource struct {
	client *futures.Client
}

// BinanceConfig Binance 源配置。
type BinanceConfig struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
}

// NewBinanceSource 创建 Binance 数据源。
func NewBinanceSource(cfg BinanceConfig) *BinanceSource {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(cfg.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceSource{client: client}
}

func (s *BinanceSource) Name() string { return "binance" }

// FetchBars 拉取一批 K 线并换算为 Bar（交易日取收盘时刻的 UTC 日期）。
func (s *BinanceSource) FetchBars(ctx context.Context, instrumentID, interval string, start, end int64, limit int) ([]market.Bar, error) {
	if instrumentID == "" || interval == "" {
		return nil, fmt.Errorf("instrument/interval 不能为空")
	}
	if limit <= 0 || limit > maxKlineLimit {
		limit = 1000
	}
	// Binance 的交易对不带斜杠（如 ETHUSDT）。
	svc := s.client.NewKlinesService().Symbol(symbol.ToBinance(instrumentID)).Interval(strings.ToLower(interval)).Limit(limit)
	if start > 0 {
		svc = svc.StartTime(start)
	}
	if end > 0 {
		svc = svc.EndTime(end)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Bar, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Bar{
			InstrumentID: instrumentID,
			Interval:     strings.ToLower(interval),
			TradingDay:   market.FormatDay(time.UnixMilli(kl.CloseTime).UTC()),
			OpenTime:     kl.OpenTime,
			CloseTime:    kl.CloseTime,
			Open:         parseFloat(kl.Open),
			High:         parseFloat(kl.High),
			Low:          parseFloat(kl.Low),
			Close:        parseFloat(kl.Close),
			Volume:       parseFloat(kl.Volume),
		})
	}
	return out, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
