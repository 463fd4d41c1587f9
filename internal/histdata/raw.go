package histdata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"backsim/internal/market"
)

// RawKlineSource 直连 /fapi/v1/klines 风格接口的兜底实现：
// 不依赖 SDK，对返回的裸 JSON 数组做宽松解析，适合自建代理镜像。
type RawKlineSource struct {
	baseURL string
	path    string
	client  *http.Client
}

// NewRawKlineSource 创建裸 HTTP K 线源。
func NewRawKlineSource(baseURL string) *RawKlineSource {
	if baseURL == "" {
		baseURL = "https://fapi.binance.com"
	}
	return &RawKlineSource{
		baseURL: baseURL,
		path:    "/fapi/v1/klines",
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *RawKlineSource) Name() string { return "raw" }

// FetchBars 拉取并解析一批 K 线。
func (s *RawKlineSource) FetchBars(ctx context.Context, instrumentID, interval string, start, end int64, limit int) ([]market.Bar, error) {
	if instrumentID == "" || interval == "" {
		return nil, fmt.Errorf("instrument/interval 不能为空")
	}
	if limit <= 0 || limit > maxKlineLimit {
		limit = 1000
	}
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = s.path
	q := u.Query()
	q.Set("symbol", strings.ToUpper(strings.ReplaceAll(instrumentID, "/", "")))
	q.Set("interval", strings.ToLower(interval))
	q.Set("limit", strconv.Itoa(limit))
	if start > 0 {
		q.Set("startTime", strconv.FormatInt(start, 10))
	}
	if end > 0 {
		q.Set("endTime", strconv.FormatInt(end, 10))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("kline 接口返回状态码 %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseKlinePayload(instrumentID, strings.ToLower(interval), body), nil
}

// parseKlinePayload 用 gjson 宽松解析 kline 数组，跳过残缺行。
func parseKlinePayload(instrumentID, interval string, payload []byte) []market.Bar {
	rows := gjson.ParseBytes(payload).Array()
	out := make([]market.Bar, 0, len(rows))
	for _, row := range rows {
		cols := row.Array()
		if len(cols) < 7 {
			continue
		}
		closeTime := cols[6].Int()
		if closeTime <= 0 {
			continue
		}
		out = append(out, market.Bar{
			InstrumentID: instrumentID,
			Interval:     interval,
			TradingDay:   market.FormatDay(time.UnixMilli(closeTime).UTC()),
			OpenTime:     cols[0].Int(),
			CloseTime:    closeTime,
			Open:         cols[1].Float(),
			High:         cols[2].Float(),
			Low:          cols[3].Float(),
			Close:        cols[4].Float(),
			Volume:       cols[5].Float(),
		})
	}
	return out
}
