// Package report 将回测结果渲染为资金曲线报表（HTML / PNG）。
package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"backsim/internal/backtest"
	"backsim/internal/market"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#3b82f6"
	colorDrawdown      = "#f87171"
	colorBuy           = "#34d399"
	colorSell          = "#fb7185"

	chartWidthPx     = 1400
	equityHeightPx   = 520
	drawdownHeightPx = 280
	tradesHeightPx   = 420
)

// Input 报表渲染所需的数据。
type Input struct {
	Run       backtest.Run
	Snapshots []backtest.Snapshot
	Trades    []market.Trade
}

// RenderHTML 渲染完整的 HTML 报表。
func RenderHTML(input Input) ([]byte, error) {
	if len(input.Snapshots) == 0 {
		return nil, fmt.Errorf("run %s 无资金曲线数据", input.Run.ID)
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = fmt.Sprintf("回测报告 %s", input.Run.ID)

	page.AddCharts(
		buildEquityChart(input),
		buildDrawdownChart(input),
	)
	if len(input.Trades) > 0 {
		page.AddCharts(buildTradeChart(input))
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildEquityChart(input Input) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("%s %s 资金曲线", strings.ToUpper(input.Run.DriveInstrument), input.Run.Strategy),
			Subtitle: fmt.Sprintf("%s ~ %s 收益 %.2f（%.2f%%） 最大回撤 %.2f%%",
				input.Run.FromDay, input.Run.ToDay,
				input.Run.Stats.Profit, input.Run.Stats.ReturnPct, input.Run.Stats.MaxDrawdownPct),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)

	xAxis := make([]string, 0, len(input.Snapshots))
	equity := make([]opts.LineData, 0, len(input.Snapshots))
	for _, snap := range input.Snapshots {
		xAxis = append(xAxis, formatTS(snap.TS))
		equity = append(equity, opts.LineData{Value: snap.Equity})
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", equity,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true), ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func buildDrawdownChart(input Input) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", drawdownHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      "回撤（%）",
			Left:       "left",
			Top:        "10",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 14},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)

	xAxis := make([]string, 0, len(input.Snapshots))
	drawdown := make([]opts.LineData, 0, len(input.Snapshots))
	for _, snap := range input.Snapshots {
		xAxis = append(xAxis, formatTS(snap.TS))
		drawdown = append(drawdown, opts.LineData{Value: -snap.Drawdown})
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Drawdown", drawdown,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 1}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: colorDrawdown, Opacity: opts.Float(0.25)}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

// buildTradeChart 按成交顺序画出成交价格的散点，买卖分色。
func buildTradeChart(input Input) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", tradesHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      fmt.Sprintf("成交分布（共 %d 笔）", len(input.Trades)),
			Left:       "left",
			Top:        "10",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 14},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)

	xAxis := make([]string, 0, len(input.Trades))
	buys := make([]opts.ScatterData, 0)
	sells := make([]opts.ScatterData, 0)
	for _, t := range input.Trades {
		label := formatTS(t.TradeTime.UnixMilli())
		xAxis = append(xAxis, label)
		point := opts.ScatterData{Value: []interface{}{label, t.Price}, SymbolSize: 8}
		if t.Direction == market.DirectionBuy {
			buys = append(buys, point)
		} else {
			sells = append(sells, point)
		}
	}
	scatter.SetXAxis(xAxis)
	scatter.AddSeries("Buy", buys, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBuy}))
	scatter.AddSeries("Sell", sells, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorSell}))
	return scatter
}

func formatTS(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format("01-02 15:04")
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

// EnsureHeadlessAvailable 探测本机是否可用 headless 浏览器，结果缓存。
func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

// RenderPNG 先渲染 HTML 再用 headless 浏览器截图为 PNG。
func RenderPNG(ctx context.Context, input Input) ([]byte, error) {
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		return nil, fmt.Errorf("headless 浏览器不可用: %w", err)
	}
	html, err := RenderHTML(input)
	if err != nil {
		return nil, err
	}
	height := equityHeightPx + drawdownHeightPx
	if len(input.Trades) > 0 {
		height += tradesHeightPx
	}
	return renderHTMLToPNG(ctx, html, chartWidthPx, height)
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
