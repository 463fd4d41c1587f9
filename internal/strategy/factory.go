package strategy

import (
	"fmt"
	"strings"

	"backsim/internal/pkg/maputil"
)

// Builder 根据 Spec 构造一个策略实例。
type Builder func(spec Spec) (Strategy, error)

// Registry 以名字注册策略构造器，实现 Factory。
type Registry struct {
	builders map[string]Builder
	name     string
}

// NewRegistry 创建策略注册表，name 为默认策略名。
func NewRegistry(name string) *Registry {
	return &Registry{
		builders: make(map[string]Builder),
		name:     strings.ToLower(name),
	}
}

// Register 注册一个策略构造器，重名直接覆盖。
func (r *Registry) Register(name string, builder Builder) {
	r.builders[strings.ToLower(name)] = builder
}

// NewStrategy 按默认策略名构造实例。
func (r *Registry) NewStrategy(spec Spec) (Strategy, error) {
	builder, ok := r.builders[r.name]
	if !ok {
		return nil, fmt.Errorf("未注册的策略：%s", r.name)
	}
	return builder(spec)
}

// DefaultRegistry 返回内置策略注册表。
func DefaultRegistry(name string) *Registry {
	r := NewRegistry(name)
	r.Register("sma_cross", func(spec Spec) (Strategy, error) {
		fast := intParamOr(spec.Params, "fast", 5)
		slow := intParamOr(spec.Params, "slow", 20)
		volume := floatParamOr(spec.Params, "volume", 1)
		return NewSMACross(spec.InstrumentID, fast, slow, volume)
	})
	r.Register("rsi_reversion", func(spec Spec) (Strategy, error) {
		period := intParamOr(spec.Params, "period", 14)
		oversold := floatParamOr(spec.Params, "oversold", 30)
		overbought := floatParamOr(spec.Params, "overbought", 70)
		volume := floatParamOr(spec.Params, "volume", 1)
		return NewRSIReversion(spec.InstrumentID, period, oversold, overbought, volume)
	})
	r.Register("noop", func(spec Spec) (Strategy, error) {
		return &noopStrategy{}, nil
	})
	return r
}

func intParamOr(params map[string]any, key string, def int) int {
	if _, ok := params[key]; !ok {
		return def
	}
	return maputil.Int(params, key)
}

func floatParamOr(params map[string]any, key string, def float64) float64 {
	if _, ok := params[key]; !ok {
		return def
	}
	return maputil.Float(params, key)
}

type noopStrategy struct{ Base }

func (noopStrategy) Name() string { return "noop" }
