// Package instrument 管理合约静态信息注册表（保证金率、合约乘数等），
// 支持文件热更新与 JSON Schema 校验。
package instrument

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"backsim/internal/logger"
	"backsim/internal/market"
)

// fileSpec 是注册表文件里单个合约的原始形态。
type fileSpec struct {
	Exchange        string  `mapstructure:"exchange"`
	VolumeMultiple  float64 `mapstructure:"volume_multiple"`
	LongMarginRate  float64 `mapstructure:"long_margin_rate"`
	ShortMarginRate float64 `mapstructure:"short_margin_rate"`
	PriceTick       float64 `mapstructure:"price_tick"`
	NightSession    bool    `mapstructure:"night_session"`
}

type fileConfig struct {
	Instruments map[string]fileSpec `mapstructure:"instruments"`
}

const schemaJSON = `{
  "type": "object",
  "required": ["instruments"],
  "properties": {
    "instruments": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "required": ["exchange", "volume_multiple", "long_margin_rate", "short_margin_rate"],
        "properties": {
          "exchange": {"type": "string", "minLength": 1},
          "volume_multiple": {"type": "number", "exclusiveMinimum": 0},
          "long_margin_rate": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
          "short_margin_rate": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
          "price_tick": {"type": "number", "minimum": 0},
          "night_session": {"type": "boolean"}
        }
      }
    }
  }
}`

// Snapshot 对外公开的合约表快照。
type Snapshot struct {
	Version     int64
	LoadedAt    time.Time
	Instruments map[string]market.Instrument
}

// ChangeListener 在注册表重载后触发。
type ChangeListener func(Snapshot)

// Registry 读取合约注册表文件并监听变更。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取注册表并开启文件监听；文件非法属于致命配置错误。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("合约注册表路径不能为空")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取合约注册表失败: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("合约注册表重载失败: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 返回当前快照的拷贝。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Instrument 按编号查询合约。
func (r *Registry) Instrument(id string) (market.Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.snapshot.Instruments[id]
	return inst, ok
}

// OnChange 注册重载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) reload() error {
	settings, err := readInstrumentFile(r.path)
	if err != nil {
		return err
	}
	if err := validateSchema(settings); err != nil {
		return fmt.Errorf("合约注册表校验失败: %w", err)
	}
	var cfg fileConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return fmt.Errorf("解析合约注册表失败: %w", err)
	}
	instruments := make(map[string]market.Instrument, len(cfg.Instruments))
	for id, spec := range cfg.Instruments {
		instruments[id] = market.Instrument{
			ID:              id,
			Exchange:        spec.Exchange,
			VolumeMultiple:  decimal.NewFromFloat(spec.VolumeMultiple),
			LongMarginRate:  decimal.NewFromFloat(spec.LongMarginRate),
			ShortMarginRate: decimal.NewFromFloat(spec.ShortMarginRate),
			PriceTick:       spec.PriceTick,
			NightSession:    spec.NightSession,
		}
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:     r.snapshot.Version + 1,
		LoadedAt:    time.Now(),
		Instruments: instruments,
	}
	r.mu.Unlock()
	logger.Infof("合约注册表载入 %d 个合约（%s）", len(instruments), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("合约注册表回调 panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:     src.Version,
		LoadedAt:    src.LoadedAt,
		Instruments: make(map[string]market.Instrument, len(src.Instruments)),
	}
	for id, inst := range src.Instruments {
		dst.Instruments[id] = inst
	}
	return dst
}

func readInstrumentFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取合约注册表失败: %w", err)
	}
	var settings map[string]any
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("解析合约注册表 YAML 失败: %w", err)
	}
	return settings, nil
}

func validateSchema(settings map[string]any) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("instruments.json", strings.NewReader(schemaJSON)); err != nil {
		return err
	}
	schema, err := compiler.Compile("instruments.json")
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}
