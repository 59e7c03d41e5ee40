// Package config loads the plain Go structs the core consumes (role fee
// schedules, constraint chains, queue sizes, the trading calendar, listed
// instruments) from a YAML file with environment-variable overrides.
//
// Grounded on 0xtitan6-polymarket-mm's internal/config.Load (viper.New,
// SetConfigFile/SetEnvPrefix/AutomaticEnv, then Unmarshal into a
// mapstructure-tagged tree) and the arbitrage-bot example's equivalent
// env-prefixed viper loader. No package under internal/{book,matching,
// phase,venue,validation,coordinator,pipeline,fee,position,wsfanout,teams}
// imports viper directly: this package is the sole boundary, converting the
// unmarshalled tree into the live validation.Constraint/fee.Schedule/
// phase.Schedule values those packages already accept as plain Go.
package config

import (
	"fmt"
	"strings"
	"time"

	"optionex/internal/common"
	"optionex/internal/coordinator"
	"optionex/internal/fee"
	"optionex/internal/httpapi"
	"optionex/internal/phase"
	"optionex/internal/pipeline"
	"optionex/internal/validation"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for every environment-variable override, e.g.
// EXCHANGE_SERVER_ADDR overrides server.addr.
const EnvPrefix = "EXCHANGE"

// Config is the top-level document. Maps directly to the YAML file.
type Config struct {
	Server        ServerConfig          `mapstructure:"server"`
	Coordinator   CoordinatorConfig     `mapstructure:"coordinator"`
	Pipeline      PipelineConfig        `mapstructure:"pipeline"`
	Calendar      CalendarConfig        `mapstructure:"calendar"`
	TradingWindow TradingWindowConfig   `mapstructure:"trading_window"`
	Instruments   []InstrumentConfig    `mapstructure:"instruments"`
	Roles         map[string]RoleConfig `mapstructure:"roles"`
}

// TradingWindowConfig lists the phases order submission is permitted in.
// NewValidator applies this one chain universally to every role (§4.5), so
// unlike per-role constraints it is not nested under RoleConfig.
type TradingWindowConfig struct {
	AllowedPhases []string `mapstructure:"allowed_phases"`
}

// ServerConfig configures the REST/WebSocket front end.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CoordinatorConfig configures the response coordinator.
type CoordinatorConfig struct {
	DefaultTimeout     time.Duration `mapstructure:"default_timeout"`
	MaxPendingRequests int           `mapstructure:"max_pending_requests"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
	CompletedRetention time.Duration `mapstructure:"completed_retention"`
}

// PipelineConfig sizes the bounded queues between pipeline stages.
type PipelineConfig struct {
	OrderQueueSize    int `mapstructure:"order_queue_size"`
	MatchQueueSize    int `mapstructure:"match_queue_size"`
	TradeQueueSize    int `mapstructure:"trade_queue_size"`
	PositionQueueSize int `mapstructure:"position_queue_size"`
	WSQueueSize       int `mapstructure:"ws_queue_size"`
}

// CalendarConfig is the weekly trading calendar: a timezone plus an
// ordered list of (weekday, window) -> phase entries. The poll interval
// governs how often internal/phase.Poller re-evaluates the calendar.
type CalendarConfig struct {
	Timezone     string               `mapstructure:"timezone"`
	PollInterval time.Duration        `mapstructure:"poll_interval"`
	Entries      []ScheduleEntryConfig `mapstructure:"entries"`
}

// ScheduleEntryConfig is one row of the weekly calendar.
type ScheduleEntryConfig struct {
	Weekday string `mapstructure:"weekday"` // "monday".."sunday"
	Start   string `mapstructure:"start"`   // "HH:MM"
	End     string `mapstructure:"end"`     // "HH:MM"
	Phase   string `mapstructure:"phase"`   // "pre_open"|"opening_auction"|"continuous"|"closed"
}

// InstrumentConfig describes one instrument to list at startup.
type InstrumentConfig struct {
	Symbol     string `mapstructure:"symbol"`
	Underlying string `mapstructure:"underlying"`
	Strike     string `mapstructure:"strike"` // empty for non-option instruments
	Expiry     string `mapstructure:"expiry"` // "2026-01-16"
	OptionType string `mapstructure:"option_type"`
}

// RoleConfig is the concrete shape of "fee schedules and ordered constraint
// lists" the matching/validation core consumes per trading role.
type RoleConfig struct {
	Fee               FeeConfig          `mapstructure:"fee"`
	AllowedOrderTypes []string           `mapstructure:"allowed_order_types"`
	Constraints       []ConstraintConfig `mapstructure:"constraints"`
}

// FeeConfig holds decimal amounts as strings so viper/YAML never routes
// money through float64.
type FeeConfig struct {
	MakerRebate string `mapstructure:"maker_rebate"`
	TakerFee    string `mapstructure:"taker_fee"`
}

// ConstraintConfig is one entry of a role's ordered constraint chain. Kind
// selects which validation.Constraint it builds; the remaining fields are
// interpreted according to Kind and left zero otherwise.
type ConstraintConfig struct {
	Kind               string   `mapstructure:"kind"`
	MinSize            int64    `mapstructure:"min_size"`
	MaxSize            int64    `mapstructure:"max_size"`
	MaxPosition        int64    `mapstructure:"max_position"`
	Symmetric          bool     `mapstructure:"symmetric"`
	MaxTotalPosition   int64    `mapstructure:"max_total_position"`
	MaxOrdersPerSecond int      `mapstructure:"max_orders_per_second"`
	MinPrice           string   `mapstructure:"min_price"`
	MaxPrice           string   `mapstructure:"max_price"`
}

// Load reads path (YAML) with EXCHANGE_* environment overrides layered on
// top via viper's AutomaticEnv, and unmarshals into a Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// HTTPAPIConfig converts ServerConfig into the struct internal/httpapi.New
// expects.
func (c Config) HTTPAPIConfig() httpapi.Config {
	return httpapi.Config{Addr: c.Server.Addr, RequestTimeout: c.Server.RequestTimeout}
}

// CoordinatorConfig converts CoordinatorConfig into internal/coordinator's
// Config.
func (c Config) CoordinatorConfig() coordinator.Config {
	return coordinator.Config{
		DefaultTimeout:     c.Coordinator.DefaultTimeout,
		MaxPendingRequests: c.Coordinator.MaxPendingRequests,
		CleanupInterval:    c.Coordinator.CleanupInterval,
		CompletedRetention: c.Coordinator.CompletedRetention,
	}
}

// PipelineConfig converts PipelineConfig into internal/pipeline's Config.
func (c Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		OrderQueueSize:    c.Pipeline.OrderQueueSize,
		MatchQueueSize:    c.Pipeline.MatchQueueSize,
		TradeQueueSize:    c.Pipeline.TradeQueueSize,
		PositionQueueSize: c.Pipeline.PositionQueueSize,
		WSQueueSize:       c.Pipeline.WSQueueSize,
	}
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var phaseTypes = map[string]phase.Type{
	"pre_open":        phase.PreOpen,
	"opening_auction": phase.OpeningAuction,
	"continuous":      phase.Continuous,
	"closed":          phase.Closed,
}

func parseTimeOfDay(s string) (phase.TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return phase.TimeOfDay{}, fmt.Errorf("config: invalid time %q: %w", s, err)
	}
	return phase.TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// PhaseSchedule builds the phase.Schedule the phase.Manager runs against,
// resolving the timezone name and each weekday/window/phase entry.
func (c Config) PhaseSchedule() (phase.Schedule, error) {
	loc, err := time.LoadLocation(c.Calendar.Timezone)
	if err != nil {
		return phase.Schedule{}, fmt.Errorf("config: calendar.timezone %q: %w", c.Calendar.Timezone, err)
	}

	entries := make([]phase.ScheduleEntry, 0, len(c.Calendar.Entries))
	for _, e := range c.Calendar.Entries {
		weekday, ok := weekdays[strings.ToLower(e.Weekday)]
		if !ok {
			return phase.Schedule{}, fmt.Errorf("config: calendar entry has unknown weekday %q", e.Weekday)
		}
		phaseType, ok := phaseTypes[strings.ToLower(e.Phase)]
		if !ok {
			return phase.Schedule{}, fmt.Errorf("config: calendar entry has unknown phase %q", e.Phase)
		}
		start, err := parseTimeOfDay(e.Start)
		if err != nil {
			return phase.Schedule{}, err
		}
		end, err := parseTimeOfDay(e.End)
		if err != nil {
			return phase.Schedule{}, err
		}
		entries = append(entries, phase.ScheduleEntry{Weekday: weekday, Start: start, End: end, PhaseType: phaseType})
	}

	return phase.Schedule{Location: loc, Entries: entries, States: phase.DefaultStates()}, nil
}

// FeeSchedules builds the role -> fee.Schedule map internal/fee.NewCalculator
// consumes.
func (c Config) FeeSchedules() (map[string]fee.Schedule, error) {
	out := make(map[string]fee.Schedule, len(c.Roles))
	for role, rc := range c.Roles {
		maker, err := decimalOrZero(rc.Fee.MakerRebate)
		if err != nil {
			return nil, fmt.Errorf("config: role %q maker_rebate: %w", role, err)
		}
		taker, err := decimalOrZero(rc.Fee.TakerFee)
		if err != nil {
			return nil, fmt.Errorf("config: role %q taker_fee: %w", role, err)
		}
		out[role] = fee.Schedule{MakerRebate: maker, TakerFee: taker}
	}
	return out, nil
}

func decimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// Constraints builds the role -> ordered constraint chain
// internal/validation.NewValidator consumes. The universal trading-window
// constraint is appended by NewValidator itself (§4.5); this only builds
// the per-role chain named in config.
func (c Config) Constraints() (map[string][]validation.Constraint, error) {
	out := make(map[string][]validation.Constraint, len(c.Roles))
	for role, rc := range c.Roles {
		chain := make([]validation.Constraint, 0, len(rc.Constraints))
		for i, cc := range rc.Constraints {
			constraint, err := buildConstraint(cc)
			if err != nil {
				return nil, fmt.Errorf("config: role %q constraint #%d: %w", role, i, err)
			}
			chain = append(chain, constraint)
		}
		if len(rc.AllowedOrderTypes) > 0 {
			allowed, err := allowedOrderTypes(rc.AllowedOrderTypes)
			if err != nil {
				return nil, fmt.Errorf("config: role %q allowed_order_types: %w", role, err)
			}
			chain = append(chain, validation.OrderTypeAllowed{Allowed: allowed})
		}
		out[role] = chain
	}
	return out, nil
}

func buildConstraint(cc ConstraintConfig) (validation.Constraint, error) {
	switch strings.ToLower(cc.Kind) {
	case "position_limit":
		return validation.PositionLimit{MaxPosition: cc.MaxPosition, Symmetric: cc.Symmetric}, nil
	case "portfolio_limit":
		return validation.PortfolioLimit{MaxTotalPosition: cc.MaxTotalPosition}, nil
	case "order_size":
		return validation.OrderSize{MinSize: cc.MinSize, MaxSize: cc.MaxSize}, nil
	case "order_rate":
		return validation.OrderRate{MaxOrdersPerSecond: cc.MaxOrdersPerSecond}, nil
	case "price_range":
		min, err := decimalOrZero(cc.MinPrice)
		if err != nil {
			return nil, fmt.Errorf("min_price: %w", err)
		}
		max, err := decimalOrZero(cc.MaxPrice)
		if err != nil {
			return nil, fmt.Errorf("max_price: %w", err)
		}
		return validation.PriceRange{Min: min, Max: max}, nil
	default:
		return nil, fmt.Errorf("unknown constraint kind %q", cc.Kind)
	}
}

// TradingWindowConstraint builds the single universal trading-window
// constraint NewValidator appends to every role's chain. An empty
// AllowedPhases list defaults to the two phases submission is ever allowed
// in: continuous and opening_auction.
func (c Config) TradingWindowConstraint() (validation.Constraint, error) {
	names := c.TradingWindow.AllowedPhases
	if len(names) == 0 {
		return validation.TradingWindow{AllowedPhases: map[phase.Type]bool{phase.Continuous: true, phase.OpeningAuction: true}}, nil
	}
	out := make(map[phase.Type]bool, len(names))
	for _, name := range names {
		t, ok := phaseTypes[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("config: trading_window has unknown phase %q", name)
		}
		out[t] = true
	}
	return validation.TradingWindow{AllowedPhases: out}, nil
}

// BuildInstruments builds the instruments listed at startup, parsing each
// optional strike into a *float64 and each option_type string into a
// common.OptionType.
func (c Config) BuildInstruments() ([]common.Instrument, error) {
	out := make([]common.Instrument, 0, len(c.Instruments))
	for i, ic := range c.Instruments {
		var strike *float64
		if ic.Strike != "" {
			s, err := decimalOrZero(ic.Strike)
			if err != nil {
				return nil, fmt.Errorf("config: instrument #%d strike: %w", i, err)
			}
			f, _ := s.Float64()
			strike = &f
		}
		optionType, err := parseOptionType(ic.OptionType)
		if err != nil {
			return nil, fmt.Errorf("config: instrument #%d option_type: %w", i, err)
		}
		inst, err := common.NewInstrument(ic.Symbol, ic.Underlying, strike, ic.Expiry, optionType)
		if err != nil {
			return nil, fmt.Errorf("config: instrument #%d: %w", i, err)
		}
		out = append(out, inst)
	}
	return out, nil
}

func parseOptionType(s string) (common.OptionType, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return common.NoOptionType, nil
	case "call":
		return common.Call, nil
	case "put":
		return common.Put, nil
	default:
		return 0, fmt.Errorf("unknown option_type %q", s)
	}
}

func allowedOrderTypes(names []string) (map[common.OrderType]bool, error) {
	out := make(map[common.OrderType]bool, len(names))
	for _, name := range names {
		ot, err := common.ParseOrderType(name)
		if err != nil {
			return nil, fmt.Errorf("unknown order type %q: %w", name, err)
		}
		out[ot] = true
	}
	return out, nil
}
