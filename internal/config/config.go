// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config defines the global configuration structure
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json, console
	File   string `mapstructure:"file"`   // Log file path, empty or "-" for stderr
}

// SerialConfig defines the EZ-Zone controller serial line
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Retries  int           `mapstructure:"retries"` // Full write/read cycles before giving up

	// RS485 specific, the controller port is RS-485/RS-422 behind an adapter
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// GatewayConfig defines the EZ-Zone Modbus TCP gateway
type GatewayConfig struct {
	Address      string        `mapstructure:"address"` // e.g. "192.168.1.100" or "192.168.1.100:502"
	SlaveID      byte          `mapstructure:"slave_id"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ModbusOffset int           `mapstructure:"modbus_offset"` // Register distance between zones
	MaxTemp      float64       `mapstructure:"max_temp"`      // Upper setpoint bound, Celsius
}

// SimulatorConfig defines the gateway simulator
type SimulatorConfig struct {
	Address     string            `mapstructure:"address"`
	Zones       int               `mapstructure:"zones"`
	Interval    time.Duration     `mapstructure:"interval"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig defines register storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "mmap"
	Path string `mapstructure:"path"` // File path for "mmap" type
}

const (
	DefaultSerialDevice = "/dev/ttyUSB0"
	DefaultBaudRate     = 38400
	DefaultModbusPort   = "502"
)

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string][]string{
	"log-level":  {"log.level"},
	"log-format": {"log.format"},
	"log-file":   {"log.file"},
	"timeout":    {"serial.timeout", "gateway.timeout"},
	"retries":    {"serial.retries"},
	"max-temp":   {"gateway.max_temp"},
	"offset":     {"gateway.modbus_offset"},
	"slave-id":   {"gateway.slave_id"},
	"listen":     {"simulator.address"},
	"zones":      {"simulator.zones"},
	"interval":   {"simulator.interval"},
	"store":      {"simulator.persistence.type"},
	"store-path": {"simulator.persistence.path"},
}

// New returns the default configuration
func New() *Config {
	cfg, _ := load(newViper(), nil)
	return cfg
}

// LoadConfig loads configuration from file and command line flags.
// An empty configFile searches the default locations and tolerates absence.
func LoadConfig(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := newViper()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/watlow/")
		v.AddConfigPath("$HOME/.watlow")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return load(v, flags)
}

func newViper() *viper.Viper {
	v := viper.New()

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")

	v.SetDefault("serial.device", DefaultSerialDevice)
	v.SetDefault("serial.baud_rate", DefaultBaudRate)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.timeout", 500*time.Millisecond)
	v.SetDefault("serial.retries", 3)

	v.SetDefault("gateway.slave_id", 1)
	v.SetDefault("gateway.timeout", time.Second)
	v.SetDefault("gateway.modbus_offset", 5000)
	v.SetDefault("gateway.max_temp", 220.0)

	v.SetDefault("simulator.address", "127.0.0.1:5020")
	v.SetDefault("simulator.zones", 8)
	v.SetDefault("simulator.interval", time.Second)
	v.SetDefault("simulator.persistence.type", "memory")

	return v
}

func load(v *viper.Viper, flags *pflag.FlagSet) (*Config, error) {
	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate / Fixups
	fixupSerial(&config.Serial)
	fixupGateway(&config.Gateway)
	config.Log.Level = strings.ToLower(config.Log.Level)
	config.Log.Format = strings.ToLower(config.Log.Format)

	return &config, nil
}

// bindFlags binds only flags present in the set, so each binary can
// register its own subset.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, keys := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		for _, key := range keys {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag %q: %w", name, err)
			}
		}
	}
	return nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Device == "" {
		s.Device = DefaultSerialDevice
	}
	if s.BaudRate == 0 {
		s.BaudRate = DefaultBaudRate
	}
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
	if s.Retries <= 0 {
		s.Retries = 3
	}
}

func fixupGateway(g *GatewayConfig) {
	if g.Timeout == 0 {
		g.Timeout = time.Second
	}
	if g.ModbusOffset == 0 {
		g.ModbusOffset = 5000
	}
	if g.MaxTemp == 0 {
		g.MaxTemp = 220
	}
	g.Address = GatewayAddress(g.Address)
}

// GatewayAddress appends the Modbus TCP port to a bare host.
func GatewayAddress(address string) string {
	if address == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, DefaultModbusPort)
}
