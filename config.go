package rearview

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the default name of the configuration file, looked up
// relative to the executable.
const ConfigFile = "superpowers.yaml"

// Config mirrors superpowers.yaml: parameters for the enabled powers,
// and the subnet blocks mapping powers to networks.
type Config struct {
	Params  *Params  `yaml:"params"`
	Subnets []Subnet `yaml:"subnets"`
}

// Params holds the per-power configuration parameters.
type Params struct {
	SQLite    *SQLiteParams    `yaml:"sqlite"`
	ShoDoHFlo *ShoDoHFloParams `yaml:"shodohflo"`
}

type SQLiteParams struct {
	DB string `yaml:"db"`
}

type ShoDoHFloParams struct {
	RedisServer string `yaml:"redis_server"`
	TTL         int    `yaml:"ttl"`
	MaxAssocs   int    `yaml:"max_assocs"`
}

// Subnet maps an ordered list of powers to a list of networks. Powers
// may be null to use only the fallback FQDNs of the nets.
type Subnet struct {
	Powers []string  `yaml:"powers"`
	Nets   []NetSpec `yaml:"nets"`
}

// NetSpec is one net entry: a network (or bare address, treated as a
// /32), a mode and an optional fallback FQDN. It can be given as a
// mapping or as the equivalent "net mode [fqdn]" string.
type NetSpec struct {
	Net  string `yaml:"net"`
	Mode string `yaml:"mode"`
	FQDN string `yaml:"fqdn"`
}

func (n *NetSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		fields := strings.Fields(value.Value)
		if len(fields) < 2 || len(fields) > 3 {
			return fmt.Errorf("net spec is 'net mode [fqdn]': %q", value.Value)
		}
		n.Net, n.Mode = fields[0], fields[1]
		if len(fields) == 3 {
			n.FQDN = fields[2]
		}
		return nil
	}
	type plain NetSpec
	return value.Decode((*plain)(n))
}

// LoadConfig reads and validates a configuration file.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// validate checks the configuration for structural errors. All of them
// are fatal at startup.
func (c *Config) validate() error {
	if c.Params == nil {
		return errors.New("no params section")
	}
	if c.Params.SQLite != nil && c.Params.SQLite.DB == "" {
		return errors.New("'sqlite' does not contain 'db'")
	}
	if c.Params.ShoDoHFlo != nil && c.Params.ShoDoHFlo.RedisServer == "" {
		return errors.New("'shodohflo' does not contain 'redis_server'")
	}
	if len(c.Subnets) == 0 {
		return errors.New("no subnets section")
	}
	for i, subnet := range c.Subnets {
		for _, name := range subnet.Powers {
			if name != PowerSQLite && name != PowerShoDoHFlo {
				return fmt.Errorf("subnet %d: %q is not a recognized power", i+1, name)
			}
		}
		if len(subnet.Nets) == 0 {
			return fmt.Errorf("subnet %d: missing nets", i+1)
		}
		for _, spec := range subnet.Nets {
			if _, err := parseNet(spec.Net); err != nil {
				return fmt.Errorf("subnet %d: %w", i+1, err)
			}
			switch Mode(spec.Mode) {
			case ModeFirst, ModeLast, ModeAlways, ModeNever:
			default:
				return fmt.Errorf("subnet %d: invalid mode %q", i+1, spec.Mode)
			}
		}
	}
	return nil
}

// Build compiles the configuration into the scope database. Each
// referenced power is created once and shared between subnet blocks.
func (c *Config) Build() (*Nets, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	powers := make(map[string]Power)
	nets := NewNets()
	for i, subnet := range c.Subnets {
		var subnetPowers []Power
		for _, name := range subnet.Powers {
			power, ok := powers[name]
			if !ok {
				var err error
				power, err = c.newPower(name)
				if err != nil {
					return nil, fmt.Errorf("subnet %d: %w", i+1, err)
				}
				powers[name] = power
			}
			subnetPowers = append(subnetPowers, power)
		}
		for _, spec := range subnet.Nets {
			prefix, err := parseNet(spec.Net)
			if err != nil {
				return nil, fmt.Errorf("subnet %d: %w", i+1, err)
			}
			nets.add(prefix, &Scope{
				Prefix: prefix.Bits(),
				Mode:   Mode(spec.Mode),
				Powers: subnetPowers,
				fqdn:   spec.FQDN,
			})
		}
	}
	return nets, nil
}

func (c *Config) newPower(name string) (Power, error) {
	switch name {
	case PowerSQLite:
		if c.Params.SQLite == nil {
			return nil, errors.New("power 'sqlite' is used but has no params")
		}
		return NewSQLitePower(SQLitePowerOptions{DBFile: c.Params.SQLite.DB})
	case PowerShoDoHFlo:
		if c.Params.ShoDoHFlo == nil {
			return nil, errors.New("power 'shodohflo' is used but has no params")
		}
		return NewShoDoHFloPower(ShoDoHFloPowerOptions{
			RedisServer: c.Params.ShoDoHFlo.RedisServer,
			TTL:         time.Duration(c.Params.ShoDoHFlo.TTL) * time.Second,
			MaxAssocs:   c.Params.ShoDoHFlo.MaxAssocs,
		}), nil
	default:
		return nil, fmt.Errorf("%q is not a recognized power", name)
	}
}

// parseNet parses a CIDR. A bare address without a prefix is treated as
// a /32. Only IPv4 networks are supported.
func parseNet(s string) (netip.Prefix, error) {
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is4() {
			return netip.Prefix{}, fmt.Errorf("invalid network %q", s)
		}
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}
	prefix, err := netip.ParsePrefix(s)
	if err != nil || !prefix.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("invalid network %q", s)
	}
	return prefix.Masked(), nil
}
