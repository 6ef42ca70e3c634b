/*
Package config provides the profiler's YAML configuration file
*/
/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package config

import (
	"fmt"
	"os"
	"time"

	"emperror.dev/errors"
	"github.com/creasty/defaults"
	"github.com/intel/svr-profiler/internal/sampler"
	"github.com/intel/svr-profiler/internal/util"
	"gopkg.in/yaml.v2"
)

// Sampler names accepted in the samplers list.
const (
	SamplerRapl    = "rapl"
	SamplerPerf    = "perf"
	SamplerMpstat  = "mpstat"
	SamplerCPUIdle = "cpuidle"
)

var knownSamplers = []string{SamplerRapl, SamplerPerf, SamplerMpstat, SamplerCPUIdle}

type Rapl struct {
	Sysfs  string `default:"/sys" yaml:"sysfs"`
	DevCPU string `default:"/dev/cpu" yaml:"dev_cpu"`
	Source string `default:"auto" yaml:"source"`
}

type CPUIdle struct {
	Sysfs string `default:"/sys" yaml:"sysfs"`
	CPUs  int    `yaml:"cpus"` // sample cpus numbered below this, all when zero
}

type Mpstat struct {
	Path           string `default:"mpstat" yaml:"path"`
	SamplingPeriod int    `default:"1" yaml:"sampling_period"`
}

type Perf struct {
	Path           string `yaml:"path"`
	SamplingPeriod int    `default:"30" yaml:"sampling_period"`
	SamplingLength int    `default:"30" yaml:"sampling_length"`
}

type Config struct {
	Host     string   `yaml:"host"`
	Port     int      `default:"8000" yaml:"port"`
	Samplers []string `default:"[\"rapl\",\"perf\",\"mpstat\",\"cpuidle\"]" yaml:"samplers"`
	Rapl     Rapl     `yaml:"rapl"`
	CPUIdle  CPUIdle  `yaml:"cpuidle"`
	Mpstat   Mpstat   `yaml:"mpstat"`
	Perf     Perf     `yaml:"perf"`
}

func (s *Rapl) UnmarshalYAML(unmarshal func(interface{}) error) error {
	defaults.Set(s)
	type plain Rapl
	if err := unmarshal((*plain)(s)); err != nil {
		return err
	}
	return nil
}

func (s *CPUIdle) UnmarshalYAML(unmarshal func(interface{}) error) error {
	defaults.Set(s)
	type plain CPUIdle
	if err := unmarshal((*plain)(s)); err != nil {
		return err
	}
	return nil
}

func (s *Mpstat) UnmarshalYAML(unmarshal func(interface{}) error) error {
	defaults.Set(s)
	type plain Mpstat
	if err := unmarshal((*plain)(s)); err != nil {
		return err
	}
	return nil
}

func (s *Perf) UnmarshalYAML(unmarshal func(interface{}) error) error {
	defaults.Set(s)
	type plain Perf
	if err := unmarshal((*plain)(s)); err != nil {
		return err
	}
	return nil
}

func (s *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	defaults.Set(s)
	type plain Config
	if err := unmarshal((*plain)(s)); err != nil {
		return err
	}
	return nil
}

// Default returns the configuration used when no file is given.
func Default() (c *Config) {
	c = &Config{}
	defaults.Set(c)
	return
}

// Load reads and validates the configuration at path. An empty path yields the
// defaults.
func Load(path string) (c *Config, err error) {
	if path == "" {
		c = Default()
		return
	}
	if path, err = util.AbsPath(path); err != nil {
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		err = errors.WrapIf(err, "read config")
		return
	}
	c, err = Parse(content)
	if err != nil {
		err = errors.WrapIff(err, "config %s", path)
	}
	return
}

// Parse decodes and validates YAML configuration content.
func Parse(content []byte) (c *Config, err error) {
	c = Default()
	if err = yaml.UnmarshalStrict(content, c); err != nil {
		c = nil
		return
	}
	if err = c.Validate(); err != nil {
		c = nil
	}
	return
}

func (c *Config) Validate() (err error) {
	if c.Port < 1 || c.Port > 65535 {
		err = fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
		return
	}
	for _, name := range c.Samplers {
		if !util.StringInList(name, knownSamplers) {
			err = fmt.Errorf("unknown sampler %q, expected one of %v", name, knownSamplers)
			return
		}
	}
	switch c.Rapl.Source {
	case "auto", "sysfs", "msr":
	default:
		err = fmt.Errorf("rapl.source must be auto, sysfs or msr, got %q", c.Rapl.Source)
		return
	}
	if c.Mpstat.SamplingPeriod < 1 {
		err = fmt.Errorf("mpstat.sampling_period must be at least 1, got %d", c.Mpstat.SamplingPeriod)
		return
	}
	if c.CPUIdle.CPUs < 0 {
		err = fmt.Errorf("cpuidle.cpus must not be negative, got %d", c.CPUIdle.CPUs)
		return
	}
	if c.Perf.SamplingPeriod < 1 {
		err = fmt.Errorf("perf.sampling_period must be at least 1, got %d", c.Perf.SamplingPeriod)
		return
	}
	if c.Perf.SamplingLength < 0 || c.Perf.SamplingLength > c.Perf.SamplingPeriod {
		err = fmt.Errorf("perf.sampling_length must be between 0 and perf.sampling_period, got %d", c.Perf.SamplingLength)
	}
	return
}

func (p Perf) SamplerConfig() sampler.Config {
	return sampler.Config{
		SamplingPeriod: time.Duration(p.SamplingPeriod) * time.Second,
		SamplingLength: time.Duration(p.SamplingLength) * time.Second,
	}
}

func (m Mpstat) Period() time.Duration {
	return time.Duration(m.SamplingPeriod) * time.Second
}
