// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"gopkg.in/validator.v2"
)

// ConfigError wraps any failure to read or parse the configuration file.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Load reads and decodes the TOML configuration at path, validating struct
// tags and pre-compiling every feed's filter regexes so a bad pattern fails
// fast at load time instead of mid-cycle.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	if err := validator.Validate(&c); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	if _, err := c.Feeds(); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return &c, nil
}
