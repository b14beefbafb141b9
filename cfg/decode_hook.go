// Copyright 2024 Google LLC
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

package cfg

import (
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

// hookFunc decodes the custom string-backed types (LogSeverity, ResolvedPath)
// through their UnmarshalText method, the same way the teacher's config
// decoder special-cases its own custom flag types.
func hookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		s := data.(string)

		switch t {
		case reflect.TypeOf(LogSeverity("")):
			var v LogSeverity
			if err := v.UnmarshalText([]byte(s)); err != nil {
				return nil, err
			}
			return v, nil
		case reflect.TypeOf(ResolvedPath("")):
			var v ResolvedPath
			if err := v.UnmarshalText([]byte(s)); err != nil {
				return nil, err
			}
			return v, nil
		case reflect.TypeOf(time.Duration(0)):
			return time.ParseDuration(s)
		}

		return data, nil
	}
}

// DecoderConfigOption is passed to viper.Unmarshal to install hookFunc
// alongside viper's defaults.
func DecoderConfigOption(c *mapstructure.DecoderConfig) {
	c.DecodeHook = mapstructure.ComposeDecodeHookFunc(
		hookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}
