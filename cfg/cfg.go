// SPDX-License-Identifier: ice License 1.0

package cfg

import (
	"log"
	"reflect"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultYAMLConfigurationFilePath = "/etc/relaypool/relaypool.yaml"
	modulePrefix                     = "github.com/ice-blockchain/relaypool/"
)

var (
	yamlConfigurationFilePathInitializer = new(sync.Once)
	yamlConfigurationFilePath            string
)

func MustInit(absoluteCfgPaths ...string) {
	yamlConfigurationFilePathInitializer.Do(func() { mustInit(absoluteCfgPaths...) })
}

func mustInit(absoluteCfgPaths ...string) {
	yamlConfigurationFilePath = ""
	for _, path := range absoluteCfgPaths {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err == nil {
			yamlConfigurationFilePath = path
			break
		}
	}
	if yamlConfigurationFilePath == "" {
		if len(absoluteCfgPaths) > 0 {
			log.Printf("warn: could not find any of the provided file paths %+v, defaulting to `%v`", absoluteCfgPaths, defaultYAMLConfigurationFilePath)
		}
		yamlConfigurationFilePath = defaultYAMLConfigurationFilePath
	}
}

// Key is the yaml key a configuration type is read from: its package path inside the module.
func Key[T any]() string {
	var t T

	return strings.TrimPrefix(reflect.TypeOf(t).PkgPath(), modulePrefix)
}

func MustGet[T any]() *T {
	t, err := get[T](viper.GetViper())
	if err != nil {
		log.Panic(errors.Wrapf(err, "could not deserialised `%v` yaml key `%v`", yamlConfigurationFilePath, Key[T]()))
	}

	return t
}

func get[T any](v *viper.Viper) (*T, error) {
	var t T
	if err := v.UnmarshalKey(Key[T](), &t, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %+v", t)
	}

	return &t, nil
}

// Watch re-reads the configuration file whenever it changes and hands the new T to onChange.
// Changes that cannot be decoded are logged and skipped.
func Watch[T any](onChange func(*T)) {
	watch(viper.GetViper(), onChange)
}

func watch[T any](v *viper.Viper, onChange func(*T)) {
	v.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}
		t, err := get[T](v)
		if err != nil {
			log.Printf("WARN: ignoring configuration change in %v: %v", event.Name, err)

			return
		}
		onChange(t)
	})
	v.WatchConfig()
}
