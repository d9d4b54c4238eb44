package config

import (
	"fmt"
	"reflect"
	"time"

	"gopkg.in/yaml.v3"
)

const redactedValue = "***"

// sensitiveKeys are masked even when they were not read from the secrets file.
var sensitiveKeys = map[string]bool{
	"secret_access_key": true,
	"session_token":     true,
}

var durationType = reflect.TypeOf(time.Duration(0))

// String returns the full configuration as YAML. Sensitive keys are masked.
func (c *Config) String() string {
	return c.Redacted(nil)
}

// Redacted returns the configuration as YAML with secrets masked.
// Pass the secrets map returned by LoadWithSecrets to mask those values too.
func (c *Config) Redacted(secrets map[string]interface{}) string {
	out, err := yaml.Marshal(c.Settings(secrets))
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return string(out)
}

// Settings returns the configuration as nested maps keyed like the config
// file. Leaves present in secrets, and sensitive keys, are masked.
func (c *Config) Settings(secrets map[string]interface{}) map[string]interface{} {
	return settings(reflect.ValueOf(c).Elem(), secrets)
}

func settings(v reflect.Value, mask map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, v.NumField())
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if !value.CanInterface() {
			continue
		}

		name := field.Name
		if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
			name = tag
		}
		masked := mask[name]

		if value.Kind() == reflect.Struct {
			nested, _ := masked.(map[string]interface{})
			out[name] = settings(value, nested)
			continue
		}

		switch {
		case shouldRedact(masked) || (sensitiveKeys[name] && !value.IsZero()):
			out[name] = redactedValue
		case value.Type() == durationType:
			out[name] = time.Duration(value.Int()).String()
		default:
			out[name] = value.Interface()
		}
	}
	return out
}

// shouldRedact reports whether a secrets file value is set.
func shouldRedact(v interface{}) bool {
	if v == nil {
		return false
	}
	return !reflect.ValueOf(v).IsZero()
}
