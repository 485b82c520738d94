package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"
)

var (
	// ErrNotPointer is returned when SetConfigFromEnvVars gets a non-pointer.
	ErrNotPointer = errors.New("config: target must be a pointer to a struct")
	// ErrInvalidEnvValue reports an environment variable that does not parse into its field.
	ErrInvalidEnvValue = errors.New("config: invalid environment value")
)

var durationType = reflect.TypeOf(time.Duration(0))

// SetConfigFromEnvVars overwrites every field tagged `env:"NAME"` with the
// value of NAME when that variable is set. Nested structs are walked.
func SetConfigFromEnvVars(s any) error {
	v := reflect.ValueOf(s)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return ErrNotPointer
	}

	return setFromEnv(v.Elem())
}

func setFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := range t.NumField() {
		field, value := t.Field(i), v.Field(i)
		if !field.IsExported() {
			continue
		}

		name, tagged := field.Tag.Lookup("env")
		if !tagged {
			if value.Kind() == reflect.Struct {
				if err := setFromEnv(value); err != nil {
					return err
				}
			}

			continue
		}

		raw, ok := os.LookupEnv(name)
		if !ok {
			continue
		}

		if err := assign(value, raw); err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalidEnvValue, name, raw, err)
		}
	}

	return nil
}

func assign(value reflect.Value, raw string) error {
	if value.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}

		value.SetInt(int64(d))

		return nil
	}

	switch value.Kind() {
	case reflect.String:
		value.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}

		value.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, value.Type().Bits())
		if err != nil {
			return err
		}

		value.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, value.Type().Bits())
		if err != nil {
			return err
		}

		value.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, value.Type().Bits())
		if err != nil {
			return err
		}

		value.SetFloat(f)
	default:
		return fmt.Errorf("unsupported field kind %s", value.Kind())
	}

	return nil
}
