package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

const (
	tagName     = "env"
	optRequired = "required"
)

var (
	// ErrNotStructPtr is returned when Parse receives anything but a pointer to a struct.
	ErrNotStructPtr = errors.New("input is not a pointer to a struct")

	// ErrRequired is returned when a required variable is not set.
	ErrRequired = errors.New("required variable is not present")
)

var byteSizeType = reflect.TypeOf(ByteSize(0))

func parse(input interface{}, envGetter EnvGetter) error {
	v := reflect.ValueOf(input)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return ErrNotStructPtr
	}
	v = v.Elem()
	t := v.Type()

	var errs []string
	for i := 0; i < t.NumField(); i++ {
		tag, ok := t.Field(i).Tag.Lookup(tagName)
		if !ok {
			continue
		}
		key, opts := parseTag(tag)
		value := envGetter.Get(key)

		if value == "" {
			if contains(opts, optRequired) && v.Field(i).IsZero() {
				errs = append(errs, fmt.Sprintf("- %s: %s", key, ErrRequired))
			}
			continue
		}

		if err := setField(v.Field(i), value); err != nil {
			errs = append(errs, fmt.Sprintf("- %s: %s", key, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to parse config:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func parseTag(tag string) (string, []string) {
	parts := strings.Split(tag, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts[0], parts[1:]
}

func setField(field reflect.Value, value string) error {
	if field.Type() == byteSizeType {
		size, err := units.RAMInBytes(value)
		if err != nil {
			return fmt.Errorf("can't convert to byte size: %w", err)
		}
		field.SetInt(size)
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("can't convert to int: %w", err)
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("type is not supported (%s)", field.Kind())
	}
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("can't convert to bool: %w", err)
	}
	return b, nil
}

func contains(opts []string, opt string) bool {
	for _, o := range opts {
		if o == opt {
			return true
		}
	}
	return false
}
