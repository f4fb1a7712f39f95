package wire

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/danmuck/meshctl/internal/protocol"
	"google.golang.org/protobuf/encoding/protowire"
)

// Config and ModuleConfig are two levels of `pb` tagged structs: a set of optional
// sections, each a set of optional scalar leaves. The codec walks the tags so the
// section types stay plain data.

func MarshalConfig(c *protocol.Config) []byte {
	if c == nil {
		return nil
	}
	return marshalSections(reflect.ValueOf(c).Elem())
}

func UnmarshalConfig(b []byte) (*protocol.Config, error) {
	c := &protocol.Config{}
	if err := unmarshalSections("config", b, reflect.ValueOf(c).Elem()); err != nil {
		return nil, err
	}
	return c, nil
}

func MarshalModuleConfig(m *protocol.ModuleConfig) []byte {
	if m == nil {
		return nil
	}
	return marshalSections(reflect.ValueOf(m).Elem())
}

func UnmarshalModuleConfig(b []byte) (*protocol.ModuleConfig, error) {
	m := &protocol.ModuleConfig{}
	if err := unmarshalSections("module config", b, reflect.ValueOf(m).Elem()); err != nil {
		return nil, err
	}
	return m, nil
}

func tagNumber(sf reflect.StructField) (protowire.Number, bool) {
	raw, ok := sf.Tag.Lookup("pb")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return protowire.Number(n), true
}

func marshalSections(v reflect.Value) []byte {
	var e encoder
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		num, ok := tagNumber(t.Field(i))
		fv := v.Field(i)
		if !ok || fv.IsNil() {
			continue
		}
		e.message(num, marshalLeaves(fv.Elem()))
	}
	return e.b
}

func marshalLeaves(v reflect.Value) []byte {
	var e encoder
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		num, ok := tagNumber(t.Field(i))
		fv := v.Field(i)
		if !ok || fv.IsNil() {
			continue
		}
		leaf := fv.Elem()
		switch leaf.Kind() {
		case reflect.Bool:
			e.optBool(num, leaf.Bool())
		case reflect.Uint32:
			e.optVarint(num, leaf.Uint())
		case reflect.Int32:
			e.optVarint(num, uint64(leaf.Int()))
		case reflect.String:
			e.optString(num, leaf.String())
		}
	}
	return e.b
}

func unmarshalSections(name string, b []byte, v reflect.Value) error {
	index := fieldIndex(v.Type())
	return decodeEach(name, b, func(f field) error {
		i, ok := index[f.num]
		if !ok {
			return nil
		}
		if err := f.want(protowire.BytesType); err != nil {
			return err
		}
		fv := v.Field(i)
		section := reflect.New(fv.Type().Elem())
		if err := unmarshalLeaves(v.Type().Field(i).Name, f.data, section.Elem()); err != nil {
			return err
		}
		fv.Set(section)
		return nil
	})
}

func unmarshalLeaves(name string, b []byte, v reflect.Value) error {
	index := fieldIndex(v.Type())
	return decodeEach(name, b, func(f field) error {
		i, ok := index[f.num]
		if !ok {
			return nil
		}
		fv := v.Field(i)
		leaf := reflect.New(fv.Type().Elem())
		switch leaf.Elem().Kind() {
		case reflect.Bool:
			x, err := f.bool()
			if err != nil {
				return err
			}
			leaf.Elem().SetBool(x)
		case reflect.Uint32:
			x, err := f.uint32()
			if err != nil {
				return err
			}
			leaf.Elem().SetUint(uint64(x))
		case reflect.Int32:
			x, err := f.int32()
			if err != nil {
				return err
			}
			leaf.Elem().SetInt(int64(x))
		case reflect.String:
			x, err := f.string()
			if err != nil {
				return err
			}
			leaf.Elem().SetString(x)
		default:
			return fmt.Errorf("unsupported leaf kind %s", leaf.Elem().Kind())
		}
		fv.Set(leaf)
		return nil
	})
}

func fieldIndex(t reflect.Type) map[protowire.Number]int {
	out := make(map[protowire.Number]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if num, ok := tagNumber(t.Field(i)); ok {
			out[num] = i
		}
	}
	return out
}
