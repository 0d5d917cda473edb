package dataset

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the tf.Example protocol buffers
const (
	exampleFeatures  protowire.Number = 1
	featuresFeature  protowire.Number = 1
	mapKey           protowire.Number = 1
	mapValue         protowire.Number = 2
	featureBytesList protowire.Number = 1
	featureFloatList protowire.Number = 2
	featureInt64List protowire.Number = 3
	listValue        protowire.Number = 1
)

// Feature is one feature of a tf.Example. Exactly one of the lists
// is set.
type Feature struct {
	Bytes  [][]byte
	Floats []float32
	Int64s []int64
}

// Example is a decoded tf.Example, a map of feature names to features
type Example map[string]Feature

// ParseExample decodes a serialized tf.Example
func ParseExample(data []byte) (Example, error) {
	example := make(Example)
	err := walk(data, func(num protowire.Number, typ protowire.Type,
		value []byte) error {
		if num != exampleFeatures || typ != protowire.BytesType {
			return nil
		}
		return walk(value, func(num protowire.Number, typ protowire.Type,
			entry []byte) error {
			if num != featuresFeature || typ != protowire.BytesType {
				return nil
			}
			return parseEntry(entry, example)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("parseExample: %w", err)
	}
	return example, nil
}

// parseEntry decodes one entry of the Features map into example
func parseEntry(entry []byte, example Example) error {
	var key string
	var feature Feature
	err := walk(entry, func(num protowire.Number, typ protowire.Type,
		value []byte) error {
		switch {
		case num == mapKey && typ == protowire.BytesType:
			key = string(value)
		case num == mapValue && typ == protowire.BytesType:
			f, err := parseFeature(value)
			if err != nil {
				return fmt.Errorf("feature %q: %w", key, err)
			}
			feature = f
		}
		return nil
	})
	if err != nil {
		return err
	}
	example[key] = feature
	return nil
}

func parseFeature(data []byte) (Feature, error) {
	var feature Feature
	err := walk(data, func(num protowire.Number, typ protowire.Type,
		list []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case featureBytesList:
			return walk(list, func(num protowire.Number, typ protowire.Type,
				value []byte) error {
				if num == listValue && typ == protowire.BytesType {
					feature.Bytes = append(feature.Bytes,
						append([]byte(nil), value...))
				}
				return nil
			})
		case featureFloatList:
			floats, err := parseFloats(list)
			feature.Floats = append(feature.Floats, floats...)
			return err
		case featureInt64List:
			ints, err := parseInt64s(list)
			feature.Int64s = append(feature.Int64s, ints...)
			return err
		}
		return nil
	})
	return feature, err
}

// parseFloats decodes a FloatList, whose values may be packed or not
func parseFloats(data []byte) ([]float32, error) {
	var floats []float32
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == listValue && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed32(packed)
				if m < 0 {
					return nil, protowire.ParseError(m)
				}
				floats = append(floats, math.Float32frombits(v))
				packed = packed[m:]
			}
		case num == listValue && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			floats = append(floats, math.Float32frombits(v))
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return floats, nil
}

// parseInt64s decodes an Int64List, whose values may be packed or not
func parseInt64s(data []byte) ([]int64, error) {
	var ints []int64
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == listValue && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return nil, protowire.ParseError(m)
				}
				ints = append(ints, int64(v))
				packed = packed[m:]
			}
		case num == listValue && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			ints = append(ints, int64(v))
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return ints, nil
}

// walk calls f with each field of the message in data. The value
// passed to f is the content of length delimited fields and the raw
// encoding of all other fields.
func walk(data []byte, f func(protowire.Number, protowire.Type,
	[]byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		var value []byte
		if typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return protowire.ParseError(m)
			}
			value, n = v, m
		} else {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			value = data[:n]
		}
		data = data[n:]

		if err := f(num, typ, value); err != nil {
			return err
		}
	}
	return nil
}

// Marshal serializes the Example as a tf.Example. Features are
// written in order of their names and lists are packed.
func (e Example) Marshal() []byte {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var features []byte
	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, mapKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, mapValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, e[k].marshal())

		features = protowire.AppendTag(features, featuresFeature,
			protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}

	var out []byte
	out = protowire.AppendTag(out, exampleFeatures, protowire.BytesType)
	return protowire.AppendBytes(out, features)
}

func (f Feature) marshal() []byte {
	var list []byte
	var num protowire.Number

	switch {
	case f.Floats != nil:
		num = featureFloatList
		var packed []byte
		for _, v := range f.Floats {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		list = protowire.AppendTag(list, listValue, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	case f.Int64s != nil:
		num = featureInt64List
		var packed []byte
		for _, v := range f.Int64s {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		list = protowire.AppendTag(list, listValue, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	default:
		num = featureBytesList
		for _, v := range f.Bytes {
			list = protowire.AppendTag(list, listValue, protowire.BytesType)
			list = protowire.AppendBytes(list, v)
		}
	}

	var out []byte
	out = protowire.AppendTag(out, num, protowire.BytesType)
	return protowire.AppendBytes(out, list)
}

// Float64s returns the float list of the feature named key as float64
func (e Example) Float64s(key string) ([]float64, error) {
	feature, ok := e[key]
	if !ok {
		return nil, fmt.Errorf("float64s: no feature %q", key)
	}
	if feature.Floats == nil {
		return nil, fmt.Errorf("float64s: feature %q is not a float list",
			key)
	}
	out := make([]float64, len(feature.Floats))
	for i, v := range feature.Floats {
		out[i] = float64(v)
	}
	return out, nil
}
