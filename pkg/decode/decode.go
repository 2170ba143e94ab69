// Package decode turns raw Modbus register words into typed values and
// back. Rules are data, not callbacks: a closed set of named kinds
// plus one "custom" escape hatch resolved through a registry the
// caller populates ahead of time.
package decode

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Errors returned by the pipeline. Decode and Encode errors are logic
// level: the wire bytes were valid, so retrying cannot fix them.
var (
	ErrInsufficientWords = errors.New("word count does not match rule")
	ErrUnknownRule       = errors.New("unknown decode rule")
	ErrNotReversible     = errors.New("rule cannot encode values")
	ErrBadValue          = errors.New("value type does not match rule")
	ErrOutOfRange        = errors.New("value out of register range")
)

// Kind names a decode rule variant.
type Kind string

const (
	// KindNone passes raw words through: a single word becomes a
	// uint16, several become a []uint16.
	KindNone Kind = "none"
	// KindScale interprets the words as a signed 16 or 32 bit
	// integer, divides by 10^Places and multiplies by Factor.
	KindScale Kind = "scale"
	// KindString decodes each word as two ASCII bytes, high byte
	// first, trimming trailing NULs.
	KindString Kind = "string"
	// KindBool maps one word or bit to a boolean, non-zero is true.
	KindBool Kind = "bool"
	// KindCustom dispatches to a codec registered under Name.
	KindCustom Kind = "custom"
)

// Rule describes how the words of one MIB entry map to a typed value.
// The zero Rule is KindNone over one word.
type Rule struct {
	Kind Kind `yaml:"kind" json:"kind"`

	// Words is the register width of the entry. Defaults to 1;
	// KindScale accepts 1 or 2.
	Words int `yaml:"words" json:"words"`

	// Factor and Places parameterize KindScale.
	Factor float64 `yaml:"factor" json:"factor"`
	Places int     `yaml:"places" json:"places"`

	// Name and Params select and parameterize a KindCustom codec.
	Name   string         `yaml:"name" json:"name"`
	Params map[string]any `yaml:"params" json:"params"`
}

// Clone returns an independent copy of the rule: later mutation of r
// or its params is not visible through the copy.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	if r.Params != nil {
		c.Params = make(map[string]any, len(r.Params))
		for k, v := range r.Params {
			c.Params[k] = v
		}
	}
	return &c
}

// Width returns the number of registers (or bits, for bit-access
// entries) the rule spans. A nil rule spans one.
func (r *Rule) Width() int {
	if r == nil || r.Words <= 0 {
		return 1
	}
	return r.Words
}

func (r *Rule) kind() Kind {
	if r == nil || r.Kind == "" {
		return KindNone
	}
	return r.Kind
}

func (r *Rule) factor() float64 {
	if r == nil || r.Factor == 0 {
		return 1
	}
	return r.Factor
}

// CustomCodec implements one registered custom rule. Encode may be nil
// for read-only rules.
type CustomCodec struct {
	Decode func(words []uint16, params map[string]any) (any, error)
	Encode func(value any, params map[string]any) ([]uint16, error)
	Words  int
}

// Registry resolves custom rule names. Populate it up front, before
// handing it to connections; lookups after that are read-only and safe
// for concurrent use.
type Registry struct {
	codecs map[string]CustomCodec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]CustomCodec)}
}

// Register adds or replaces a named codec.
func (r *Registry) Register(name string, codec CustomCodec) {
	r.codecs[name] = codec
}

func (r *Registry) lookup(name string) (CustomCodec, bool) {
	if r == nil {
		return CustomCodec{}, false
	}
	c, ok := r.codecs[name]
	return c, ok
}

// Decode applies rule to raw words. reg may be nil when no custom
// rules are in play.
func Decode(words []uint16, rule *Rule, reg *Registry) (any, error) {
	switch rule.kind() {
	case KindNone:
		if len(words) == 0 {
			return nil, fmt.Errorf("%w: no words", ErrInsufficientWords)
		}
		if len(words) == 1 {
			return words[0], nil
		}
		out := make([]uint16, len(words))
		copy(out, words)
		return out, nil

	case KindScale:
		raw, err := signedValue(words, rule.Width())
		if err != nil {
			return nil, err
		}
		return float64(raw) / math.Pow10(rule.Places) * rule.factor(), nil

	case KindString:
		if len(words) == 0 {
			return nil, fmt.Errorf("%w: no words", ErrInsufficientWords)
		}
		buf := make([]byte, 0, 2*len(words))
		for _, w := range words {
			buf = append(buf, byte(w>>8), byte(w))
		}
		return strings.TrimRight(string(buf), "\x00"), nil

	case KindBool:
		if len(words) != 1 {
			return nil, fmt.Errorf("%w: bool needs exactly one value, have %d", ErrInsufficientWords, len(words))
		}
		return words[0] != 0, nil

	case KindCustom:
		codec, ok := reg.lookup(rule.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRule, rule.Name)
		}
		return codec.Decode(words, rule.Params)

	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownRule, rule.Kind)
	}
}

// Encode is the inverse of Decode: it turns a typed value back into
// raw words for a write. Rules without an inverse (custom codecs with
// no Encode) fail with ErrNotReversible.
func Encode(value any, rule *Rule, reg *Registry) ([]uint16, error) {
	width := rule.Width()
	switch rule.kind() {
	case KindNone:
		return encodeRaw(value, width)

	case KindScale:
		f, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("%w: scale wants a number, got %T", ErrBadValue, value)
		}
		raw := int64(math.Round(f / rule.factor() * math.Pow10(rule.Places)))
		return signedWords(raw, width)

	case KindString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: string rule wants a string, got %T", ErrBadValue, value)
		}
		if len(s) > 2*width {
			return nil, fmt.Errorf("%w: %q exceeds %d registers", ErrOutOfRange, s, width)
		}
		buf := make([]byte, 2*width)
		copy(buf, s)
		words := make([]uint16, width)
		for i := range words {
			words[i] = uint16(buf[2*i])<<8 | uint16(buf[2*i+1])
		}
		return words, nil

	case KindBool:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: bool rule wants a bool, got %T", ErrBadValue, value)
		}
		if b {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil

	case KindCustom:
		codec, ok := reg.lookup(rule.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRule, rule.Name)
		}
		if codec.Encode == nil {
			return nil, fmt.Errorf("%w: custom rule %q", ErrNotReversible, rule.Name)
		}
		return codec.Encode(value, rule.Params)

	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownRule, rule.Kind)
	}
}

// signedValue folds one or two big-endian words into a signed integer.
func signedValue(words []uint16, width int) (int64, error) {
	if len(words) != width {
		return 0, fmt.Errorf("%w: have %d, want %d", ErrInsufficientWords, len(words), width)
	}
	switch width {
	case 1:
		return int64(int16(words[0])), nil
	case 2:
		return int64(int32(uint32(words[0])<<16 | uint32(words[1]))), nil
	default:
		return 0, fmt.Errorf("%w: scale supports 1 or 2 words, rule has %d", ErrInsufficientWords, width)
	}
}

// signedWords splits a signed integer into one or two big-endian
// words, range checked.
func signedWords(raw int64, width int) ([]uint16, error) {
	switch width {
	case 1:
		if raw < math.MinInt16 || raw > math.MaxInt16 {
			return nil, fmt.Errorf("%w: %d does not fit one register", ErrOutOfRange, raw)
		}
		return []uint16{uint16(int16(raw))}, nil
	case 2:
		if raw < math.MinInt32 || raw > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %d does not fit two registers", ErrOutOfRange, raw)
		}
		u := uint32(int32(raw))
		return []uint16{uint16(u >> 16), uint16(u)}, nil
	default:
		return nil, fmt.Errorf("%w: scale supports 1 or 2 words, rule has %d", ErrInsufficientWords, width)
	}
}

func encodeRaw(value any, width int) ([]uint16, error) {
	switch v := value.(type) {
	case uint16:
		return []uint16{v}, nil
	case []uint16:
		if len(v) != width {
			return nil, fmt.Errorf("%w: have %d words, entry spans %d", ErrInsufficientWords, len(v), width)
		}
		out := make([]uint16, len(v))
		copy(out, v)
		return out, nil
	case bool:
		if v {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil
	default:
		f, ok := toFloat(value)
		if !ok || f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: raw rule wants an integer, got %T", ErrBadValue, value)
		}
		if f < 0 || f > math.MaxUint16 {
			return nil, fmt.Errorf("%w: %v does not fit one register", ErrOutOfRange, value)
		}
		return []uint16{uint16(f)}, nil
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
