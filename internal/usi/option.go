package usi

import (
	"strings"
)

const optionPrefix = "option name "

// Option is one `option name ... type ...` declaration from an engine.
// Values are kept as the engine sent them; interpretation depends on Type.
type Option struct {
	Name    string   `json:"name" yaml:"name"`
	Type    string   `json:"option_type" yaml:"type"`
	Default *string  `json:"default,omitempty" yaml:"default,omitempty"`
	Min     *string  `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *string  `json:"max,omitempty" yaml:"max,omitempty"`
	Var     []string `json:"var" yaml:"var,omitempty"`
}

// ParseOption parses an option declaration line. ok is false for any line
// that is not an option declaration or lacks a name or type.
func ParseOption(line string) (opt Option, ok bool) {
	if !strings.HasPrefix(line, optionPrefix) {
		return Option{}, false
	}
	parts := strings.Fields(line)

	i := 2
	var name []string
	for i < len(parts) && parts[i] != "type" {
		name = append(name, parts[i])
		i++
	}
	i++ // "type"

	var typ string
	if i < len(parts) {
		typ = parts[i]
		i++
	}

	opt = Option{Name: strings.Join(name, " "), Type: typ, Var: []string{}}
	for i < len(parts) {
		key := parts[i]
		i++
		if i >= len(parts) {
			break
		}
		switch key {
		case "default":
			opt.Default = strPtr(parts[i])
		case "min":
			opt.Min = strPtr(parts[i])
		case "max":
			opt.Max = strPtr(parts[i])
		case "var":
			opt.Var = append(opt.Var, parts[i])
		default:
			continue
		}
		i++
	}

	if opt.Name == "" || opt.Type == "" {
		return Option{}, false
	}
	return opt, true
}

// String renders the declaration in canonical field order.
func (o Option) String() string {
	var sb strings.Builder
	sb.WriteString(optionPrefix)
	sb.WriteString(o.Name)
	sb.WriteString(" type ")
	sb.WriteString(o.Type)
	writeField := func(key string, v *string) {
		if v == nil {
			return
		}
		sb.WriteByte(' ')
		sb.WriteString(key)
		sb.WriteByte(' ')
		sb.WriteString(*v)
	}
	writeField("default", o.Default)
	writeField("min", o.Min)
	writeField("max", o.Max)
	for _, v := range o.Var {
		sb.WriteString(" var ")
		sb.WriteString(v)
	}
	return sb.String()
}

func strPtr(s string) *string { return &s }
