package graphstore

import (
	"encoding/json"
	"time"

	"github.com/jmagar/core-sub000/domain"
)

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intProp(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func floatProp(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func timeProp(props map[string]any, key string) time.Time {
	if s, ok := props[key].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func timePtrProp(props map[string]any, key string) *time.Time {
	s, ok := props[key].(string)
	if !ok || s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

func float32SliceProp(props map[string]any, key string) []float32 {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]float32, len(raw))
	for i, v := range raw {
		switch f := v.(type) {
		case float64:
			out[i] = float32(f)
		case float32:
			out[i] = f
		}
	}
	return out
}

func stringSliceProp(props map[string]any, key string) []string {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func jsonProp(props map[string]any, key string) domain.Attributes {
	s, ok := props[key].(string)
	if !ok || s == "" {
		return domain.Attributes{}
	}
	var attrs domain.Attributes
	if err := json.Unmarshal([]byte(s), &attrs); err != nil {
		return domain.Attributes{}
	}
	return attrs
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func mapStringStringProp(props map[string]any, key string) map[string]string {
	s, ok := props[key].(string)
	if !ok || s == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
