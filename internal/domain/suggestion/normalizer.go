package suggestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Normalize maps a decoded AI response onto suggestions using DefaultRules
func Normalize(raw any) (*Result, error) {
	return DefaultRules().Normalize(raw)
}

// NormalizeJSON decodes a raw response body and normalizes it
func NormalizeJSON(data []byte) (*Result, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return Normalize(raw)
}

// Normalize maps a decoded AI response onto suggestions. Items that cannot be
// normalized are dropped and reported in Result.Dropped; ErrEmptyList is
// returned when nothing usable remains.
func (r Rules) Normalize(raw any) (*Result, error) {
	list, location, ok := r.locate(raw)
	if !ok {
		return nil, ErrEmptyList
	}

	result := &Result{
		Suggestions: make([]Suggestion, 0, len(list)),
		Location:    location,
		Extras:      extractExtras(raw),
	}

	for i, elem := range list {
		item, ok := elem.(map[string]any)
		if !ok {
			result.Dropped = append(result.Dropped, &FieldError{
				Index:   i,
				Field:   FieldName,
				Message: fmt.Sprintf("item is %T, not an object", elem),
			})
			continue
		}

		s, ferr := r.extract(i, item)
		if ferr != nil {
			result.Dropped = append(result.Dropped, ferr)
			continue
		}
		result.Suggestions = append(result.Suggestions, s)
	}

	if len(result.Suggestions) == 0 {
		return nil, fmt.Errorf("%w: all %d items dropped", ErrEmptyList, len(list))
	}
	return result, nil
}

func (r Rules) extract(index int, item map[string]any) (Suggestion, *FieldError) {
	name, ok := r.Name.Extract(item)
	if !ok {
		return Suggestion{}, &FieldError{Index: index, Field: FieldName, Message: "no rule matched"}
	}

	s := Suggestion{Name: name, SourceIndex: index}
	fields := []struct {
		rules FieldRules
		dst   *string
	}{
		{r.Dosage, &s.DosageLabel},
		{r.Quantity, &s.Quantity},
		{r.Usage, &s.UsageInstructions},
	}
	for _, f := range fields {
		v, ok := f.rules.Extract(item)
		if !ok {
			return Suggestion{}, &FieldError{Index: index, Field: f.rules.Field, Message: "no rule matched"}
		}
		*f.dst = v
	}

	s.Warning, _ = r.Warning.Extract(item)
	return s, nil
}

func (r Rules) locate(raw any) ([]any, string, bool) {
	for _, loc := range r.Locations {
		var v any = raw
		if len(loc.Keys) > 0 {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if v, ok = lookup(m, loc.Keys); !ok {
				continue
			}
		}
		if list := asList(v); len(list) > 0 {
			return list, loc.Name, true
		}
	}
	return nil, "", false
}

func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	}
	return nil
}

func extractExtras(raw any) Extras {
	m, ok := raw.(map[string]any)
	if !ok {
		return Extras{}
	}
	return Extras{
		TechnicalSummary: stringList(m["resumo_tecnico_medico"]),
		PatientGuidance:  stringList(m["orientacoes_ao_paciente"]),
		SafetyAlerts:     stringList(m["alertas_seguranca"]),
		Monitoring:       stringList(m["monitorizacao"]),
		Sources:          sources(m["fontes"]),
		ConfidenceScore:  number(m["confidence_score"]),
	}
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if s := clean(t); s != "" {
			return []string{s}
		}
	case []any:
		var out []string
		for _, e := range t {
			if s, ok := e.(string); ok {
				if s = clean(s); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	}
	return nil
}

func sources(v any) []Source {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []Source
	for _, e := range list {
		switch t := e.(type) {
		case string:
			if s := clean(t); s != "" {
				out = append(out, Source{Title: s})
			}
		case map[string]any:
			src := Source{ConfidenceScore: number(t["confidence_score"])}
			src.ID, _ = text(t["source_id"])
			src.Type, _ = text(t["source_type"])
			src.Title, _ = text(t["title"])
			if src.Title != "" {
				out = append(out, src)
			}
		}
	}
	return out
}

func number(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case float64:
		f = t
	case int:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}
