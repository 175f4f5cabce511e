package suggestion

import (
	"encoding/json"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Rule is a pure extraction step over one response item
type Rule struct {
	Name  string
	Apply func(item map[string]any) (string, bool)
}

// Path builds a rule reading a dotted path such as "medicamento.nome"
func Path(path string) Rule {
	keys := strings.Split(path, ".")
	return Rule{
		Name: path,
		Apply: func(item map[string]any) (string, bool) {
			v, ok := lookup(item, keys)
			if !ok {
				return "", false
			}
			return text(v)
		},
	}
}

// Flag builds a rule yielding label when the boolean at path is true
func Flag(path, label string) Rule {
	keys := strings.Split(path, ".")
	return Rule{
		Name: path + "?",
		Apply: func(item map[string]any) (string, bool) {
			v, ok := lookup(item, keys)
			if !ok {
				return "", false
			}
			b, isBool := v.(bool)
			return label, isBool && b
		},
	}
}

// FieldRules is the ordered probe table for one Suggestion field
type FieldRules struct {
	Field    string
	Rules    []Rule
	Fallback string
}

// Extract runs the rules in order; the first match wins, then the fallback
func (f FieldRules) Extract(item map[string]any) (string, bool) {
	for _, r := range f.Rules {
		if v, ok := r.Apply(item); ok {
			return v, true
		}
	}
	if f.Fallback != "" {
		return f.Fallback, true
	}
	return "", false
}

// Location is a candidate place for the suggestion list. Empty Keys means the root.
type Location struct {
	Name string
	Keys []string
}

// Rules is the complete extraction table
type Rules struct {
	Locations []Location
	Name      FieldRules
	Dosage    FieldRules
	Quantity  FieldRules
	Usage     FieldRules
	Warning   FieldRules
}

// DefaultRules returns the table matching the shapes the AI service is known to emit
func DefaultRules() Rules {
	return Rules{
		Locations: []Location{
			{Name: "prescricoes", Keys: []string{"prescricoes"}},
			{Name: "medicamentos", Keys: []string{"medicamentos"}},
			{Name: "medications", Keys: []string{"medications"}},
			{Name: "suggestions", Keys: []string{"suggestions"}},
			{Name: "root"},
		},
		Name: FieldRules{
			Field: FieldName,
			Rules: paths(
				"medicamento.nome",
				"medication.name",
				"nome_medicamento",
				"nome",
				"name",
				"resumo.nome",
				"summary.name",
			),
		},
		Dosage: FieldRules{
			Field: FieldDosage,
			Rules: paths(
				"medicamento.dosagem",
				"medication.dosage",
				"dosagem",
				"dosage",
				"concentracao",
				"medicamento.concentracao",
				"resumo.dosagem",
				"summary.dosage",
			),
			Fallback: DefaultDosageLabel,
		},
		Quantity: FieldRules{
			Field: FieldQuantity,
			Rules: paths(
				"quantidade",
				"medicamento.quantidade",
				"quantity",
				"medication.quantity",
			),
			Fallback: DefaultQuantity,
		},
		Usage: FieldRules{
			Field: FieldInstructions,
			Rules: paths(
				"uso",
				"posologia",
				"modo_de_usar",
				"instrucoes",
				"medicamento.posologia",
				"medication.instructions",
				"usage",
				"instructions",
				"resumo.posologia",
				"summary.usage",
			),
			Fallback: DefaultUsageInstructions,
		},
		Warning: FieldRules{
			Field: FieldWarning,
			Rules: append(paths(
				"alerta",
				"medicamento.alerta",
				"warning",
				"medication.warning",
				"alertas",
			),
				Flag("alerta", DefaultWarningLabel),
				Flag("medicamento.alerta", DefaultWarningLabel),
				Flag("warning", DefaultWarningLabel),
			),
		},
	}
}

func paths(ps ...string) []Rule {
	rules := make([]Rule, len(ps))
	for i, p := range ps {
		rules[i] = Path(p)
	}
	return rules
}

func lookup(item map[string]any, keys []string) (any, bool) {
	var cur any = item
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[k]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// text coerces a raw value into a display string. Arrays yield their first
// non-empty element.
func text(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := clean(t)
		return s, s != ""
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case []string:
		for _, e := range t {
			if s := clean(e); s != "" {
				return s, true
			}
		}
	case []any:
		for _, e := range t {
			switch e.(type) {
			case string, json.Number, float64, int, int64:
				if s, ok := text(e); ok {
					return s, true
				}
			}
		}
	}
	return "", false
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
