package model

import (
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
)

// Field identifies a compared attribute. Key is the machine name used to
// index rows and to build the merge query; Label holds display labels keyed
// by BCP 47 language tag.
type Field struct {
	Key   string            `json:"field"`
	Label map[string]string `json:"label,omitempty"`
	Type  string            `json:"type,omitempty"`
}

// UnmarshalJSON accepts either a bare field name, or an object whose label
// is a plain string or a language-to-label map.
func (f *Field) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*f = Field{Key: name}
		return nil
	}

	var raw struct {
		Field string          `json:"field"`
		Name  string          `json:"name"`
		Label json.RawMessage `json:"label"`
		Type  string          `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: unmarshal field")
	}

	out := Field{Key: raw.Field, Type: raw.Type}
	if out.Key == "" {
		out.Key = raw.Name
	}
	if len(raw.Label) > 0 && string(raw.Label) != "null" {
		var plain string
		if err := json.Unmarshal(raw.Label, &plain); err == nil {
			out.Label = map[string]string{"": plain}
		} else {
			var byLang map[string]string
			if err := json.Unmarshal(raw.Label, &byLang); err != nil {
				return eris.Wrapf(err, "model: unmarshal label of field %q", out.Key)
			}
			out.Label = byLang
		}
	}
	*f = out
	return nil
}

// LocalizedLabel returns the label that best matches lang. It falls back to
// an untagged label, then to any label, then to the key itself.
func (f Field) LocalizedLabel(lang language.Tag) string {
	if len(f.Label) == 0 {
		return f.Key
	}

	langs := make([]string, 0, len(f.Label))
	for k := range f.Label {
		if k != "" {
			langs = append(langs, k)
		}
	}
	sort.Strings(langs)

	if len(langs) > 0 {
		tags := make([]language.Tag, 0, len(langs))
		for _, l := range langs {
			tags = append(tags, language.Make(l))
		}
		_, idx, conf := language.NewMatcher(tags).Match(lang)
		if conf != language.No {
			return f.Label[langs[idx]]
		}
	}
	if l, ok := f.Label[""]; ok {
		return l
	}
	if len(langs) > 0 {
		return f.Label[langs[0]]
	}
	return f.Key
}

// FieldIndex maps field keys to row positions so rows can be located by key
// instead of by comparing whole field objects.
type FieldIndex map[string]int

// IndexRows builds a FieldIndex over rows. When a key repeats, the first
// occurrence wins.
func IndexRows(rows []ComparisonRow) FieldIndex {
	idx := make(FieldIndex, len(rows))
	for i, r := range rows {
		if _, ok := idx[r.Field.Key]; !ok {
			idx[r.Field.Key] = i
		}
	}
	return idx
}
