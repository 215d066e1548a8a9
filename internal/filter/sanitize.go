package filter

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/egeucak/api-doc-gpt/internal/config"
)

// SanitizeConfig is an alias of config.SanitizeConfig.
type SanitizeConfig = config.SanitizeConfig

// Redactor masks sensitive headers, query params and JSON fields before they
// are logged or persisted.
type Redactor struct {
	headers     map[string]struct{}
	fields      map[string]struct{}
	replacement string
	textPattern *regexp.Regexp
}

// NewRedactor builds a Redactor from config.
func NewRedactor(cfg SanitizeConfig) *Redactor {
	r := &Redactor{
		headers:     toLowerSet(cfg.Headers),
		fields:      toLowerSet(cfg.BodyFields),
		replacement: cfg.Replacement,
	}
	keys := make([]string, 0, len(r.headers)+len(r.fields))
	for k := range r.headers {
		keys = append(keys, regexp.QuoteMeta(k))
	}
	for k := range r.fields {
		keys = append(keys, regexp.QuoteMeta(k))
	}
	if len(keys) > 0 {
		r.textPattern = regexp.MustCompile(`(?i)("(?:` + strings.Join(keys, "|") + `)"\s*:\s*)"(?:[^"\\]|\\.)*"`)
	}
	return r
}

// Headers returns a copy of in with sensitive header values replaced.
func (r *Redactor) Headers(in map[string]string) map[string]string {
	if r == nil || len(in) == 0 {
		return in
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if _, ok := r.headers[strings.ToLower(k)]; ok {
			out[k] = r.replacement
			continue
		}
		out[k] = v
	}
	return out
}

// Query returns a copy of in with sensitive parameter values replaced.
func (r *Redactor) Query(in map[string][]string) map[string][]string {
	if r == nil || len(in) == 0 {
		return in
	}
	out := make(map[string][]string, len(in))
	for k, vs := range in {
		if _, ok := r.fields[strings.ToLower(k)]; ok {
			repl := make([]string, len(vs))
			for i := range repl {
				repl[i] = r.replacement
			}
			out[k] = repl
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Body redacts sensitive fields of a JSON body. Non-JSON bodies are returned unchanged.
func (r *Redactor) Body(body string) string {
	if r == nil || strings.TrimSpace(body) == "" {
		return body
	}
	var v interface{}
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return body
	}
	out, err := json.Marshal(r.Value(v))
	if err != nil {
		return body
	}
	return string(out)
}

// Value returns a redacted deep copy of a decoded JSON value. Keys matching
// either a sensitive header or a sensitive field are masked.
func (r *Redactor) Value(v interface{}) interface{} {
	if r == nil {
		return v
	}
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, v2 := range val {
			if r.sensitive(k) {
				out[k] = r.replacement
				continue
			}
			out[k] = r.Value(v2)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i := range val {
			out[i] = r.Value(val[i])
		}
		return out
	default:
		return val
	}
}

// Text masks "key": "value" pairs for sensitive keys inside free text, such as
// a command line carrying a JSON header object.
func (r *Redactor) Text(s string) string {
	if r == nil || r.textPattern == nil {
		return s
	}
	return r.textPattern.ReplaceAllString(s, `${1}"`+strings.ReplaceAll(r.replacement, "$", "$$")+`"`)
}

func (r *Redactor) sensitive(key string) bool {
	k := strings.ToLower(key)
	if _, ok := r.fields[k]; ok {
		return true
	}
	_, ok := r.headers[k]
	return ok
}

func toLowerSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, v := range items {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}
