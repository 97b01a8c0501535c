package topic

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/c360/testbedbus/errors"
)

// Fields maps template field names to concrete topic level values.
type Fields map[string]string

// Reasons reported by TemplateError, one per broken rule.
const (
	ReasonSimpleName  = "use only simple named fields"
	ReasonOnePerLevel = "there should be only one named field per level"
	ReasonNoFormat    = "there should be no format or conversion"
	ReasonDuplicate   = "named fields should appear only once"
	ReasonUnbalanced  = "unbalanced braces"
)

// TemplateError reports a malformed topic template. It matches
// errors.ErrInvalidTemplate with errors.Is.
type TemplateError struct {
	Template string
	Reason   string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("invalid topic template %q: %s", e.Template, e.Reason)
}

func (e *TemplateError) Unwrap() error {
	return errors.ErrInvalidTemplate
}

// token is either literal text (unescaped) or a field placeholder.
type token struct {
	literal string
	field   string
}

func (t token) isField() bool { return t.field != "" }

// Template is a parsed topic template. It is immutable and safe for
// concurrent use.
type Template struct {
	raw     string
	tokens  []token
	fields  []string
	filter  string
	matcher *regexp.Regexp
}

// New parses tmpl and derives its subscription filter and matcher.
func New(tmpl string) (*Template, error) {
	tokens, err := tokenize(tmpl)
	if err != nil {
		return nil, err
	}

	t := &Template{raw: tmpl, tokens: tokens}

	var filter, pattern strings.Builder
	pattern.WriteString("^")
	for _, tok := range tokens {
		if tok.isField() {
			t.fields = append(t.fields, tok.field)
			filter.WriteString(WildcardOne)
			pattern.WriteString(`([^/]+)`)
			continue
		}
		filter.WriteString(tok.literal)
		pattern.WriteString(regexp.QuoteMeta(tok.literal))
	}
	pattern.WriteString("$")

	t.filter = filter.String()
	t.matcher = regexp.MustCompile(pattern.String())
	return t, nil
}

// MustNew is like New but panics on an invalid template. It is meant for
// package-level templates fixed at compile time.
func MustNew(tmpl string) *Template {
	t, err := New(tmpl)
	if err != nil {
		panic(err)
	}
	return t
}

// Parse returns the ordered field names of tmpl.
func Parse(tmpl string) ([]string, error) {
	t, err := New(tmpl)
	if err != nil {
		return nil, err
	}
	return t.Fields(), nil
}

// String returns the template text as given to New.
func (t *Template) String() string { return t.raw }

// Fields returns the field names in template order.
func (t *Template) Fields() []string {
	out := make([]string, len(t.fields))
	copy(out, t.fields)
	return out
}

// HasField reports whether name is one of the template fields.
func (t *Template) HasField(name string) bool {
	for _, f := range t.fields {
		if f == name {
			return true
		}
	}
	return false
}

// Filter returns the subscription filter: every field replaced by a
// single-level wildcard.
func (t *Template) Filter() string { return t.filter }

// Match extracts field values from a concrete topic. It reports false when
// topic was not produced by filling this template.
func (t *Template) Match(topic string) (Fields, bool) {
	m := t.matcher.FindStringSubmatch(topic)
	if m == nil {
		return nil, false
	}
	values := make(Fields, len(t.fields))
	for i, name := range t.fields {
		values[name] = m[i+1]
	}
	return values, true
}

// Format fills every field and returns the concrete topic.
func (t *Template) Format(values Fields) (string, error) {
	var b strings.Builder
	for _, tok := range t.tokens {
		if !tok.isField() {
			b.WriteString(tok.literal)
			continue
		}
		v, ok := values[tok.field]
		if !ok {
			return "", fmt.Errorf("format %q: field %q: %w", t.raw, tok.field, errors.ErrMissingField)
		}
		if err := validValue(tok.field, v); err != nil {
			return "", fmt.Errorf("format %q: %w", t.raw, err)
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

// LazyFormat substitutes only the fields present in known and keeps the
// others as placeholders. Keys of known that are not template fields are
// ignored.
func (t *Template) LazyFormat(known Fields) (*Template, error) {
	var b strings.Builder
	for _, tok := range t.tokens {
		if !tok.isField() {
			b.WriteString(escape(tok.literal))
			continue
		}
		v, ok := known[tok.field]
		if !ok {
			b.WriteString("{" + tok.field + "}")
			continue
		}
		if err := validValue(tok.field, v); err != nil {
			return nil, fmt.Errorf("lazy format %q: %w", t.raw, err)
		}
		b.WriteString(escape(v))
	}
	return New(b.String())
}

// LazyFormat is the string form of Template.LazyFormat.
func LazyFormat(tmpl string, known Fields) (string, error) {
	t, err := New(tmpl)
	if err != nil {
		return "", err
	}
	if len(known) == 0 {
		return tmpl, nil
	}
	formatted, err := t.LazyFormat(known)
	if err != nil {
		return "", err
	}
	return formatted.String(), nil
}

// Format is the string form of Template.Format.
func Format(tmpl string, values Fields) (string, error) {
	t, err := New(tmpl)
	if err != nil {
		return "", err
	}
	return t.Format(values)
}

func validValue(field, v string) error {
	if v == "" || strings.ContainsAny(v, "/+#") {
		return fmt.Errorf("field %q value %q: %w", field, v, errors.ErrInvalidValue)
	}
	return nil
}

func escape(s string) string {
	if !strings.ContainsAny(s, "{}") {
		return s
	}
	s = strings.ReplaceAll(s, "{", "{{")
	return strings.ReplaceAll(s, "}", "}}")
}

// tokenize walks tmpl left to right and enforces the placeholder rules.
func tokenize(tmpl string) ([]token, error) {
	fail := func(reason string) error {
		return &TemplateError{Template: tmpl, Reason: reason}
	}

	var (
		tokens []token
		lit    strings.Builder
		seen   = make(map[string]bool)
	)
	flush := func() {
		if lit.Len() > 0 {
			tokens = append(tokens, token{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(tmpl); {
		switch c := tmpl[i]; c {
		case '{':
			if strings.HasPrefix(tmpl[i:], "{{") {
				lit.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return nil, fail(ReasonUnbalanced)
			}
			body := tmpl[i+1 : i+1+end]
			if strings.ContainsRune(body, '{') {
				return nil, fail(ReasonUnbalanced)
			}

			name, spec := body, ""
			if j := strings.IndexAny(body, "!:"); j >= 0 {
				name, spec = body[:j], body[j:]
			}
			if !simpleName(name) {
				return nil, fail(ReasonSimpleName)
			}
			next := i + 1 + end + 1
			if (i > 0 && tmpl[i-1] != '/') || (next < len(tmpl) && tmpl[next] != '/') {
				return nil, fail(ReasonOnePerLevel)
			}
			if spec != "" {
				return nil, fail(ReasonNoFormat)
			}
			if seen[name] {
				return nil, fail(ReasonDuplicate)
			}
			seen[name] = true

			flush()
			tokens = append(tokens, token{field: name})
			i = next
		case '}':
			if !strings.HasPrefix(tmpl[i:], "}}") {
				return nil, fail(ReasonUnbalanced)
			}
			lit.WriteByte('}')
			i += 2
		default:
			lit.WriteByte(c)
			i++
		}
	}
	flush()
	return tokens, nil
}

func simpleName(name string) bool {
	if name == "" || strings.ContainsAny(name, ".[]/") {
		return false
	}
	return strings.TrimLeft(name, "0123456789") != ""
}

// IsTemplateError reports whether err is a malformed template error.
func IsTemplateError(err error) bool {
	var te *TemplateError
	return stderrors.As(err, &te)
}
