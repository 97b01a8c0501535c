package topic

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/testbedbus/errors"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		tmpl string
		want []string
	}{
		{"{archi}/{num}/line/{clientid}/{requestid}", []string{"archi", "num", "clientid", "requestid"}},
		{"topic/super/cool", []string{}},
		{"", []string{}},
		{"pfx/iot-lab/serial/{site}", []string{"site"}},
		{"{only}", []string{"only"}},
		{"a/{{literal}}/{b}", []string{"b"}},
		{"a/{node-id}/x", []string{"node-id"}},
	}

	for _, test := range tests {
		t.Run(test.tmpl, func(t *testing.T) {
			got, err := Parse(test.tmpl)
			require.NoError(t, err)
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", test.tmpl, diff)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		tmpl   string
		reason string
	}{
		{"a/b/{c}/{c}", ReasonDuplicate},
		{"a/{0}/b", ReasonSimpleName},
		{"a/{}/b", ReasonSimpleName},
		{"a/{self.test}/b", ReasonSimpleName},
		{"a/{x[0]}/b", ReasonSimpleName},
		{"a/{first}{second}/b", ReasonOnePerLevel},
		{"a/x{b}", ReasonOnePerLevel},
		{"a/{b}x/c", ReasonOnePerLevel},
		{"{name!r}", ReasonNoFormat},
		{"{name:>3}", ReasonNoFormat},
		{"a/{b", ReasonUnbalanced},
		{"a/}b", ReasonUnbalanced},
		{"a/{b{c}}", ReasonUnbalanced},
	}

	for _, test := range tests {
		t.Run(test.tmpl, func(t *testing.T) {
			_, err := New(test.tmpl)
			require.Error(t, err)

			var te *TemplateError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, test.reason, te.Reason)
			assert.Equal(t, test.tmpl, te.Template)
			assert.ErrorIs(t, err, errors.ErrInvalidTemplate)
			assert.True(t, errors.IsInvalid(err))
			assert.True(t, IsTemplateError(err))
		})
	}
}

func TestMustNew_Panics(t *testing.T) {
	assert.Panics(t, func() { MustNew("a/{b}{c}") })
	assert.NotPanics(t, func() { MustNew("a/{b}/{c}") })
}

func TestTemplate_FilterAndMatch(t *testing.T) {
	tmpl := MustNew("{archi}/{num}/line")
	assert.Equal(t, "+/+/line", tmpl.Filter())

	got, ok := tmpl.Match("m3/7/line")
	require.True(t, ok)
	if diff := cmp.Diff(Fields{"archi": "m3", "num": "7"}, got); diff != "" {
		t.Errorf("Match mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"m3/7/line/extra", "m3/line", "m3//line", "m3/7/raw", "x/m3/7/line"} {
		_, ok := tmpl.Match(bad)
		assert.False(t, ok, "topic %q should not match", bad)
	}
}

func TestTemplate_NoFields(t *testing.T) {
	tmpl := MustNew("agent/status")
	assert.Equal(t, "agent/status", tmpl.Filter())

	got, ok := tmpl.Match("agent/status")
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestTemplate_EscapedBraces(t *testing.T) {
	tmpl := MustNew("a/{{lit}}/{b}")
	assert.Equal(t, "a/{lit}/+", tmpl.Filter())

	got, ok := tmpl.Match("a/{lit}/v")
	require.True(t, ok)
	assert.Equal(t, Fields{"b": "v"}, got)

	bound, err := tmpl.LazyFormat(Fields{"b": "v"})
	require.NoError(t, err)
	assert.Equal(t, "a/{{lit}}/v", bound.String())

	concrete, err := tmpl.Format(Fields{"b": "v"})
	require.NoError(t, err)
	assert.Equal(t, "a/{lit}/v", concrete)
}

func TestTemplate_Format(t *testing.T) {
	tmpl := MustNew("node/{archi}/{num}")

	got, err := tmpl.Format(Fields{"archi": "m3", "num": "12", "unused": "x"})
	require.NoError(t, err)
	assert.Equal(t, "node/m3/12", got)

	_, err = tmpl.Format(Fields{"archi": "m3"})
	assert.ErrorIs(t, err, errors.ErrMissingField)

	for _, bad := range []string{"", "a/b", "a+", "#"} {
		_, err = tmpl.Format(Fields{"archi": bad, "num": "1"})
		assert.ErrorIs(t, err, errors.ErrInvalidValue, "value %q", bad)
	}
}

func TestLazyFormat(t *testing.T) {
	tests := []struct {
		name  string
		tmpl  string
		known Fields
		want  string
	}{
		{"nothing known", "a/{b}/c/{d}/e", nil, "a/{b}/c/{d}/e"},
		{"partial with unknown key", "a/{b}/c/{d}/e", Fields{"b": "B", "any": "value"}, "a/B/c/{d}/e"},
		{"all known", "a/{b}/c/{d}/e", Fields{"b": "B", "d": "D"}, "a/B/c/D/e"},
		{"no fields", "a/b", Fields{"b": "B"}, "a/b"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := LazyFormat(test.tmpl, test.known)
			require.NoError(t, err)
			assert.Equal(t, test.want, got)

			// The result is itself a template.
			_, err = New(got)
			assert.NoError(t, err)
		})
	}

	_, err := LazyFormat("a/{b}{c}", Fields{"b": "B"})
	assert.ErrorIs(t, err, errors.ErrInvalidTemplate)

	_, err = LazyFormat("a/{b}", Fields{"b": "x/y"})
	assert.ErrorIs(t, err, errors.ErrInvalidValue)
}

func TestLazyFormat_IdempotentOnEmpty(t *testing.T) {
	for _, tmpl := range []string{"", "a", "{a}", "x/{a}/y/{b}", "a/{{b}}/{c}"} {
		got, err := LazyFormat(tmpl, Fields{})
		require.NoError(t, err)
		assert.Equal(t, tmpl, got)

		parsed := MustNew(tmpl)
		again, err := parsed.LazyFormat(nil)
		require.NoError(t, err)
		assert.Equal(t, tmpl, again.String())
	}
}

var roundTripTemplates = []string{
	"{archi}/{num}/line",
	"prefix/iot-lab/serial/{site}/{archi}/{num}/line",
	"{a}",
	"x/{a}/y/{b}/z/{c}",
	"node/ctl/{command}/request/{clientid}/{requestid}",
}

func randomLevel(r *rand.Rand) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789-_.:{} "
	n := 1 + r.Intn(12)
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(alphabet[r.Intn(len(alphabet))])
	}
	return b.String()
}

func TestTemplate_RoundTripProperty(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for _, raw := range roundTripTemplates {
		tmpl := MustNew(raw)
		for i := 0; i < 200; i++ {
			values := make(Fields)
			for _, f := range tmpl.Fields() {
				values[f] = randomLevel(r)
			}

			concrete, err := tmpl.Format(values)
			require.NoError(t, err)

			got, ok := tmpl.Match(concrete)
			require.True(t, ok, "template %q topic %q", raw, concrete)
			if diff := cmp.Diff(values, got); diff != "" {
				t.Fatalf("round trip %q mismatch (-want +got):\n%s", concrete, diff)
			}

			// The filter accepts every filled topic ...
			assert.True(t, MatchFilter(tmpl.Filter(), concrete), "filter %q topic %q", tmpl.Filter(), concrete)
			// ... and rejects topics with an extra or a missing level.
			assert.False(t, MatchFilter(tmpl.Filter(), concrete+"/extra"))
			if idx := strings.LastIndex(concrete, Separator); idx > 0 {
				assert.False(t, MatchFilter(tmpl.Filter(), concrete[:idx]))
			}
		}
	}
}

func TestTemplate_HasField(t *testing.T) {
	tmpl := MustNew("a/{b}/{c}")
	assert.True(t, tmpl.HasField("b"))
	assert.False(t, tmpl.HasField("a"))

	fields := tmpl.Fields()
	fields[0] = "mutated"
	assert.Equal(t, []string{"b", "c"}, tmpl.Fields(), "Fields must return a copy")
}

func ExampleTemplate() {
	tmpl := MustNew("{archi}/{num}/line")
	values, _ := tmpl.Match("m3/7/line")
	fmt.Println(tmpl.Filter(), values["archi"], values["num"])
	// Output: +/+/line m3 7
}
