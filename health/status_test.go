package health

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromBusState(t *testing.T) {
	tests := []struct {
		state string
		want  string
	}{
		{"ready", Healthy},
		{"connected", Degraded},
		{"connecting", Unhealthy},
		{"disconnected", Unhealthy},
	}

	for _, test := range tests {
		t.Run(test.state, func(t *testing.T) {
			s := FromBusState("bus", test.state, nil)
			assert.Equal(t, test.want, s.Status)
			assert.Equal(t, test.want == Healthy, s.Healthy)
			assert.Equal(t, "bus", s.Component)
			assert.False(t, s.Timestamp.IsZero())
		})
	}
}

func TestFromBusState_SanitizesError(t *testing.T) {
	err := fmt.Errorf("dial tcp://10.0.0.3:1883 failed: password=hunter2")
	s := FromBusState("bus", "disconnected", err)

	assert.NotContains(t, s.Message, "10.0.0.3")
	assert.NotContains(t, s.Message, "hunter2")
	assert.Contains(t, s.Message, "[URL]")
	assert.Contains(t, s.Message, "[REDACTED]")
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"plain failure", "plain failure"},
		{"connect nats://broker:4222 refused", "connect [URL] refused"},
		{"host 192.168.1.20 unreachable", "host [IP] unreachable"},
		{"auth token=abc123", "auth [REDACTED]"},
	}

	for _, test := range tests {
		assert.Equal(t, test.want, sanitizeErrorMessage(test.in), test.in)
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty", nil, Healthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, Healthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, Degraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, Unhealthy},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := Aggregate("agent", test.subs)
			assert.Equal(t, test.want, got.Status)
			assert.Len(t, got.SubStatuses, len(test.subs))
		})
	}
}

func TestAggregate_DoesNotShareInput(t *testing.T) {
	subs := []Status{NewHealthy("a", "")}
	got := Aggregate("agent", subs)
	got.SubStatuses[0].Message = "changed"
	assert.Empty(t, subs[0].Message)
}
