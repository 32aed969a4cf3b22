package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswerValueUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want AnswerValue
	}{
		{"string scalar", `"opt-1"`, AnswerValue{"opt-1"}},
		{"number scalar", `42`, AnswerValue{"42"}},
		{"bool scalar", `true`, AnswerValue{"true"}},
		{"list", `["a","b"]`, AnswerValue{"a", "b"}},
		{"mixed list", `["a",7]`, AnswerValue{"a", "7"}},
		{"null", `null`, nil},
		{"empty list", `[]`, AnswerValue{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got AnswerValue
			require.NoError(t, json.Unmarshal([]byte(tc.in), &got))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAnswerValueUnmarshalRejectsObjects(t *testing.T) {
	var got AnswerValue
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &got))
}

func TestAnswerSetUnmarshalNormalizesScalars(t *testing.T) {
	var set AnswerSet
	require.NoError(t, json.Unmarshal([]byte(`{"q1":"a","q2":["b","c"]}`), &set))
	assert.Equal(t, AnswerSet{"q1": {"a"}, "q2": {"b", "c"}}, set)
}

func TestAnswerValueSet(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, AnswerValue{"b", "a", "b", ""}.Set())
	assert.True(t, AnswerValue{""}.IsEmpty())
	assert.False(t, AnswerValue{"x"}.IsEmpty())
}

func TestAnswerSetMerge(t *testing.T) {
	base := AnswerSet{"q1": {"a"}, "q2": {"b"}}
	merged := base.Merge(AnswerSet{"q2": {"c"}, "q3": {"d"}})
	assert.Equal(t, AnswerSet{"q1": {"a"}, "q2": {"c"}, "q3": {"d"}}, merged)
	assert.Equal(t, AnswerValue{"b"}, base["q2"], "merge must not mutate the receiver")
}

func TestTestAttemptIsOverdue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&TestAttempt{}).IsOverdue(now), "untimed attempt never expires")
	assert.True(t, (&TestAttempt{ExpiresAt: &past}).IsOverdue(now))
	assert.False(t, (&TestAttempt{ExpiresAt: &future}).IsOverdue(now))
	assert.False(t, (&TestAttempt{ExpiresAt: &past, CompletedAt: &now}).IsOverdue(now))
}
