package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lshigami/safetycert/internal/apperr"
)

type sample struct {
	Reason string `json:"reason" validate:"notblank"`
	Count  int    `json:"count" validate:"min=1"`
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		in     sample
		fields []string
	}{
		{"valid", sample{Reason: "ok", Count: 1}, nil},
		{"blank reason", sample{Reason: "   ", Count: 1}, []string{"reason"}},
		{"both invalid", sample{Count: 0}, []string{"reason", "count"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Check(tc.in)
			if tc.fields == nil {
				assert.NoError(t, err)
				return
			}
			var verr *apperr.ValidationError
			require.True(t, errors.As(err, &verr))
			var got []string
			for _, f := range verr.Fields {
				got = append(got, f.Field)
				assert.NotEmpty(t, f.Error)
			}
			assert.ElementsMatch(t, tc.fields, got)
		})
	}
}

func TestCheckTranslatesNotBlank(t *testing.T) {
	err := Check(sample{Reason: "", Count: 2})
	var verr *apperr.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "this field cannot be blank", verr.Fields[0].Error)
}
