package dto

import (
	"time"

	"github.com/jinzhu/copier"
	"github.com/shopspring/decimal"

	"github.com/lshigami/safetycert/internal/apperr"
)

type ErrorResponse struct {
	Message string              `json:"message"`
	Code    string              `json:"code,omitempty"`
	Details []string            `json:"details,omitempty"`
	Fields  []apperr.FieldError `json:"fields,omitempty"`
	// Cap and Used are set for attempt_limit_exceeded.
	Cap  *int `json:"cap,omitempty"`
	Used *int `json:"used,omitempty"`
}

// OTPIssuedResponse confirms that a code was sent. Code is present only in debug mode.
type OTPIssuedResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
	Phone     string    `json:"phone"`
	Code      string    `json:"code,omitempty"`
}

var copyOption = copier.Option{
	Converters: []copier.TypeConverter{
		{
			SrcType: decimal.Decimal{},
			DstType: float64(0),
			Fn: func(src interface{}) (interface{}, error) {
				return src.(decimal.Decimal).InexactFloat64(), nil
			},
		},
	},
}

// Copy maps models to DTOs by field name. Decimal fields become float64.
func Copy(to, from interface{}) error {
	return copier.CopyWithOption(to, from, copyOption)
}

func Float(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}
