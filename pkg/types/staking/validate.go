// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package staking

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
)

// Amounts accepted from clients must be below 10^MaxAmountDigits and have
// at most MaxAmountPlaces decimal places.
const (
	MaxAmountDigits = 15
	MaxAmountPlaces = 18
)

// outOfRange replaces an amount that fails [CheckAmount] during validation.
const outOfRange = "out of range"

// CheckAmount returns BadRequest if the amount is outside the accepted range.
// The amount is never expanded, so a huge exponent costs nothing.
func CheckAmount(d decimal.Decimal) error {
	exp := int64(d.Exponent())
	if exp < -MaxAmountPlaces {
		return errors.BadRequest.WithFormat("amount has more than %d decimal places", MaxAmountPlaces)
	}

	coef := d.Coefficient()
	if coef.Sign() == 0 {
		return nil
	}

	// An accepted coefficient has at most MaxAmountDigits+MaxAmountPlaces
	// digits, and every digit takes more than 3 bits
	if coef.BitLen() > 4*(MaxAmountDigits+MaxAmountPlaces) {
		return errors.BadRequest.WithFormat("amount must be less than 1e%d", MaxAmountDigits)
	}

	// |d| < 10^(digits+exp), and |d| >= 10^(digits+exp-1)
	digits := int64(len(coef.Text(10)))
	if coef.Sign() < 0 {
		digits--
	}
	if digits+exp > MaxAmountDigits {
		return errors.BadRequest.WithFormat("amount must be less than 1e%d", MaxAmountDigits)
	}
	return nil
}

// NewValidator returns a validator that understands decimal amounts. Fields
// are named by their JSON name. The positive tag requires a decimal greater
// than zero and within the range allowed by [CheckAmount].
func NewValidator() (*validator.Validate, error) {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	// Validate decimals as their string form, unless formatting would be
	// unbounded
	v.RegisterCustomTypeFunc(func(v reflect.Value) interface{} {
		d, ok := v.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		if CheckAmount(d) != nil {
			return outOfRange
		}
		return d.String()
	}, decimal.Decimal{})

	err := v.RegisterValidation("positive", func(fl validator.FieldLevel) bool {
		if fl.Field().Kind() != reflect.String {
			panic(fmt.Errorf("%q is not a decimal", fl.FieldName()))
		}

		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.IsPositive()
	})
	return v, err
}

// ValidationError converts a validator error into a BadRequest error with a
// readable message.
func ValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.BadRequest.Wrap(err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s is not a valid email address", fe.Field()))
		case "positive":
			if fe.Value() == outOfRange {
				msgs = append(msgs, fmt.Sprintf("%s must be less than 1e%d with at most %d decimal places", fe.Field(), MaxAmountDigits, MaxAmountPlaces))
			} else {
				msgs = append(msgs, fmt.Sprintf("%s must be greater than zero", fe.Field()))
			}
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
		}
	}
	return errors.BadRequest.With(strings.Join(msgs, "; "))
}
