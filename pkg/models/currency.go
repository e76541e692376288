package models

import (
	"github.com/shopspring/decimal"
)

const (
	CurrencyVND = "VND"
	CurrencySGD = "SGD"
)

const defaultMinorDigits = 2

var minorDigits = map[string]int32{
	CurrencyVND: 0,
	CurrencySGD: 2,
}

// ValidCurrencyCode reports whether code looks like an ISO 4217 alpha code.
func ValidCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}

// MinorDigits returns how many decimal places the currency's minor unit has.
func MinorDigits(code string) int32 {
	if d, ok := minorDigits[code]; ok {
		return d
	}
	return defaultMinorDigits
}

// FormatMinor renders an amount held in minor units, e.g. 123456 SGD as "1234.56".
func FormatMinor(amount int64, code string) string {
	digits := MinorDigits(code)
	return decimal.New(amount, -digits).StringFixed(digits)
}
