package wallet

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ToMinorUnits converts a decimal credit amount such as "12.34" into minor
// units. The conversion is pure integer arithmetic: the value never passes
// through a binary float. Fractional digits beyond the second are rounded
// half away from zero.
func ToMinorUnits(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidDecimalAmount)
	}
	negative := false
	switch trimmed[0] {
	case '+':
		trimmed = trimmed[1:]
	case '-':
		negative = true
		trimmed = trimmed[1:]
	}
	wholePart, fracPart, hasFraction := strings.Cut(trimmed, ".")
	if wholePart == "" && fracPart == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDecimalAmount, raw)
	}
	if hasFraction && fracPart == "" {
		return 0, fmt.Errorf("%w: trailing decimal point in %q", ErrInvalidDecimalAmount, raw)
	}
	if wholePart == "" {
		wholePart = "0"
	}
	if !isDigits(wholePart) || (hasFraction && !isDigits(fracPart)) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDecimalAmount, raw)
	}
	whole, err := strconv.ParseInt(wholePart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDecimalAmount, raw)
	}
	var cents int64
	switch {
	case len(fracPart) == 0:
	case len(fracPart) == 1:
		cents = int64(fracPart[0]-'0') * 10
	default:
		cents = int64(fracPart[0]-'0')*10 + int64(fracPart[1]-'0')
		if fracPart[2:] != "" && fracPart[2] >= '5' {
			cents++
		}
	}
	if whole > (math.MaxInt64-cents)/minorUnitsPerCredit {
		return 0, fmt.Errorf("%w: %q overflows minor units", ErrInvalidDecimalAmount, raw)
	}
	minor := whole*minorUnitsPerCredit + cents
	if negative {
		minor = -minor
	}
	return minor, nil
}

// ToDecimalString formats minor units back into a decimal credit amount with
// a two-digit zero-padded fraction.
func ToDecimalString(minorUnits int64) string {
	negative := minorUnits < 0
	value := minorUnits
	if negative {
		value = -value
	}
	formatted := fmt.Sprintf("%d.%02d", value/minorUnitsPerCredit, value%minorUnitsPerCredit)
	if negative {
		return "-" + formatted
	}
	return formatted
}

func isDigits(value string) bool {
	for index := 0; index < len(value); index++ {
		if value[index] < '0' || value[index] > '9' {
			return false
		}
	}
	return true
}
