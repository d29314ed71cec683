package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

func unmarshalCallback(payload []byte, out any) error {
	if len(payload) == 0 {
		return errors.New("callback payload is empty")
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("callback payload is not valid JSON: %w", err)
	}
	return nil
}

// centsToDecimal renders an amount in minor units as "12.34" for providers
// that want decimal strings.
func centsToDecimal(amountCents int64) string {
	whole := amountCents / 100
	frac := amountCents % 100
	if frac < 0 {
		frac = -frac
	}
	return strconv.FormatInt(whole, 10) + "." + fmt.Sprintf("%02d", frac)
}
