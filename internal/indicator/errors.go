package indicator

import (
	"errors"
	"fmt"
)

// ErrInvalidParameter reports a constructor argument outside its valid
// range. It is the only construction failure in this package: every
// constructor returns it exactly when period < 1 (and NewMA additionally
// when the algorithm tag is not in the closed MAType set).
var ErrInvalidParameter = errors.New("indicator: invalid parameter")

// checkPeriod validates the one parameter every constructor shares.
func checkPeriod(period int) error {
	if period < 1 {
		return fmt.Errorf("%w: period must be positive, got %d", ErrInvalidParameter, period)
	}
	return nil
}
