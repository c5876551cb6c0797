package stripeclient

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
)

func (s *StripeClient) parseErr(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return err
	}
	return fmt.Errorf("status %d: %s", se.HTTPStatusCode, se.Msg)
}
