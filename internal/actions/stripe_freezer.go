package actions

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeFreezer deactivates issuing cards through the Stripe API.
type StripeFreezer struct {
	api *client.API
}

// NewStripeFreezer creates a freezer using the given Stripe secret key.
func NewStripeFreezer(apiKey string) *StripeFreezer {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeFreezer{api: api}
}

func (f *StripeFreezer) Freeze(ctx context.Context, cardID string) error {
	params := &stripe.IssuingCardParams{
		Status: stripe.String(string(stripe.IssuingCardStatusInactive)),
	}
	params.Context = ctx

	if _, err := f.api.IssuingCards.Update(cardID, params); err != nil {
		return fmt.Errorf("failed to freeze card %s: %w", cardID, err)
	}
	return nil
}
