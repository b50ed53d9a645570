package gateway

import (
	"revenue-engine/pkg/config"

	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(
		NewPayFast,
		NewStripe,
		NewFNB,
		NewRNB,
		provideEFT,
		provideRegistry,
	),
)

func provideEFT(cfg *config.Config, fnb *FNB) *EFT {
	return NewEFT(cfg, fnb)
}

func provideRegistry(payfast *PayFast, stripe *Stripe, eft *EFT, fnb *FNB, rnb *RNB) *Registry {
	return NewRegistry(payfast, stripe, eft, fnb, rnb)
}
