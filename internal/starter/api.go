package starter

import (
	"context"

	"moff.io/wallet-sync/internal/config"
)

type Startable interface {
	Start(ctx context.Context)
}

type Configurable interface {
	Apply(*config.Configuration)
}

type Stopable interface {
	Stop()
}

// Start applies config.Global to every Configurable element, then starts the
// elements in order. The returned function stops them in reverse order.
func Start(ctx context.Context, elems ...Startable) (stop func()) {
	for _, ele := range elems {
		if configurable, ok := ele.(Configurable); ok {
			configurable.Apply(config.Global)
		}
		ele.Start(ctx)
	}
	return func() {
		for i := len(elems) - 1; i >= 0; i-- {
			if stopable, ok := elems[i].(Stopable); ok {
				stopable.Stop()
			}
		}
	}
}
