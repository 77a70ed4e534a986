package translate

// Pool holds the configured providers in operator preference order.
// Selection always takes the first available provider; there is no fairness
// requirement between providers.
type Pool struct {
	providers []Provider
}

func NewPool(providers ...Provider) *Pool {
	return &Pool{providers: providers}
}

func (p *Pool) Providers() []Provider {
	return p.providers
}

// AnyAvailable reports whether at least one provider can accept work.
func (p *Pool) AnyAvailable() bool {
	for _, provider := range p.providers {
		if provider.Available() {
			return true
		}
	}
	return false
}
