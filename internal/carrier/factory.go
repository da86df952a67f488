package carrier

import (
	"github.com/geodekking/pakketpunten/internal/config"
	"github.com/geodekking/pakketpunten/internal/fetcher"
	"github.com/geodekking/pakketpunten/internal/model"
)

// New returns the adapter for carrier c, configured by cc.
func New(c model.Carrier, cc config.CarrierConfig, f fetcher.Fetcher) Adapter {
	switch c {
	case model.CarrierDHL:
		return NewDHL(f, cc.BaseURL)
	case model.CarrierPostNL:
		return NewPostNL(f, cc.BaseURL)
	case model.CarrierDPD:
		return NewDPD(f, cc.BaseURL)
	case model.CarrierDeBuren:
		return NewDeBuren(f, cc.BaseURL)
	case model.CarrierVintedGo:
		return NewVintedGo(f, cc.BaseURL)
	case model.CarrierAmazon:
		return NewAmazon(f, cc.BaseURL, cc.TimeoutSecs/2)
	default:
		return nil
	}
}

// FromConfig registers an adapter for every enabled carrier, in output order.
func FromConfig(carriers map[string]config.CarrierConfig, f fetcher.Fetcher) *Registry {
	reg := NewRegistry()
	for _, c := range model.AllCarriers() {
		cc, ok := carriers[c.Key()]
		if !ok || !cc.Enabled {
			continue
		}
		if a := New(c, cc, f); a != nil {
			reg.Register(a)
		}
	}
	return reg
}
