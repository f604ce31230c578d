package exchange

import (
	"context"
	"fmt"

	"github.com/GoPolymarket/venuegate/internal/config"
	"github.com/GoPolymarket/venuegate/internal/signer"
	"github.com/shopspring/decimal"
)

// Venues is the connector set built from configuration, plus the push
// sources that feed order updates back.
type Venues struct {
	Registry *Registry
	papers   []*PaperExchange
	streams  []*OrderStream
}

func FromConfig(cfgs []config.VenueConfig) (*Venues, error) {
	v := &Venues{}
	conns := make([]Connector, 0, len(cfgs))
	for _, vc := range cfgs {
		switch vc.Kind {
		case "paper":
			balances, err := decimalMap(vc.Balances)
			if err != nil {
				return nil, fmt.Errorf("venue %q balances: %w", vc.Name, err)
			}
			prices, err := decimalMap(vc.Prices)
			if err != nil {
				return nil, fmt.Errorf("venue %q prices: %w", vc.Name, err)
			}
			p := NewPaperExchange(vc.Name, balances, prices)
			v.papers = append(v.papers, p)
			conns = append(conns, p)
		case "rest":
			creds := signer.Credentials{APIKey: vc.APIKey, Secret: vc.APISecret, Passphrase: vc.Passphrase}
			conns = append(conns, NewRESTConnector(RESTOptions{
				Name:              vc.Name,
				BaseURL:           vc.BaseURL,
				Credentials:       creds,
				RequestsPerSecond: vc.RequestsPerSecond,
				Burst:             vc.Burst,
			}))
			if vc.StreamURL != "" {
				v.streams = append(v.streams, NewOrderStream(vc.Name, vc.StreamURL, creds))
			}
		default:
			return nil, fmt.Errorf("venue %q: unknown kind %q", vc.Name, vc.Kind)
		}
	}
	reg, err := NewRegistry(conns...)
	if err != nil {
		return nil, err
	}
	v.Registry = reg
	return v, nil
}

// Subscribe routes every pushed update to h. Streams run until ctx is done.
func (v *Venues) Subscribe(ctx context.Context, h UpdateHandler) {
	for _, p := range v.papers {
		p.OnUpdate(h)
	}
	for _, s := range v.streams {
		go s.Run(ctx, h)
	}
}

func decimalMap(in map[string]string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(in))
	for k, raw := range in {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = d
	}
	return out, nil
}
