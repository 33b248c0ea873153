package esimgo

import (
	"github.com/tiktel/ttelgo/internal/pkg/order"
)

// catalogueAdapter exposes the client as the order service's catalogue.
type catalogueAdapter struct {
	c *Client
}

// AsCatalogue adapts the client to the order service's Catalogue interface.
func (c *Client) AsCatalogue() order.Catalogue {
	return &catalogueAdapter{c: c}
}

func (a *catalogueAdapter) GetBundle(code string) (*order.BundleInfo, error) {
	b, err := a.c.GetBundle(code)
	if err != nil {
		return nil, err
	}
	return &order.BundleInfo{
		Code:         b.Code,
		Name:         b.Description,
		Price:        b.Price,
		Currency:     b.Currency,
		CountryISO:   b.CountryISO,
		DataAmount:   b.DataAmount,
		ValidityDays: b.ValidityDays,
	}, nil
}

// provisionerAdapter exposes the client as the order service's provisioner.
type provisionerAdapter struct {
	c *Client
}

// AsProvisioner adapts the client to the order service's Provisioner
// interface. APIError keeps its Transient method through the adapter, so
// the retry policy sees 5xx and transport failures as retryable.
func (c *Client) AsProvisioner() order.Provisioner {
	return &provisionerAdapter{c: c}
}

func (a *provisionerAdapter) CreateOrder(bundleCode string, quantity int) (*order.ProvisionResult, error) {
	res, err := a.c.CreateOrder(bundleCode, quantity)
	if err != nil {
		return nil, err
	}
	return &order.ProvisionResult{
		ExternalOrderID: res.OrderID,
		ICCID:           res.ICCID,
		MatchingID:      res.MatchingID,
		SmdpAddress:     res.SmdpAddress,
		ActivationCode:  res.ActivationCode,
	}, nil
}
