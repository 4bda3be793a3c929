package settings

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Service reads and updates the settings singleton.
type Service struct {
	repo Repository
}

// NewService creates a settings Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the stored settings, falling back to Defaults.
func (s *Service) Get(ctx context.Context) (*Settings, error) {
	doc, found, err := s.repo.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load settings")
	}
	if !found {
		d := Defaults()
		return &d, nil
	}
	return doc, nil
}

// Public returns the anonymous-safe projection of the settings.
func (s *Service) Public(ctx context.Context) (*Public, error) {
	doc, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	p := &Public{
		General:  doc.General,
		Shipping: doc.Shipping,
	}
	p.Payment.StripeEnabled = doc.Payment.StripeEnabled
	p.Payment.CODEnabled = doc.Payment.CODEnabled
	p.Payment.WalletEnabled = doc.Payment.WalletEnabled
	return p, nil
}

// UpdateSection replaces one section of the document with the JSON in raw.
func (s *Service) UpdateSection(ctx context.Context, section string, raw []byte) (*Settings, error) {
	doc, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	var target any
	switch section {
	case SectionGeneral:
		target = &doc.General
	case SectionEmail:
		target = &doc.Email
	case SectionPayment:
		target = &doc.Payment
	case SectionShipping:
		target = &doc.Shipping
	case SectionUser:
		target = &doc.User
	default:
		return nil, ErrUnknownSection
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, &ValidationError{Field: section, Reason: err.Error()}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, doc); err != nil {
		return nil, errors.Wrapf(err, "save %s settings", section)
	}
	return doc, nil
}

// Validate checks the numeric ranges of the document.
func (d *Settings) Validate() error {
	switch {
	case d.Payment.TaxRate.IsNegative() || d.Payment.TaxRate.GreaterThan(hundred):
		return &ValidationError{Field: "payment.taxRate", Reason: "must be between 0 and 100"}
	case d.Payment.RewardRate.IsNegative() || d.Payment.RewardRate.GreaterThan(hundred):
		return &ValidationError{Field: "payment.rewardRate", Reason: "must be between 0 and 100"}
	case d.Shipping.FlatRate.IsNegative():
		return &ValidationError{Field: "shipping.flatRate", Reason: "must not be negative"}
	case d.Shipping.FreeShippingThreshold.IsNegative():
		return &ValidationError{Field: "shipping.freeShippingThreshold", Reason: "must not be negative"}
	case d.User.MaxAddresses < 0:
		return &ValidationError{Field: "user.maxAddresses", Reason: "must not be negative"}
	}
	return nil
}
