package settings

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	doc     *Settings
	saved   *Settings
	loadErr error
}

func (m *mockRepo) Load(_ context.Context) (*Settings, bool, error) {
	if m.loadErr != nil {
		return nil, false, m.loadErr
	}
	if m.doc == nil {
		return nil, false, nil
	}
	cp := *m.doc
	return &cp, true, nil
}

func (m *mockRepo) Save(_ context.Context, doc *Settings) error {
	cp := *doc
	m.saved = &cp
	m.doc = &cp
	return nil
}

func TestGet_DefaultsWhenMissing(t *testing.T) {
	svc := NewService(&mockRepo{})

	doc, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Cake Heaven", doc.General.SiteName)
	assert.True(t, decimal.NewFromInt(10).Equal(doc.Payment.RewardRate))
	assert.True(t, doc.User.AllowRegistration)
}

func TestGet_LoadError(t *testing.T) {
	svc := NewService(&mockRepo{loadErr: errors.New("boom")})

	_, err := svc.Get(context.Background())
	require.Error(t, err)
}

func TestPublic_HidesPrivateSections(t *testing.T) {
	d := Defaults()
	d.Email.FromAddress = "orders@example.com"
	svc := NewService(&mockRepo{doc: &d})

	pub, err := svc.Public(context.Background())
	require.NoError(t, err)
	assert.Equal(t, d.General, pub.General)
	assert.True(t, pub.Payment.CODEnabled)
}

func TestUpdateSection(t *testing.T) {
	tests := []struct {
		name    string
		section string
		body    string
		check   func(t *testing.T, doc *Settings)
		wantErr error
		wantVE  bool
	}{
		{
			name:    "payment rates",
			section: SectionPayment,
			body:    `{"stripeEnabled":true,"codEnabled":false,"walletEnabled":true,"taxRate":"8.5","rewardRate":"5"}`,
			check: func(t *testing.T, doc *Settings) {
				assert.False(t, doc.Payment.CODEnabled)
				assert.True(t, decimal.RequireFromString("8.5").Equal(doc.Payment.TaxRate))
			},
		},
		{
			name:    "partial shipping keeps other fields",
			section: SectionShipping,
			body:    `{"flatRate":"7.50"}`,
			check: func(t *testing.T, doc *Settings) {
				assert.True(t, decimal.RequireFromString("7.50").Equal(doc.Shipping.FlatRate))
				assert.True(t, decimal.NewFromInt(50).Equal(doc.Shipping.FreeShippingThreshold))
			},
		},
		{
			name:    "unknown section",
			section: "theme",
			body:    `{}`,
			wantErr: ErrUnknownSection,
		},
		{
			name:    "tax above hundred",
			section: SectionPayment,
			body:    `{"taxRate":"120"}`,
			wantVE:  true,
		},
		{
			name:    "malformed json",
			section: SectionUser,
			body:    `{"maxAddresses":"many"}`,
			wantVE:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockRepo{}
			svc := NewService(repo)

			doc, err := svc.UpdateSection(context.Background(), tt.section, []byte(tt.body))
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, repo.saved)
			case tt.wantVE:
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Nil(t, repo.saved)
			default:
				require.NoError(t, err)
				require.NotNil(t, repo.saved)
				tt.check(t, doc)
			}
		})
	}
}
