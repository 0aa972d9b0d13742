package account

import (
	"context"
	"strings"
)

// defaultCurrency applies when the aggregator leaves currency blank, which
// it does for US brokerages.
const defaultCurrency = "USD"

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// UpsertAccount stores the latest snapshot of an account. The display name
// falls back to the account number.
func (s *Service) UpsertAccount(ctx context.Context, params UpsertParams) (*Account, error) {
	params.Currency = strings.ToUpper(strings.TrimSpace(params.Currency))
	if params.Currency == "" {
		params.Currency = defaultCurrency
	}
	if strings.TrimSpace(params.Name) == "" {
		params.Name = params.Number
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Upsert(ctx, params)
}

func (s *Service) ListByConnection(ctx context.Context, connectionID string) ([]*Account, error) {
	return s.repo.ListByConnectionID(ctx, connectionID)
}
