package brokerage

import "context"

// ClientInterface defines the methods required from the brokerage aggregator client
type ClientInterface interface {
	RegisterUser(ctx context.Context, userRef string) (*Credential, error)
	LoginURL(ctx context.Context, cred Credential, brokerage, redirectURL string) (string, error)
	ListConnections(ctx context.Context, cred Credential) ([]Connection, error)
	DeleteConnection(ctx context.Context, cred Credential, connectionID string) error
	ListAccounts(ctx context.Context, cred Credential) ([]Account, error)
	ListHoldings(ctx context.Context, cred Credential, accountID string) ([]Holding, error)
	ListTransactions(ctx context.Context, cred Credential, accountID string, page, pageSize int) ([]Transaction, error)
}
