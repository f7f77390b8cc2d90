// Package ynab is a typed client for the YNAB API.
//
// YNAB wraps every response in a {data: ...} envelope and reports amounts in
// milliunits. Submitted transactions carry an import id so YNAB can suppress
// duplicates on its side, the second line of defense beneath the local ledger.
package ynab

import (
	"context"
	"fmt"
	"net/url"

	"github.com/swiftdevstuff/up-ynab-sync/internal/api"
)

// BaseURL is the production YNAB API endpoint.
const BaseURL = "https://api.ynab.com/v1"

// ImportIDMaxLength is YNAB's documented maximum import_id length.
const ImportIDMaxLength = 36

// Cleared states accepted by YNAB.
const (
	ClearedCleared   = "cleared"
	ClearedUncleared = "uncleared"
)

// Client wraps the YNAB API.
type Client struct {
	api   *api.Client
	retry api.RetryPolicy
}

// New returns a Client authenticated with the given personal access token.
func New(token string) *Client {
	return &Client{
		api:   &api.Client{BaseURL: BaseURL, Token: token},
		retry: api.DefaultRetryPolicy(),
	}
}

// NewWithBaseURL returns a Client against a non-default endpoint. Used in
// tests.
func NewWithBaseURL(token, baseURL string) *Client {
	c := New(token)
	c.api.BaseURL = baseURL
	return c
}

// Budget is a YNAB budget.
type Budget struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Account is a YNAB account.
type Account struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	OnBudget bool   `json:"on_budget"`
	Closed   bool   `json:"closed"`
	Deleted  bool   `json:"deleted"`
}

// NewTransaction is a transaction to be created in YNAB.
type NewTransaction struct {
	AccountID  string  `json:"account_id"`
	Date       string  `json:"date"`   // ISO-8601 date, YYYY-MM-DD
	Amount     int64   `json:"amount"` // milliunits
	PayeeName  string  `json:"payee_name,omitempty"`
	CategoryID *string `json:"category_id,omitempty"`
	Memo       string  `json:"memo,omitempty"`
	Cleared    string  `json:"cleared,omitempty"`
	Approved   bool    `json:"approved"`
	ImportID   string  `json:"import_id,omitempty"`
}

// Transaction is a transaction as YNAB returns it after creation.
type Transaction struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Date      string `json:"date"`
	Amount    int64  `json:"amount"`
	PayeeName string `json:"payee_name"`
	ImportID  string `json:"import_id"`
}

// ImportID derives the idempotency token for a source transaction id by
// prefix truncation. Truncation rather than hashing keeps the token
// human-traceable back to the source id.
func ImportID(sourceID string) string {
	if len(sourceID) > ImportIDMaxLength {
		return sourceID[:ImportIDMaxLength]
	}
	return sourceID
}

// Ping checks that the token is valid and the API reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := api.WithRetry(ctx, c.retry, func() (struct{}, error) {
		return struct{}{}, c.api.Get(ctx, "/user", nil, nil)
	})
	return err
}

// Budgets lists all budgets visible to the token.
func (c *Client) Budgets(ctx context.Context) ([]Budget, error) {
	return api.WithRetry(ctx, c.retry, func() ([]Budget, error) {
		var response struct {
			Budgets []Budget `json:"budgets"`
		}
		if err := c.api.Get(ctx, "/budgets", nil, &response); err != nil {
			return nil, err
		}
		return response.Budgets, nil
	})
}

// Accounts lists all open accounts of a budget.
func (c *Client) Accounts(ctx context.Context, budgetID string) ([]Account, error) {
	return api.WithRetry(ctx, c.retry, func() ([]Account, error) {
		var response struct {
			Accounts []Account `json:"accounts"`
		}

		path := fmt.Sprintf("/budgets/%s/accounts", url.PathEscape(budgetID))
		if err := c.api.Get(ctx, path, nil, &response); err != nil {
			return nil, err
		}

		accounts := make([]Account, 0, len(response.Accounts))
		for _, account := range response.Accounts {
			if account.Closed || account.Deleted {
				continue
			}
			accounts = append(accounts, account)
		}

		return accounts, nil
	})
}

// CreateResult is the outcome of a transaction batch submission.
type CreateResult struct {
	Transactions []Transaction `json:"transactions"`

	// DuplicateImportIDs lists import ids YNAB rejected as duplicates of
	// transactions it already knows.
	DuplicateImportIDs []string `json:"duplicate_import_ids"`
}

// CreateTransactions submits a batch of transactions to a budget. Import ids
// are enforced to the maximum length before submission.
func (c *Client) CreateTransactions(ctx context.Context, budgetID string, transactions []NewTransaction) (CreateResult, error) {
	for i := range transactions {
		transactions[i].ImportID = ImportID(transactions[i].ImportID)
	}

	return api.WithRetry(ctx, c.retry, func() (CreateResult, error) {
		request := struct {
			Transactions []NewTransaction `json:"transactions"`
		}{Transactions: transactions}

		var result CreateResult

		path := fmt.Sprintf("/budgets/%s/transactions", url.PathEscape(budgetID))
		if err := c.api.Post(ctx, path, request, &result); err != nil {
			return CreateResult{}, err
		}

		return result, nil
	})
}
