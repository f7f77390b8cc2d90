// Package upbank is a typed client for the Up Bank API.
//
// Up serves JSON:API-style payloads: every resource has a type, an id, an
// attributes object and a relationships object. The client flattens these into
// plain structs and keeps the raw resource JSON for the audit trail.
package upbank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/swiftdevstuff/up-ynab-sync/internal/api"
)

// BaseURL is the production Up API endpoint.
const BaseURL = "https://api.up.com.au/api/v1"

// Transaction statuses as reported by Up.
const (
	StatusHeld    = "HELD"
	StatusSettled = "SETTLED"
)

// Client wraps the Up API.
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

// Account is a flattened Up account resource.
type Account struct {
	ID          string
	DisplayName string
	Type        string
	OwnerType   string
}

// Transaction is a flattened Up transaction resource.
//
// Transactions are immutable: they are created by Up, fetched read-only and
// never mutated locally.
type Transaction struct {
	ID               string
	Status           string
	Description      string
	RawText          string
	Message          string
	AmountBaseUnits  int64
	CurrencyCode     string
	CreatedAt        time.Time
	SettledAt        *time.Time
	AccountID        string
	CategoryID       string
	ParentCategoryID string

	// Raw is the resource exactly as Up returned it, kept for audit and
	// replay.
	Raw json.RawMessage
}

// Settled reports whether the transaction has settled.
func (t Transaction) Settled() bool {
	return t.Status == StatusSettled
}

// Ping checks that the token is valid and the API reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := api.WithRetry(ctx, c.retry, func() (struct{}, error) {
		return struct{}{}, c.api.Get(ctx, "/util/ping", nil, nil)
	})
	return err
}

// Accounts lists all accounts visible to the token.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	return api.WithRetry(ctx, c.retry, func() ([]Account, error) {
		var page struct {
			Data []accountResource `json:"data"`
		}
		if err := c.api.Get(ctx, "/accounts", nil, &page); err != nil {
			return nil, err
		}

		accounts := make([]Account, 0, len(page.Data))
		for _, resource := range page.Data {
			accounts = append(accounts, Account{
				ID:          resource.ID,
				DisplayName: resource.Attributes.DisplayName,
				Type:        resource.Attributes.AccountType,
				OwnerType:   resource.Attributes.OwnershipType,
			})
		}

		return accounts, nil
	})
}

// Transactions returns a pager over the account's transactions inside the
// window. Every call returns a fresh pager, so the sequence is restartable.
func (c *Client) Transactions(accountID string, since, until time.Time, pageSize int) *TransactionPager {
	if pageSize <= 0 {
		pageSize = 100
	}

	query := url.Values{}
	query.Set("filter[since]", since.UTC().Format(time.RFC3339))
	query.Set("filter[until]", until.UTC().Format(time.RFC3339))
	query.Set("page[size]", strconv.Itoa(pageSize))

	return &TransactionPager{
		client:   c,
		path:     fmt.Sprintf("/accounts/%s/transactions", url.PathEscape(accountID)),
		query:    query,
		pageSize: pageSize,
	}
}

// ListTransactions drains the pager for the window and returns all
// transactions at once.
func (c *Client) ListTransactions(ctx context.Context, accountID string, since, until time.Time, pageSize int) ([]Transaction, error) {
	pager := c.Transactions(accountID, since, until, pageSize)

	var transactions []Transaction
	for pager.Next(ctx) {
		transactions = append(transactions, pager.Page()...)
	}

	return transactions, pager.Err()
}

// TransactionPager walks a paginated transaction listing one page per Next
// call. Pagination continues while pages come back full; a short final page
// signals completion.
type TransactionPager struct {
	client   *Client
	path     string
	query    url.Values
	pageSize int

	next    string // next page URL from the provider, if any
	started bool
	done    bool
	page    []Transaction
	err     error
}

// Next fetches the next page. It returns false when the listing is exhausted
// or an error occurred.
func (p *TransactionPager) Next(ctx context.Context) bool {
	if p.done || p.err != nil {
		return false
	}

	page, err := api.WithRetry(ctx, p.client.retry, func() (transactionPage, error) {
		return p.fetch(ctx)
	})
	if err != nil {
		p.err = err
		return false
	}

	p.started = true
	p.page = make([]Transaction, 0, len(page.Data))
	for _, resource := range page.Data {
		transaction, err := flatten(resource)
		if err != nil {
			p.err = err
			return false
		}
		p.page = append(p.page, transaction)
	}

	p.next = page.Links.Next
	if len(page.Data) < p.pageSize || p.next == "" {
		p.done = true
	}

	return len(p.page) > 0
}

// Page returns the transactions fetched by the last Next call.
func (p *TransactionPager) Page() []Transaction {
	return p.page
}

// Err returns the first error encountered while paging.
func (p *TransactionPager) Err() error {
	return p.err
}

func (p *TransactionPager) fetch(ctx context.Context) (transactionPage, error) {
	var page transactionPage

	path, query := p.path, p.query
	if p.started && p.next != "" {
		// The provider hands out absolute next-page URLs. Re-resolve
		// against our own base so tests against a local server work.
		parsed, err := url.Parse(p.next)
		if err != nil {
			return page, fmt.Errorf("invalid next page link: %w", err)
		}
		path, query = parsed.Path, parsed.Query()

		// Up prefixes API paths with /api/v1, which is part of the base URL
		const prefix = "/api/v1"
		if len(path) > len(prefix) && path[:len(prefix)] == prefix {
			path = path[len(prefix):]
		}
	}

	err := p.client.api.Get(ctx, path, query, &page)
	return page, err
}

type transactionPage struct {
	Data  []transactionResource `json:"data"`
	Links struct {
		Prev string `json:"prev"`
		Next string `json:"next"`
	} `json:"links"`
}

type accountResource struct {
	ID         string `json:"id"`
	Attributes struct {
		DisplayName   string `json:"displayName"`
		AccountType   string `json:"accountType"`
		OwnershipType string `json:"ownershipType"`
	} `json:"attributes"`
}

type transactionResource struct {
	ID         string `json:"id"`
	Attributes struct {
		Status      string `json:"status"`
		RawText     string `json:"rawText"`
		Description string `json:"description"`
		Message     string `json:"message"`
		Amount      struct {
			CurrencyCode     string `json:"currencyCode"`
			Value            string `json:"value"`
			ValueInBaseUnits int64  `json:"valueInBaseUnits"`
		} `json:"amount"`
		CreatedAt time.Time  `json:"createdAt"`
		SettledAt *time.Time `json:"settledAt"`
	} `json:"attributes"`
	Relationships struct {
		Account        relationship `json:"account"`
		Category       relationship `json:"category"`
		ParentCategory relationship `json:"parentCategory"`
	} `json:"relationships"`
}

type relationship struct {
	Data *struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (r relationship) id() string {
	if r.Data == nil {
		return ""
	}
	return r.Data.ID
}

func flatten(resource transactionResource) (Transaction, error) {
	raw, err := json.Marshal(resource)
	if err != nil {
		return Transaction{}, fmt.Errorf("serializing raw transaction payload: %w", err)
	}

	return Transaction{
		ID:               resource.ID,
		Status:           resource.Attributes.Status,
		Description:      resource.Attributes.Description,
		RawText:          resource.Attributes.RawText,
		Message:          resource.Attributes.Message,
		AmountBaseUnits:  resource.Attributes.Amount.ValueInBaseUnits,
		CurrencyCode:     resource.Attributes.Amount.CurrencyCode,
		CreatedAt:        resource.Attributes.CreatedAt,
		SettledAt:        resource.Attributes.SettledAt,
		AccountID:        resource.Relationships.Account.id(),
		CategoryID:       resource.Relationships.Category.id(),
		ParentCategoryID: resource.Relationships.ParentCategory.id(),
		Raw:              raw,
	}, nil
}
