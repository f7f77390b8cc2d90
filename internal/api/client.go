// Package api contains the plumbing shared by the remote API clients: bearer
// authentication, response decoding, the error taxonomy and the retry policy.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// UserAgent identifies this tool to the providers on every request.
const UserAgent = "up-ynab-sync/1.0"

// Client is a minimal JSON-over-HTTP client bound to one provider.
type Client struct {
	BaseURL string
	Token   string

	// HTTPClient defaults to a client with a conservative timeout.
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}

	return &http.Client{Timeout: 30 * time.Second}
}

// Get performs a GET request and decodes the response into target.
func (c *Client) Get(ctx context.Context, path string, query url.Values, target any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, target)
}

// Post performs a POST request with a JSON body and decodes the response into
// target.
func (c *Client) Post(ctx context.Context, path string, body, target any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, target)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, target any) error {
	endpoint := strings.TrimSuffix(c.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint = endpoint + "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}

	if target == nil {
		return nil
	}

	return decode(json.NewDecoder(resp.Body), target)
}

// envelope is the generic wrapper both providers use in one form or another.
type envelope struct {
	Data   json.RawMessage `json:"data"`
	Error  *providerError  `json:"error"`
	Errors []providerError `json:"errors"`
}

type providerError struct {
	Title  string `json:"title"`
	Name   string `json:"name"`
	Detail string `json:"detail"`
}

func (e providerError) text() string {
	switch {
	case e.Detail != "" && e.Title != "":
		return e.Title + ": " + e.Detail
	case e.Detail != "" && e.Name != "":
		return e.Name + ": " + e.Detail
	case e.Detail != "":
		return e.Detail
	case e.Title != "":
		return e.Title
	}

	return e.Name
}

// decode tries the exact expected shape first and falls back to a generically
// wrapped {data, error, errors} envelope.
//
// The first attempt must be strict: json.Unmarshal ignores unknown fields, so
// an enveloped body would otherwise "decode" into a target without a data
// field as all zero values and the fallback would never run. The final
// lenient pass covers targets that declare the envelope fields themselves
// alongside extras the provider adds.
func decode(dec *json.Decoder, target any) error {
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %s", ErrDecode, err.Error())
	}

	strict := json.NewDecoder(bytes.NewReader(raw))
	strict.DisallowUnknownFields()
	if err := strict.Decode(target); err == nil {
		return nil
	}

	var wrapped envelope
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Data != nil {
		if err := json.Unmarshal(wrapped.Data, target); err == nil {
			return nil
		}
	}

	if err := json.Unmarshal(raw, target); err == nil {
		return nil
	}

	return fmt.Errorf("%w: response matches neither the expected shape nor an envelope", ErrDecode)
}

// providerMessage extracts provider-supplied error text from a response body,
// if there is any.
func providerMessage(body []byte) string {
	var wrapped envelope
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return ""
	}

	if wrapped.Error != nil {
		return wrapped.Error.text()
	}

	if len(wrapped.Errors) > 0 {
		return wrapped.Errors[0].text()
	}

	return ""
}
