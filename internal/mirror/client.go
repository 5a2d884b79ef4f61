// Package mirror reads NFT ownership, history and balances from the mirror
// node REST API.
package mirror

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/token_engine/internal/httputil"
	"github.com/R3E-Network/token_engine/internal/logging"
)

const (
	defaultPageLimit = 100
	defaultMaxPages  = 50
)

// ErrNotFound is returned when the mirror node has no such entity.
var ErrNotFound = errors.New("mirror: not found")

// NFT is one serial as indexed by the mirror node.
type NFT struct {
	TokenID      string `json:"tokenId"`
	SerialNumber int64  `json:"serialNumber"`
	AccountID    string `json:"accountId"`
	Metadata     []byte `json:"-"`
	Deleted      bool   `json:"deleted"`
	CreatedAt    string `json:"createdTimestamp"`
}

// NFTTransaction is one entry of an NFT's transfer history.
type NFTTransaction struct {
	ConsensusTimestamp string `json:"consensusTimestamp"`
	TransactionID      string `json:"transactionId"`
	Type               string `json:"type"`
	SenderAccountID    string `json:"senderAccountId,omitempty"`
	ReceiverAccountID  string `json:"receiverAccountId,omitempty"`
}

// Reader is the read surface the gateway services depend on.
type Reader interface {
	ListNFTs(ctx context.Context, tokenID string) ([]NFT, error)
	AccountNFTs(ctx context.Context, tokenID, accountID string) ([]NFT, error)
	GetNFT(ctx context.Context, tokenID string, serial int64) (NFT, error)
	NFTHistory(ctx context.Context, tokenID string, serial int64) ([]NFTTransaction, error)
	TokenBalance(ctx context.Context, accountID, tokenID string) (int64, error)
}

var _ Reader = (*Client)(nil)

// Client reads from one mirror node.
type Client struct {
	http      *httputil.Client
	pageLimit int
	maxPages  int
	log       *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithPageLimit sets the page size requested from the mirror node.
func WithPageLimit(limit int) Option {
	return func(c *Client) {
		if limit > 0 {
			c.pageLimit = limit
		}
	}
}

// WithMaxPages bounds how many pages a listing follows.
func WithMaxPages(pages int) Option {
	return func(c *Client) {
		if pages > 0 {
			c.maxPages = pages
		}
	}
}

// WithLogger sets the logger used for truncated listings and skipped items.
func WithLogger(log *logging.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a client reading through http.
func New(http *httputil.Client, opts ...Option) *Client {
	c := &Client{http: http, pageLimit: defaultPageLimit, maxPages: defaultMaxPages}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.NewDefault("mirror")
	}
	return c
}

// ListNFTs returns every serial of tokenID, following pagination links.
func (c *Client) ListNFTs(ctx context.Context, tokenID string) ([]NFT, error) {
	path := fmt.Sprintf("/api/v1/tokens/%s/nfts?limit=%d", url.PathEscape(tokenID), c.pageLimit)
	return c.collectNFTs(ctx, path)
}

// AccountNFTs returns the serials of tokenID currently held by accountID.
func (c *Client) AccountNFTs(ctx context.Context, tokenID, accountID string) ([]NFT, error) {
	path := fmt.Sprintf("/api/v1/tokens/%s/nfts?account.id=%s&limit=%d",
		url.PathEscape(tokenID), url.QueryEscape(accountID), c.pageLimit)
	return c.collectNFTs(ctx, path)
}

// GetNFT returns one serial.
func (c *Client) GetNFT(ctx context.Context, tokenID string, serial int64) (NFT, error) {
	body, err := c.get(ctx, fmt.Sprintf("/api/v1/tokens/%s/nfts/%d", url.PathEscape(tokenID), serial))
	if err != nil {
		return NFT{}, err
	}
	nft, err := parseNFT(gjson.ParseBytes(body))
	if err != nil {
		return NFT{}, err
	}
	if nft.SerialNumber == 0 {
		return NFT{}, ErrNotFound
	}
	return nft, nil
}

// NFTHistory returns the transfer history of one serial, newest first.
func (c *Client) NFTHistory(ctx context.Context, tokenID string, serial int64) ([]NFTTransaction, error) {
	path := fmt.Sprintf("/api/v1/tokens/%s/nfts/%d/transactions?limit=%d", url.PathEscape(tokenID), serial, c.pageLimit)

	var out []NFTTransaction
	for page := 0; path != "" && page < c.maxPages; page++ {
		body, err := c.get(ctx, path)
		if err != nil {
			return nil, err
		}
		doc := gjson.ParseBytes(body)
		doc.Get("transactions").ForEach(func(_, tx gjson.Result) bool {
			out = append(out, NFTTransaction{
				ConsensusTimestamp: tx.Get("consensus_timestamp").String(),
				TransactionID:      tx.Get("transaction_id").String(),
				Type:               tx.Get("type").String(),
				SenderAccountID:    tx.Get("sender_account_id").String(),
				ReceiverAccountID:  tx.Get("receiver_account_id").String(),
			})
			return true
		})
		path = doc.Get("links.next").String()
	}
	c.warnTruncated(ctx, "nft_history", path, len(out))
	return out, nil
}

// TokenBalance returns accountID's balance of tokenID; zero when not associated.
func (c *Client) TokenBalance(ctx context.Context, accountID, tokenID string) (int64, error) {
	path := fmt.Sprintf("/api/v1/accounts/%s/tokens?token.id=%s", url.PathEscape(accountID), url.QueryEscape(tokenID))
	body, err := c.get(ctx, path)
	if err != nil {
		return 0, err
	}
	balance := gjson.GetBytes(body, "tokens.0.balance")
	if !balance.Exists() {
		return 0, nil
	}
	return balance.Int(), nil
}

func (c *Client) collectNFTs(ctx context.Context, path string) ([]NFT, error) {
	var out []NFT
	for page := 0; path != "" && page < c.maxPages; page++ {
		body, err := c.get(ctx, path)
		if err != nil {
			return nil, err
		}
		doc := gjson.ParseBytes(body)

		doc.Get("nfts").ForEach(func(_, item gjson.Result) bool {
			nft, err := parseNFT(item)
			if err != nil {
				c.log.WithContext(ctx).WithError(err).Warn("skipping NFT with undecodable metadata")
				return true
			}
			if !nft.Deleted {
				out = append(out, nft)
			}
			return true
		})
		path = doc.Get("links.next").String()
	}
	c.warnTruncated(ctx, "nfts", path, len(out))
	return out, nil
}

// warnTruncated reports a listing that stopped at maxPages with more pages left.
func (c *Client) warnTruncated(ctx context.Context, listing, next string, items int) {
	if next == "" {
		return
	}
	c.log.WithContext(ctx).WithFields(map[string]interface{}{
		"listing":   listing,
		"max_pages": c.maxPages,
		"items":     items,
		"next":      next,
	}).Warn("mirror listing truncated at page limit")
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	body, err := c.http.Get(ctx, path)
	if err != nil {
		if httputil.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mirror request %s: %w", path, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("mirror request %s: invalid JSON response", path)
	}
	return body, nil
}

func parseNFT(item gjson.Result) (NFT, error) {
	nft := NFT{
		TokenID:      item.Get("token_id").String(),
		SerialNumber: item.Get("serial_number").Int(),
		AccountID:    item.Get("account_id").String(),
		Deleted:      item.Get("deleted").Bool(),
		CreatedAt:    item.Get("created_timestamp").String(),
	}
	if encoded := item.Get("metadata").String(); encoded != "" {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return NFT{}, fmt.Errorf("decode metadata of %s/%s: %w", nft.TokenID, strconv.FormatInt(nft.SerialNumber, 10), err)
		}
		nft.Metadata = raw
	}
	return nft, nil
}
