package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aquanetwork/bribes-engine/internal/assets"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config configures a Client's connection to the ledger's HTTP API.
type Config struct {
	HorizonURL        string
	NetworkPassphrase string
	BaseFee           int64
	RequestTimeout    time.Duration
}

// Client is the production Gateway, backed by plain HTTP against the
// ledger's Horizon-shaped API. It follows the same wrapper-method shape
// as the teacher's bitcoin.Client: a Config, typed helpers, and the raw
// HTTP helpers (rawGet/rawPost) that every typed helper goes through,
// all sharing the one client-wide request timeout.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *zap.SugaredLogger
}

// NewClient builds a Client and verifies the ledger endpoint is
// reachable, the way bitcoin.NewClient verifies the RPC connection
// with an initial GetBlockCount.
func NewClient(ctx context.Context, cfg Config, log *zap.SugaredLogger) (*Client, error) {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		log:        log.Named("ledger"),
	}

	if _, err := c.rawGet(ctx, "/", nil); err != nil {
		return nil, fmt.Errorf("ledger: connectivity check failed: %w", err)
	}
	c.log.Infof("connected to ledger API at %s", cfg.HorizonURL)
	return c, nil
}

func (c *Client) rawGet(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.HorizonURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: build request: %w", err)
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	return c.do(req)
}

func (c *Client) rawPost(ctx context.Context, path string, form map[string]string) ([]byte, error) {
	values := make([]byte, 0)
	first := true
	for k, v := range form {
		if !first {
			values = append(values, '&')
		}
		first = false
		values = append(values, []byte(k+"="+v)...)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.HorizonURL+path, bytes.NewReader(values))
	if err != nil {
		return nil, fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Op: req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Op: req.URL.Path, Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return body, nil
	case http.StatusTooManyRequests:
		retryAfter := 1
		if v := resp.Header.Get("Retry-After"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				retryAfter = n
			}
		}
		return nil, &RateLimitedError{RetryAfterSeconds: retryAfter}
	case http.StatusBadGateway, http.StatusGatewayTimeout, 522:
		return nil, &TimeoutPendingError{StatusCode: resp.StatusCode}
	default:
		var problem horizonProblem
		if err := json.Unmarshal(body, &problem); err == nil && problem.Extras.ResultCodes.Transaction != "" {
			return nil, &ResultCodeError{
				StatusCode: resp.StatusCode,
				Codes: ResultCodes{
					Transaction: problem.Extras.ResultCodes.Transaction,
					Operations:  problem.Extras.ResultCodes.Operations,
				},
			}
		}
		return nil, fmt.Errorf("ledger: unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

type horizonProblem struct {
	Extras struct {
		ResultCodes struct {
			Transaction string   `json:"transaction"`
			Operations  []string `json:"operations"`
		} `json:"result_codes"`
	} `json:"extras"`
}

type horizonBalance struct {
	AssetType   string `json:"asset_type"`
	AssetCode   string `json:"asset_code"`
	AssetIssuer string `json:"asset_issuer"`
	Balance     string `json:"balance"`
}

type horizonAccount struct {
	AccountID string           `json:"account_id"`
	Sequence  string           `json:"sequence"`
	Balances  []horizonBalance `json:"balances"`
}

func (c *Client) GetAccount(ctx context.Context, accountID string) (*AccountRecord, error) {
	body, err := c.rawGet(ctx, "/accounts/"+accountID, nil)
	if err != nil {
		return nil, err
	}
	var raw horizonAccount
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("ledger: decode account: %w", err)
	}
	return decodeAccount(raw), nil
}

func decodeAccount(raw horizonAccount) *AccountRecord {
	seq, _ := strconv.ParseInt(raw.Sequence, 10, 64)
	rec := &AccountRecord{AccountID: raw.AccountID, SequenceNumber: seq}
	for _, b := range raw.Balances {
		asset := assets.Native()
		if b.AssetType != "native" {
			asset = assets.New(b.AssetCode, b.AssetIssuer)
		}
		amount, _ := decimal.NewFromString(b.Balance)
		rec.Balances = append(rec.Balances, Balance{Asset: asset, Balance: amount})
	}
	return rec
}

// HasTrustline reports whether account already holds a balance line for
// asset, mirroring bribe_processor.py's has_trustline.
func HasTrustline(account *AccountRecord, asset assets.Asset) bool {
	for _, b := range account.Balances {
		if b.Asset.Equal(asset) {
			return true
		}
	}
	return false
}

type horizonClaimableBalancesResponse struct {
	Embedded struct {
		Records []horizonClaimableBalance `json:"records"`
	} `json:"_embedded"`
}

type horizonClaimableBalance struct {
	ID                 string            `json:"id"`
	Asset              string            `json:"asset"`
	Amount             string            `json:"amount"`
	Sponsor            string            `json:"sponsor"`
	PagingToken        string            `json:"paging_token"`
	LastModifiedTime   string            `json:"last_modified_time"`
	LastModifiedLedger uint32            `json:"last_modified_ledger"`
	Claimants          []horizonClaimant `json:"claimants"`
}

type horizonClaimant struct {
	Destination string          `json:"destination"`
	Predicate   json.RawMessage `json:"predicate"`
}

func (c *Client) ListClaimableBalancesForClaimant(ctx context.Context, claimant, cursor string, limit int, ascending bool) (Page[ClaimableBalanceRecord], error) {
	order := "asc"
	if !ascending {
		order = "desc"
	}
	query := map[string]string{
		"claimant": claimant,
		"limit":    strconv.Itoa(limit),
		"order":    order,
	}
	if cursor != "" {
		query["cursor"] = cursor
	}
	return c.pageClaimableBalances(ctx, query)
}

func (c *Client) ListClaimableBalancesForAsset(ctx context.Context, asset assets.Asset, cursor string, limit int) (Page[ClaimableBalanceRecord], error) {
	query := map[string]string{
		"asset": asset.String(),
		"limit": strconv.Itoa(limit),
		"order": "asc",
	}
	if cursor != "" {
		query["cursor"] = cursor
	}
	return c.pageClaimableBalances(ctx, query)
}

func (c *Client) pageClaimableBalances(ctx context.Context, query map[string]string) (Page[ClaimableBalanceRecord], error) {
	body, err := c.rawGet(ctx, "/claimable_balances", query)
	if err != nil {
		return Page[ClaimableBalanceRecord]{}, err
	}
	var raw horizonClaimableBalancesResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Page[ClaimableBalanceRecord]{}, fmt.Errorf("ledger: decode claimable balances: %w", err)
	}

	page := Page[ClaimableBalanceRecord]{}
	for _, rec := range raw.Embedded.Records {
		decoded, err := decodeClaimableBalance(rec)
		if err != nil {
			c.log.Warnw("skipping unparseable claimable balance", "id", rec.ID, "error", err)
			continue
		}
		page.Records = append(page.Records, decoded)
		page.NextCursor = rec.PagingToken
	}
	return page, nil
}

func decodeClaimableBalance(raw horizonClaimableBalance) (ClaimableBalanceRecord, error) {
	asset, err := assets.Parse(raw.Asset)
	if err != nil {
		return ClaimableBalanceRecord{}, err
	}
	amount, err := decimal.NewFromString(raw.Amount)
	if err != nil {
		return ClaimableBalanceRecord{}, fmt.Errorf("ledger: malformed amount %q: %w", raw.Amount, err)
	}

	rec := ClaimableBalanceRecord{
		ID:                 raw.ID,
		Asset:              asset,
		Amount:             amount,
		Sponsor:            raw.Sponsor,
		PagingToken:        raw.PagingToken,
		LastModifiedLedger: raw.LastModifiedLedger,
	}
	if raw.LastModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339, raw.LastModifiedTime); err == nil {
			rec.LastModifiedTime = &t
		}
	}
	for _, claimant := range raw.Claimants {
		predicate, err := decodePredicate(claimant.Predicate)
		if err != nil {
			return ClaimableBalanceRecord{}, fmt.Errorf("ledger: claimant %s: %w", claimant.Destination, err)
		}
		rec.Claimants = append(rec.Claimants, Claimant{Destination: claimant.Destination, Predicate: predicate})
	}
	return rec, nil
}

type wirePredicate struct {
	Unconditional *bool           `json:"unconditional"`
	AbsBefore     *string         `json:"abs_before"`
	RelBefore     *string         `json:"rel_before"`
	Not           json.RawMessage `json:"not"`
	And           []json.RawMessage `json:"and"`
	Or            []json.RawMessage `json:"or"`
}

func decodePredicate(raw json.RawMessage) (Predicate, error) {
	var wire wirePredicate
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Predicate{}, fmt.Errorf("ledger: malformed predicate: %w", err)
	}

	switch {
	case wire.Unconditional != nil && *wire.Unconditional:
		return Predicate{Unconditional: true}, nil
	case wire.AbsBefore != nil:
		t, err := time.Parse(time.RFC3339, *wire.AbsBefore)
		if err != nil {
			return Predicate{}, fmt.Errorf("ledger: malformed abs_before %q: %w", *wire.AbsBefore, err)
		}
		return Predicate{AbsBefore: &t}, nil
	case wire.RelBefore != nil:
		secs, err := strconv.ParseInt(*wire.RelBefore, 10, 64)
		if err != nil {
			return Predicate{}, fmt.Errorf("ledger: malformed rel_before %q: %w", *wire.RelBefore, err)
		}
		return Predicate{RelBeforeSecs: &secs}, nil
	case len(wire.Not) > 0:
		inner, err := decodePredicate(wire.Not)
		if err != nil {
			return Predicate{}, err
		}
		return Predicate{Not: &inner}, nil
	case len(wire.And) == 2:
		left, err := decodePredicate(wire.And[0])
		if err != nil {
			return Predicate{}, err
		}
		right, err := decodePredicate(wire.And[1])
		if err != nil {
			return Predicate{}, err
		}
		return Predicate{And: []Predicate{left, right}}, nil
	case len(wire.Or) == 2:
		left, err := decodePredicate(wire.Or[0])
		if err != nil {
			return Predicate{}, err
		}
		right, err := decodePredicate(wire.Or[1])
		if err != nil {
			return Predicate{}, err
		}
		return Predicate{Or: []Predicate{left, right}}, nil
	default:
		return Predicate{}, fmt.Errorf("ledger: unrecognized predicate shape")
	}
}

type horizonAccountsResponse struct {
	Embedded struct {
		Records []horizonAccount `json:"records"`
	} `json:"_embedded"`
}

func (c *Client) ListAccountsHoldingAsset(ctx context.Context, asset assets.Asset, cursor string, limit int) (Page[AccountRecord], error) {
	query := map[string]string{
		"asset": asset.String(),
		"limit": strconv.Itoa(limit),
		"order": "asc",
	}
	if cursor != "" {
		query["cursor"] = cursor
	}
	body, err := c.rawGet(ctx, "/accounts", query)
	if err != nil {
		return Page[AccountRecord]{}, err
	}
	var raw horizonAccountsResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Page[AccountRecord]{}, fmt.Errorf("ledger: decode accounts: %w", err)
	}
	page := Page[AccountRecord]{}
	for _, rec := range raw.Embedded.Records {
		page.Records = append(page.Records, *decodeAccount(rec))
		page.NextCursor = rec.AccountID
	}
	return page, nil
}

type horizonPathsResponse struct {
	Embedded struct {
		Records []horizonPath `json:"records"`
	} `json:"_embedded"`
}

type horizonPath struct {
	SourceAmount      string            `json:"source_amount"`
	DestinationAmount string            `json:"destination_amount"`
	Path              []horizonPathAsset `json:"path"`
}

type horizonPathAsset struct {
	AssetType   string `json:"asset_type"`
	AssetCode   string `json:"asset_code"`
	AssetIssuer string `json:"asset_issuer"`
}

func decodePathHops(raw []horizonPathAsset) []assets.Asset {
	hops := make([]assets.Asset, 0, len(raw))
	for _, p := range raw {
		if p.AssetType == "native" {
			hops = append(hops, assets.Native())
		} else {
			hops = append(hops, assets.New(p.AssetCode, p.AssetIssuer))
		}
	}
	return hops
}

func (c *Client) StrictReceivePaths(ctx context.Context, source, destination assets.Asset, destinationAmount decimal.Decimal) ([]PathQuote, error) {
	query := map[string]string{
		"source_assets":       source.String(),
		"destination_asset":   destination.String(),
		"destination_amount":  destinationAmount.StringFixed(7),
	}
	body, err := c.rawGet(ctx, "/paths/strict-receive", query)
	if err != nil {
		return nil, err
	}
	return decodePaths(body)
}

func (c *Client) StrictSendPaths(ctx context.Context, source assets.Asset, sourceAmount decimal.Decimal, destination assets.Asset) ([]PathQuote, error) {
	query := map[string]string{
		"source_asset":        source.String(),
		"source_amount":       sourceAmount.StringFixed(7),
		"destination_assets":  destination.String(),
	}
	body, err := c.rawGet(ctx, "/paths/strict-send", query)
	if err != nil {
		return nil, err
	}
	return decodePaths(body)
}

func decodePaths(body []byte) ([]PathQuote, error) {
	var raw horizonPathsResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("ledger: decode paths: %w", err)
	}
	quotes := make([]PathQuote, 0, len(raw.Embedded.Records))
	for _, r := range raw.Embedded.Records {
		srcAmount, _ := decimal.NewFromString(r.SourceAmount)
		dstAmount, _ := decimal.NewFromString(r.DestinationAmount)
		quotes = append(quotes, PathQuote{
			SourceAmount:      srcAmount,
			DestinationAmount: dstAmount,
			Path:              decodePathHops(r.Path),
		})
	}
	return quotes, nil
}

type horizonTxResponse struct {
	Hash          string `json:"hash"`
	Successful    bool   `json:"successful"`
	ResultMetaXdr string `json:"result_meta_xdr"`
}

func (c *Client) GetTransaction(ctx context.Context, hash string) (*TxResult, error) {
	body, err := c.rawGet(ctx, "/transactions/"+hash, nil)
	if err != nil {
		return nil, err
	}
	var raw horizonTxResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("ledger: decode transaction: %w", err)
	}
	return &TxResult{Hash: raw.Hash, Successful: raw.Successful, ResultMetaXDR: raw.ResultMetaXdr}, nil
}

// Submit encodes envelope's operations into a signed transaction and
// submits it. The XDR encoding step is delegated to buildEnvelopeXDR
// (envelope.go), which encodes with the ledger SDK's own xdr types
// rather than a hand-rolled encoder.
func (c *Client) Submit(ctx context.Context, envelope *Envelope) (*TxResult, error) {
	txXDR, err := buildEnvelopeXDR(envelope, c.cfg.NetworkPassphrase, c.cfg.BaseFee)
	if err != nil {
		return nil, fmt.Errorf("ledger: build envelope: %w", err)
	}

	body, err := c.rawPost(ctx, "/transactions", map[string]string{"tx": txXDR})
	if err != nil {
		return nil, err
	}
	var raw horizonTxResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("ledger: decode submit response: %w", err)
	}
	return &TxResult{Hash: raw.Hash, Successful: raw.Successful, ResultMetaXDR: raw.ResultMetaXdr}, nil
}
