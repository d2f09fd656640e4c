// Package clients holds the thin ledger clients the services talk through.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// LogEvent is one push notification from the source ledger log stream.
type LogEvent struct {
	Signature string
	Slot      uint64
	Failed    bool
}

// SignatureInfo is one entry from a signature history scan.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	BlockTime int64
	Failed    bool
}

// TransactionDetail is the verified view of one source transaction.
type TransactionDetail struct {
	Signature    string
	Slot         uint64
	BlockTime    int64
	Failed       bool
	AccountKeys  []string
	PreBalances  []uint64
	PostBalances []uint64
}

// BalanceDelta returns the lamport delta for the given account and the index
// of the fee payer (first account key). A zero second value means the account
// did not take part in the transaction.
func (t *TransactionDetail) BalanceDelta(address string) (delta int64, found bool) {
	for i, key := range t.AccountKeys {
		if key != address {
			continue
		}
		if i >= len(t.PreBalances) || i >= len(t.PostBalances) {
			return 0, false
		}
		return int64(t.PostBalances[i]) - int64(t.PreBalances[i]), true
	}
	return 0, false
}

// Sender returns the fee payer, by convention the first account key.
func (t *TransactionDetail) Sender() string {
	if len(t.AccountKeys) == 0 {
		return ""
	}
	return t.AccountKeys[0]
}

// SourceLedgerClient is the query/subscription contract the relay consumes.
type SourceLedgerClient interface {
	GetTransaction(ctx context.Context, signature string) (*TransactionDetail, error)
	GetBalance(ctx context.Context, address string) (uint64, error)
	GetSignaturesForAddress(ctx context.Context, address, until string, limit int) ([]SignatureInfo, error)
	SubscribeLogs(ctx context.Context, address string) (*LogSubscription, error)
}

// LogSubscription is a live log stream. Events is closed when the underlying
// connection drops; the consumer is expected to resubscribe.
type LogSubscription struct {
	Events <-chan LogEvent
	conn   *websocket.Conn
}

// Close tears down the stream.
func (s *LogSubscription) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// SolanaClient is a minimal JSON-RPC client for a Solana-style ledger.
type SolanaClient struct {
	rpcURL     string
	wsURL      string
	commitment string
	httpClient *http.Client
	reqID      atomic.Uint64
}

// NewSolanaClient creates a source ledger client.
func NewSolanaClient(rpcURL, wsURL, commitment string) *SolanaClient {
	if commitment == "" {
		commitment = "confirmed"
	}
	return &SolanaClient{
		rpcURL:     rpcURL,
		wsURL:      wsURL,
		commitment: commitment,
		httpClient: &http.Client{},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *SolanaClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("source rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("source rpc %s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("source rpc %s: %d %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("source rpc %s: decode result: %w", method, err)
		}
	}
	return nil
}

type getTransactionResult struct {
	Slot        uint64 `json:"slot"`
	BlockTime   *int64 `json:"blockTime"`
	Meta        *struct {
		Err          interface{} `json:"err"`
		PreBalances  []uint64    `json:"preBalances"`
		PostBalances []uint64    `json:"postBalances"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

// GetTransaction fetches full transaction detail for a signature. A nil meta
// or missing transaction is reported as an error so callers retry later.
func (c *SolanaClient) GetTransaction(ctx context.Context, signature string) (*TransactionDetail, error) {
	var result *getTransactionResult
	err := c.call(ctx, "getTransaction", []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "json",
			"commitment":                     c.commitment,
			"maxSupportedTransactionVersion": 0,
		},
	}, &result)
	if err != nil {
		return nil, err
	}
	if result == nil || result.Meta == nil {
		return nil, fmt.Errorf("transaction %s not yet confirmed", signature)
	}

	detail := &TransactionDetail{
		Signature:    signature,
		Slot:         result.Slot,
		Failed:       result.Meta.Err != nil,
		AccountKeys:  result.Transaction.Message.AccountKeys,
		PreBalances:  result.Meta.PreBalances,
		PostBalances: result.Meta.PostBalances,
	}
	if result.BlockTime != nil {
		detail.BlockTime = *result.BlockTime
	}
	return detail, nil
}

// GetBalance returns the lamport balance of an account.
func (c *SolanaClient) GetBalance(ctx context.Context, address string) (uint64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	err := c.call(ctx, "getBalance", []interface{}{
		address,
		map[string]interface{}{"commitment": c.commitment},
	}, &result)
	if err != nil {
		return 0, err
	}
	return result.Value, nil
}

type signatureEntry struct {
	Signature string      `json:"signature"`
	Slot      uint64      `json:"slot"`
	BlockTime *int64      `json:"blockTime"`
	Err       interface{} `json:"err"`
}

// GetSignaturesForAddress scans signature history newest-first, stopping at
// the until signature when given. Used for the catch-up scan after a stream gap.
func (c *SolanaClient) GetSignaturesForAddress(ctx context.Context, address, until string, limit int) ([]SignatureInfo, error) {
	opts := map[string]interface{}{
		"commitment": c.commitment,
		"limit":      limit,
	}
	if until != "" {
		opts["until"] = until
	}

	var entries []signatureEntry
	if err := c.call(ctx, "getSignaturesForAddress", []interface{}{address, opts}, &entries); err != nil {
		return nil, err
	}

	infos := make([]SignatureInfo, 0, len(entries))
	for _, e := range entries {
		info := SignatureInfo{
			Signature: e.Signature,
			Slot:      e.Slot,
			Failed:    e.Err != nil,
		}
		if e.BlockTime != nil {
			info.BlockTime = *e.BlockTime
		}
		infos = append(infos, info)
	}
	return infos, nil
}

type logsNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string      `json:"signature"`
				Err       interface{} `json:"err"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// SubscribeLogs opens a websocket log subscription mentioning the given
// account. The returned channel closes when the connection drops.
func (c *SolanaClient) SubscribeLogs(ctx context.Context, address string) (*LogSubscription, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("source ws dial: %w", err)
	}

	sub := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  "logsSubscribe",
		Params: []interface{}{
			map[string]interface{}{"mentions": []string{address}},
			map[string]interface{}{"commitment": c.commitment},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("source ws subscribe: %w", err)
	}

	events := make(chan LogEvent, 64)
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				logrus.WithError(err).Warn("source log stream closed")
				return
			}
			var note logsNotification
			if err := json.Unmarshal(message, &note); err != nil {
				continue
			}
			if note.Method != "logsNotification" || note.Params.Result.Value.Signature == "" {
				continue // subscription confirmation or unrelated frame
			}
			select {
			case events <- LogEvent{
				Signature: note.Params.Result.Value.Signature,
				Slot:      note.Params.Result.Context.Slot,
				Failed:    note.Params.Result.Value.Err != nil,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &LogSubscription{Events: events, conn: conn}, nil
}
