package stellar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/StayLitCodes/Vaultix/internal/escrowerr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Client talks to the Stellar bridge service that owns the on-chain
// escrow contract. Settle submits the release transfer; FetchState reads
// the contract's view for reconciliation. Settle is never retried here:
// the caller's idempotency guard makes a whole-operation retry safe.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type settleRequest struct {
	Beneficiary string `json:"beneficiary"`
}

type settleResponse struct {
	TxHash string `json:"tx_hash"`
}

func (c *Client) Settle(ctx context.Context, escrowID, beneficiary uuid.UUID) (string, error) {
	body, err := json.Marshal(settleRequest{Beneficiary: beneficiary.String()})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/internal/escrows/%s/settle", c.baseURL, escrowID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stellar bridge unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("stellar bridge returned %d: %s", resp.StatusCode, string(b))
	}

	var result settleResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.TxHash == "" {
		return "", fmt.Errorf("stellar bridge returned empty tx hash")
	}
	return result.TxHash, nil
}

// ExternalEscrowView is the contract-side projection compared by the
// consistency checker.
type ExternalEscrowView struct {
	EscrowID      string          `json:"escrow_id"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Asset         string          `json:"asset"`
	IsReleased    bool            `json:"is_released"`
	ReleaseTxHash *string         `json:"release_tx_hash,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
}

func (c *Client) FetchState(ctx context.Context, escrowID uuid.UUID) (*ExternalEscrowView, error) {
	url := fmt.Sprintf("%s/internal/escrows/%s", c.baseURL, escrowID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stellar bridge unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: escrow %s on chain", escrowerr.ErrNotFound, escrowID)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("stellar bridge returned %d: %s", resp.StatusCode, string(b))
	}

	var view ExternalEscrowView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, err
	}
	return &view, nil
}
