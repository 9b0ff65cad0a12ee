package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/edwardtay/payrelay/types"
)

const defaultCCTPBaseURL = "https://iris-api.circle.com"

// CCTPProvider adapts Circle's native USDC burn-and-mint bridge. It only
// routes USDC to USDC across distinct chains that carry a Circle
// attestation domain; everything else is out of scope and yields an empty
// result, never an error.
type CCTPProvider struct {
	baseURL string
	client  *http.Client
}

// cctpFeesResponse mirrors the attestation service fee endpoint.
type cctpFeesResponse struct {
	SourceDomain      uint32 `json:"sourceDomain"`
	DestinationDomain uint32 `json:"destinationDomain"`
	FastTransferFee   struct {
		MinimumFee uint64 `json:"minimumFee"` // basis points
	} `json:"fastTransferFee"`
	StandardFee struct {
		MinimumFee uint64 `json:"minimumFee"`
	} `json:"standardFee"`
}

func NewCCTPProvider(baseURL string, client *http.Client) *CCTPProvider {
	if baseURL == "" {
		baseURL = defaultCCTPBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &CCTPProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

func (p *CCTPProvider) Name() string   { return "cctp" }
func (p *CCTPProvider) Family() Family { return FamilyNativeUSDC }

func (p *CCTPProvider) Supports(req *types.RouteRequest) bool {
	if !strings.EqualFold(req.FromToken, "USDC") || !strings.EqualFold(req.ToToken, "USDC") {
		return false
	}
	from := types.NormalizeChain(req.FromChain)
	to := types.NormalizeChain(req.ToChain)
	if from == to {
		// Cross-chain only; a same-chain USDC transfer needs no bridge.
		return false
	}
	return from.SupportsCCTP() && to.SupportsCCTP()
}

func (p *CCTPProvider) FindRoutes(ctx context.Context, req *types.RouteRequest) ([]types.RouteOption, error) {
	if !p.Supports(req) {
		return nil, nil
	}

	from := types.NormalizeChain(req.FromChain)
	to := types.NormalizeChain(req.ToChain)

	fees, err := p.fetchFees(ctx, types.CCTPDomains[from], types.CCTPDomains[to])
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		amount = decimal.Zero
	}

	path := fmt.Sprintf("%s USDC -> burn -> attest -> mint -> %s USDC", from, to)

	return []types.RouteOption{
		{
			ID:            fmt.Sprintf("cctp-fast-%s-%s", from, to),
			Path:          path,
			Fee:           bpsFee(amount, fees.FastTransferFee.MinimumFee),
			EstimatedTime: "~30 sec",
			Provider:      p.Name(),
			RouteType:     types.RouteTypeContract,
		},
		{
			ID:            fmt.Sprintf("cctp-std-%s-%s", from, to),
			Path:          path,
			Fee:           bpsFee(amount, fees.StandardFee.MinimumFee),
			EstimatedTime: "~15 min",
			Provider:      p.Name(),
			RouteType:     types.RouteTypeContract,
		},
	}, nil
}

func (p *CCTPProvider) fetchFees(ctx context.Context, srcDomain, dstDomain uint32) (*cctpFeesResponse, error) {
	url := fmt.Sprintf("%s/v2/burn/USDC/fees/%d/%d", p.baseURL, srcDomain, dstDomain)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("cctp fee request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cctp fee endpoint returned status %d", resp.StatusCode)
	}

	var fees cctpFeesResponse
	if err := json.NewDecoder(resp.Body).Decode(&fees); err != nil {
		return nil, fmt.Errorf("cctp fee decode failed: %w", err)
	}

	return &fees, nil
}

func bpsFee(amount decimal.Decimal, bps uint64) string {
	if amount.IsZero() {
		return fmt.Sprintf("%d bps", bps)
	}
	fee := amount.Mul(decimal.New(int64(bps), 0)).Div(decimal.New(10_000, 0))
	return fee.StringFixed(6) + " USDC"
}
