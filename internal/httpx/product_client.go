package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
)

const lookupClientTimeout = 3 * time.Second

// ProductLookupClient — HTTP-клиент внутреннего lookup каталога.
// Отсутствующий товар (404) не ошибка, а Exists=false: авторитетная проверка
// все равно выполняется в транзакции резервирования.
type ProductLookupClient struct {
	baseURL string
	client  *http.Client
}

// NewProductLookupClient создает клиент lookup по базовому URL каталога.
func NewProductLookupClient(baseURL string) *ProductLookupClient {
	return &ProductLookupClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: lookupClientTimeout},
	}
}

func (c *ProductLookupClient) Lookup(ctx context.Context, productID string) (domain.ProductInfo, error) {
	endpoint := fmt.Sprintf("%s/internal/products/%s", c.baseURL, url.PathEscape(productID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.ProductInfo{}, fmt.Errorf("build lookup request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.ProductInfo{}, fmt.Errorf("product lookup: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body ProductResp
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return domain.ProductInfo{}, fmt.Errorf("decode lookup response: %w", err)
		}
		return domain.ProductInfo{
			ProductID:  body.ProductID,
			Exists:     true,
			Name:       body.Name,
			PriceMinor: body.PriceMinor,
			ImageURL:   body.ImageURL,
			Available:  body.Available,
		}, nil
	case http.StatusNotFound:
		return domain.ProductInfo{ProductID: productID, Exists: false}, nil
	default:
		return domain.ProductInfo{}, fmt.Errorf("product lookup: unexpected status %d", resp.StatusCode)
	}
}

var _ domain.ProductLookup = (*ProductLookupClient)(nil)
