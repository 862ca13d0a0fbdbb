package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"product-insight-api/pkg/logger"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// AnalysisFetcher は分析バックエンドから生のペイロードを取得します。
type AnalysisFetcher interface {
	FetchCategoryAnalysis(ctx context.Context, ref ResourceRef) ([]byte, error)
	FetchProductAnalysis(ctx context.Context, ref ResourceRef, productName string) ([]byte, error)
}

// CategoryList は GET /categories のレスポンスです。
type CategoryList struct {
	Categories []string          `json:"categories"`
	Datasets   map[string]string `json:"datasets,omitempty"`
}

// AnalysisClient 分析バックエンド(ML サービス)の HTTP クライアント
type AnalysisClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewAnalysisClient は新しいクライアントを作成します。
// rps が 0 以下の場合はレート制限を行いません。
func NewAnalysisClient(baseURL string, timeout time.Duration, rps float64, burst int) *AnalysisClient {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &AnalysisClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// BaseURL 接続先のベースURLを返す
func (ac *AnalysisClient) BaseURL() string {
	return ac.baseURL
}

// GetCategories 利用可能なカテゴリ一覧を取得
func (ac *AnalysisClient) GetCategories(ctx context.Context) (*CategoryList, error) {
	body, err := ac.do(ctx, "get categories", http.MethodGet, "/categories", nil)
	if err != nil {
		return nil, err
	}

	var list CategoryList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, newError("get categories", ErrDecode, err)
	}
	if list.Categories == nil {
		return nil, newError("get categories", ErrDecode, fmt.Errorf("missing categories field"))
	}
	return &list, nil
}

// FetchCategoryAnalysis カテゴリ分析の生ペイロードを取得
func (ac *AnalysisClient) FetchCategoryAnalysis(ctx context.Context, ref ResourceRef) ([]byte, error) {
	return ac.do(ctx, "analyze category", http.MethodGet, ref.AnalysisPath, nil)
}

// FetchProductAnalysis 製品分析の生ペイロードを取得
func (ac *AnalysisClient) FetchProductAnalysis(ctx context.Context, ref ResourceRef, productName string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"productName": productName})
	if err != nil {
		return nil, newError("analyze product", ErrInvalidInput, err)
	}
	return ac.do(ctx, "analyze product", http.MethodPost, ref.ProductPath, payload)
}

func (ac *AnalysisClient) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	if err := ac.limiter.Wait(ctx); err != nil {
		return nil, newError(op, ErrNetwork, err)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, ac.baseURL+path, reader)
	if err != nil {
		return nil, newError(op, ErrNetwork, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := ac.client.Do(req)
	if err != nil {
		return nil, newError(op, ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(op, ErrNetwork, fmt.Errorf("failed to read response body: %w", err))
	}

	logger.Log.WithFields(logrus.Fields{
		"method":  method,
		"path":    path,
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).String(),
	}).Debug("🌐 [分析API] response received")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newError(op, ErrNetwork, fmt.Errorf("unexpected status code: %d%s", resp.StatusCode, backendMessage(body)))
	}

	return body, nil
}

// backendMessage はバックエンドの {"error": "..."} を取り出します。
func backendMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		return ""
	}
	return " (" + e.Error + ")"
}
