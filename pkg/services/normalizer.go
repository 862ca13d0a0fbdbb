package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"product-insight-api/pkg/logger"
	"product-insight-api/pkg/models"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// rawEntries はキーの出現順を保持したままJSONオブジェクトを読み込みます。
type rawEntries = orderedmap.OrderedMap[string, json.RawMessage]

type rawCategoryPayload struct {
	Category      json.RawMessage `json:"category"`
	Metrics       *rawMetrics     `json:"metrics"`
	Insights      *rawEntries     `json:"insights"`
	Visualization json.RawMessage `json:"visualization"`
	Predictions   json.RawMessage `json:"predictions"`
	Distribution  json.RawMessage `json:"distribution"`
	HasDate       json.RawMessage `json:"has_date"`
	HasProduct    json.RawMessage `json:"has_product"`
	HasBrand      json.RawMessage `json:"has_brand"`
}

type rawMetrics struct {
	BestModel json.RawMessage `json:"best_model"`
	MAE       json.RawMessage `json:"MAE"`
	RMSE      json.RawMessage `json:"RMSE"`
	R2        json.RawMessage `json:"R2"`
}

type rawProductPayload struct {
	MarketShare          json.RawMessage `json:"marketShare"`
	GrowthPrediction     json.RawMessage `json:"growthPrediction"`
	CompetitorPercentage json.RawMessage `json:"competitorPercentage"`
	Trends               *rawEntries     `json:"trends"`
	Insights             *rawEntries     `json:"insights"`
	Visualization        json.RawMessage `json:"visualization"`
}

// NormalizeCategory はカテゴリ分析のペイロードを検証し表示用モデルに変換します。
// metrics の4項目は必須で、欠落や型違いは ErrDecode になります。
func NormalizeCategory(raw []byte) (*models.CategoryAnalysis, error) {
	const op = "normalize category"

	var payload rawCategoryPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, decodeFailure(op, "payload", err)
	}
	if payload.Metrics == nil {
		return nil, decodeFailure(op, "metrics", fmt.Errorf("missing required section"))
	}

	bestModel, err := requireString(payload.Metrics.BestModel)
	if err != nil {
		return nil, decodeFailure(op, "metrics.best_model", err)
	}
	mae, err := requireNumber(payload.Metrics.MAE)
	if err != nil {
		return nil, decodeFailure(op, "metrics.MAE", err)
	}
	rmse, err := requireNumber(payload.Metrics.RMSE)
	if err != nil {
		return nil, decodeFailure(op, "metrics.RMSE", err)
	}
	r2, err := requireNumber(payload.Metrics.R2)
	if err != nil {
		return nil, decodeFailure(op, "metrics.R2", err)
	}

	insights, err := projectEntries(payload.Insights)
	if err != nil {
		return nil, decodeFailure(op, "insights", err)
	}
	visualization, err := optionalImage(payload.Visualization)
	if err != nil {
		return nil, decodeFailure(op, "visualization", err)
	}

	category, _ := optionalString(payload.Category)

	return &models.CategoryAnalysis{
		Category: category,
		Metrics: models.CategoryMetrics{
			BestModel: bestModel,
			MAE:       mae,
			RMSE:      rmse,
			R2:        r2,
		},
		Insights:      insights,
		Visualization: visualization,
		Predictions:   passThrough(payload.Predictions),
		Distribution:  passThrough(payload.Distribution),
		HasDate:       optionalBool(payload.HasDate),
		HasProduct:    optionalBool(payload.HasProduct),
		HasBrand:      optionalBool(payload.HasBrand),
	}, nil
}

// NormalizeProduct は製品分析のペイロードを検証し表示用モデルに変換します。
func NormalizeProduct(raw []byte) (*models.ProductAnalysis, error) {
	const op = "normalize product"

	var payload rawProductPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, decodeFailure(op, "payload", err)
	}

	marketShare, err := requireNumber(payload.MarketShare)
	if err != nil {
		return nil, decodeFailure(op, "marketShare", err)
	}
	growth, err := requireNumber(payload.GrowthPrediction)
	if err != nil {
		return nil, decodeFailure(op, "growthPrediction", err)
	}
	competitors, err := requireNumber(payload.CompetitorPercentage)
	if err != nil {
		return nil, decodeFailure(op, "competitorPercentage", err)
	}

	trends, err := projectEntries(payload.Trends)
	if err != nil {
		return nil, decodeFailure(op, "trends", err)
	}
	insights, err := projectEntries(payload.Insights)
	if err != nil {
		return nil, decodeFailure(op, "insights", err)
	}
	visualization, err := optionalImage(payload.Visualization)
	if err != nil {
		return nil, decodeFailure(op, "visualization", err)
	}

	return &models.ProductAnalysis{
		MarketShare:          marketShare,
		GrowthPrediction:     growth,
		CompetitorPercentage: competitors,
		Trends:               trends,
		Insights:             insights,
		Visualization:        visualization,
	}, nil
}

func decodeFailure(op, field string, err error) error {
	logger.Log.WithField("field", field).Warnf("⚠️ [正規化] %s: %v", op, err)
	return newError(op, ErrDecode, fmt.Errorf("%s: %w", field, err))
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func requireString(raw json.RawMessage) (string, error) {
	if isAbsent(raw) {
		return "", fmt.Errorf("missing required field")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("expected string: %w", err)
	}
	return s, nil
}

func requireNumber(raw json.RawMessage) (float64, error) {
	if isAbsent(raw) {
		return 0, fmt.Errorf("missing required field")
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("expected number: %w", err)
	}
	return n, nil
}

func optionalString(raw json.RawMessage) (string, bool) {
	if isAbsent(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func optionalBool(raw json.RawMessage) bool {
	var b bool
	if isAbsent(raw) || json.Unmarshal(raw, &b) != nil {
		return false
	}
	return b
}

// optionalImage は base64 画像を復号せずにそのまま返します。空文字は未指定と同じ扱いです。
func optionalImage(raw json.RawMessage) (*string, error) {
	if isAbsent(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("expected base64 string: %w", err)
	}
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

func passThrough(raw json.RawMessage) json.RawMessage {
	if isAbsent(raw) {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

// projectEntries はキーを表示ラベルとしてそのまま扱い、出現順に並べます。
func projectEntries(m *rawEntries) ([]models.Entry, error) {
	entries := make([]models.Entry, 0)
	if m == nil {
		return entries, nil
	}
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		value, err := DisplayValue(pair.Value)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", pair.Key, err)
		}
		entries = append(entries, models.Entry{Label: pair.Key, Value: value})
	}
	return entries, nil
}

// DisplayValue は任意のJSON値を表示用の文字列に変換します。
// 文字列はそのまま、数値は最短の10進表記、それ以外はコンパクトなJSONになります。
func DisplayValue(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", nil
	}

	switch c := trimmed[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case c == '-' || (c >= '0' && c <= '9'):
		var n float64
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return "", err
		}
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
}
