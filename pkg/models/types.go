package models

import "encoding/json"

// RequestKind は分析リクエストの種別です。種別ごとに独立したシーケンス番号を持ちます。
type RequestKind string

const (
	KindCategory RequestKind = "category"
	KindProduct  RequestKind = "product"
)

// ParseRequestKind はパスパラメータなどの文字列から種別を取得します。
func ParseRequestKind(s string) (RequestKind, bool) {
	switch RequestKind(s) {
	case KindCategory:
		return KindCategory, true
	case KindProduct:
		return KindProduct, true
	default:
		return "", false
	}
}

// Phase はリクエスト種別ごとの状態です。
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseSuccess Phase = "success"
	PhaseFailure Phase = "failure"
)

// Entry は表示用のラベルと値のペア（インサイト・トレンド）
type Entry struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// CategoryMetrics は最良モデルの評価指標です。
type CategoryMetrics struct {
	BestModel string  `json:"best_model"`
	MAE       float64 `json:"MAE"`
	RMSE      float64 `json:"RMSE"`
	R2        float64 `json:"R2"`
}

// CategoryAnalysis はカテゴリ分析の正規化済みモデルです。
// Predictions と Distribution は描画に使わないため生のJSONのまま保持します。
type CategoryAnalysis struct {
	Category      string          `json:"category"`
	Metrics       CategoryMetrics `json:"metrics"`
	Insights      []Entry         `json:"insights"`
	Visualization *string         `json:"visualization,omitempty"`
	Predictions   json.RawMessage `json:"predictions,omitempty"`
	Distribution  json.RawMessage `json:"distribution,omitempty"`
	HasDate       bool            `json:"has_date"`
	HasProduct    bool            `json:"has_product"`
	HasBrand      bool            `json:"has_brand"`
}

// ProductAnalysis は製品分析の正規化済みモデルです。数値はパーセント表記のスケールです。
type ProductAnalysis struct {
	Category             string  `json:"category"`
	ProductName          string  `json:"productName"`
	MarketShare          float64 `json:"marketShare"`
	GrowthPrediction     float64 `json:"growthPrediction"`
	CompetitorPercentage float64 `json:"competitorPercentage"`
	Trends               []Entry `json:"trends"`
	Insights             []Entry `json:"insights"`
	Visualization        *string `json:"visualization,omitempty"`
}

// SectionKind は描画セクションの種類です。
type SectionKind string

const (
	SectionCategoryStatus  SectionKind = "category_status"
	SectionProductSearch   SectionKind = "product_search"
	SectionProductMetrics  SectionKind = "product_metrics"
	SectionTrends          SectionKind = "trends"
	SectionProductInsights SectionKind = "product_insights"
	SectionCategoryMetrics SectionKind = "category_metrics"
	SectionVisualization   SectionKind = "visualization"
	SectionInsights        SectionKind = "insights"
)

// Section はプレゼンターが出力する描画単位です。
type Section struct {
	Kind    SectionKind `json:"kind"`
	Title   string      `json:"title"`
	Entries []Entry     `json:"entries,omitempty"`
	Image   string      `json:"image,omitempty"`
	Query   string      `json:"query,omitempty"`
	Loading bool        `json:"loading,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// SessionView はセッションの現在の表示状態です。
type SessionView struct {
	SessionID     string    `json:"session_id"`
	Category      string    `json:"category,omitempty"`
	CategoryPhase Phase     `json:"category_phase"`
	ProductPhase  Phase     `json:"product_phase"`
	ProductQuery  string    `json:"product_query,omitempty"`
	Sections      []Section `json:"sections"`
}

// SelectCategoryRequest はカテゴリ選択のリクエストボディです。
// 空のカテゴリは UnknownCategory として扱うため binding は付けません。
type SelectCategoryRequest struct {
	Category string `json:"category"`
}

// ProductSearchRequest は製品分析のリクエストボディです。
// 空白のみの製品名はコントローラー側で InvalidInput として扱うため binding は付けません。
type ProductSearchRequest struct {
	ProductName string `json:"productName"`
}

// ProductQueryRequest は製品検索欄の入力状態を更新するリクエストボディです。
type ProductQueryRequest struct {
	Query string `json:"query"`
}
