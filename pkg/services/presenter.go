package services

import (
	"errors"
	"fmt"
	"strconv"

	"product-insight-api/pkg/models"
)

// ImageDataPrefix は可視化画像をインライン表示するためのデータURIの接頭辞です。
const ImageDataPrefix = "data:image/png;base64,"

// Present はスナップショットを描画セクションの列に変換します。
// 副作用を持たず、同じ入力からは常に同じ出力を返します。
func Present(snapshot Snapshot, productQuery string) []models.Section {
	sections := make([]models.Section, 0, 8)

	cat := snapshot.Category
	switch cat.Phase {
	case models.PhaseLoading:
		sections = append(sections, models.Section{
			Kind:    models.SectionCategoryStatus,
			Title:   analysisTitle(cat.Category),
			Loading: true,
			Message: fmt.Sprintf("Loading analysis for %s", cat.Category),
		})
	case models.PhaseFailure:
		sections = append(sections, models.Section{
			Kind:  models.SectionCategoryStatus,
			Title: analysisTitle(cat.Category),
			Error: failureMessage(models.KindCategory, cat.Category, cat.Err),
		})
	}

	analysis := cat.CategoryResult
	if analysis == nil {
		return sections
	}

	prod := snapshot.Product
	search := models.Section{
		Kind:    models.SectionProductSearch,
		Title:   "Product Analysis",
		Query:   productQuery,
		Loading: prod.Phase == models.PhaseLoading,
	}
	if prod.Phase == models.PhaseFailure {
		search.Error = failureMessage(models.KindProduct, prod.Product, prod.Err)
	}
	sections = append(sections, search)

	if product := prod.ProductResult; product != nil {
		sections = append(sections,
			models.Section{
				Kind:  models.SectionProductMetrics,
				Title: "Product Analysis Results",
				Entries: []models.Entry{
					{Label: "Market Share", Value: percent(product.MarketShare)},
					{Label: "Growth Prediction", Value: percent(product.GrowthPrediction)},
					{Label: "Competitor Analysis", Value: percent(product.CompetitorPercentage)},
				},
			},
			models.Section{
				Kind:    models.SectionTrends,
				Title:   "Trend Analysis",
				Entries: cloneEntries(product.Trends),
			},
		)
		if len(product.Insights) > 0 {
			sections = append(sections, models.Section{
				Kind:    models.SectionProductInsights,
				Title:   "Product Insights",
				Entries: cloneEntries(product.Insights),
			})
		}
	}

	sections = append(sections, models.Section{
		Kind:  models.SectionCategoryMetrics,
		Title: "Category Overview",
		Entries: []models.Entry{
			{Label: "Best Model", Value: analysis.Metrics.BestModel},
			{Label: "MAE", Value: fixed2(analysis.Metrics.MAE)},
			{Label: "RMSE", Value: fixed2(analysis.Metrics.RMSE)},
			{Label: "R²", Value: fixed2(analysis.Metrics.R2)},
		},
	})

	if analysis.Visualization != nil {
		sections = append(sections, models.Section{
			Kind:  models.SectionVisualization,
			Title: "Market Trends",
			Image: ImageDataPrefix + *analysis.Visualization,
		})
	}

	if len(analysis.Insights) > 0 {
		sections = append(sections, models.Section{
			Kind:    models.SectionInsights,
			Title:   "Market Insights",
			Entries: cloneEntries(analysis.Insights),
		})
	}

	return sections
}

// BuildView はセッションの表示状態を組み立てます。
func BuildView(sessionID string, snapshot Snapshot, productQuery string) models.SessionView {
	return models.SessionView{
		SessionID:     sessionID,
		Category:      snapshot.Category.Category,
		CategoryPhase: snapshot.Category.Phase,
		ProductPhase:  snapshot.Product.Phase,
		ProductQuery:  productQuery,
		Sections:      Present(snapshot, productQuery),
	}
}

func analysisTitle(category string) string {
	return category + " Analysis"
}

// failureMessage は種別ごとにスコープされたエラーメッセージを返します。
func failureMessage(kind models.RequestKind, target string, err error) string {
	if errors.Is(err, ErrDecode) {
		return "Analysis unavailable"
	}
	if kind == models.KindProduct {
		return fmt.Sprintf("Failed to analyze product %s", target)
	}
	return fmt.Sprintf("Failed to load analysis for %s", target)
}

func fixed2(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}

func cloneEntries(entries []models.Entry) []models.Entry {
	out := make([]models.Entry, len(entries))
	copy(out, entries)
	return out
}
