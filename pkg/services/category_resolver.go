package services

import (
	"fmt"
	"net/url"
	"sync"
	"time"
)

// ResourceRef はカテゴリに対応するバックエンドの分析リソースです。
type ResourceRef struct {
	Category     string
	Dataset      string
	AnalysisPath string
	ProductPath  string
}

// CategoryResolver はカテゴリ名を分析リソースに解決します。
// 解決対象は直近に /categories から取得した集合のみで、ネットワークには触れません。
type CategoryResolver struct {
	mu          sync.RWMutex
	categories  []string
	index       map[string]struct{}
	datasets    map[string]string
	refreshedAt time.Time
}

// NewCategoryResolver 空のリゾルバーを作成
func NewCategoryResolver() *CategoryResolver {
	return &CategoryResolver{
		index:    make(map[string]struct{}),
		datasets: make(map[string]string),
	}
}

// Refresh はカテゴリ集合を置き換えます。順序はバックエンドの返却順を保持します。
func (r *CategoryResolver) Refresh(categories []string, datasets map[string]string) {
	list := make([]string, 0, len(categories))
	index := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		if c == "" {
			continue
		}
		if _, dup := index[c]; dup {
			continue
		}
		index[c] = struct{}{}
		list = append(list, c)
	}

	ds := make(map[string]string, len(datasets))
	for k, v := range datasets {
		ds[k] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories = list
	r.index = index
	r.datasets = ds
	r.refreshedAt = time.Now()
}

// Categories 現在のカテゴリ一覧のコピーを返す
func (r *CategoryResolver) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.categories))
	copy(out, r.categories)
	return out
}

// Loaded はカテゴリ一覧を一度でも取得済みかを返します。
func (r *CategoryResolver) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.refreshedAt.IsZero()
}

// Resolve はカテゴリ名を検証し、分析リソースへの参照を返します。
func (r *CategoryResolver) Resolve(category string) (ResourceRef, error) {
	if category == "" {
		return ResourceRef{}, newError("resolve", ErrUnknownCategory, fmt.Errorf("category is empty"))
	}

	r.mu.RLock()
	_, ok := r.index[category]
	dataset := r.datasets[category]
	r.mu.RUnlock()

	if !ok {
		return ResourceRef{}, newError("resolve", ErrUnknownCategory, fmt.Errorf("%q", category))
	}

	escaped := url.PathEscape(category)
	return ResourceRef{
		Category:     category,
		Dataset:      dataset,
		AnalysisPath: "/analyze/" + escaped,
		ProductPath:  "/analyze/" + escaped + "/product",
	}, nil
}
