package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"product-insight-api/pkg/logger"
	"product-insight-api/pkg/models"

	"github.com/sirupsen/logrus"
)

// OutcomeRecorder はリクエストの終了結果を記録します（モニタリング用）。
type OutcomeRecorder interface {
	RecordOutcome(kind models.RequestKind, outcome string, elapsed time.Duration)
}

// KindState はリクエスト種別ごとの最新状態です。結果は不変の値として共有されます。
type KindState struct {
	Kind           models.RequestKind
	Phase          models.Phase
	Seq            uint64
	Category       string
	Product        string
	CategoryResult *models.CategoryAnalysis
	ProductResult  *models.ProductAnalysis
	Err            error
}

// Snapshot はプレゼンターに渡す読み取り専用の状態です。
type Snapshot struct {
	Category KindState
	Product  KindState
}

// Pending は発行済みリクエストの終了を待つためのハンドルです。
// Wait は何度呼んでも同じ結果を返します。
type Pending[T any] struct {
	Kind  models.RequestKind
	Seq   uint64
	done  chan struct{}
	value T
	err   error
}

func newPending[T any](kind models.RequestKind, seq uint64) *Pending[T] {
	return &Pending[T]{Kind: kind, Seq: seq, done: make(chan struct{})}
}

func (p *Pending[T]) finish(value T, err error) {
	p.value = value
	p.err = err
	close(p.done)
}

// Wait はリクエストの終了を待ちます。後続リクエストに置き換えられた場合は ErrSuperseded を返します。
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done はリクエスト終了時に閉じられるチャネルを返します。
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

type analysisRequest struct {
	kind     models.RequestKind
	seq      uint64
	category string
	product  string
	issuedAt time.Time
}

// RequestController はカテゴリ分析・製品分析の取得ライフサイクルを管理します。
// 種別ごとに単調増加のシーケンス番号を発行し、最後に発行されたリクエストだけが
// 状態に結果を書き込めます（レスポンスの到着順ではなく発行順で決まります）。
type RequestController struct {
	fetcher  AnalysisFetcher
	resolver *CategoryResolver
	recorder OutcomeRecorder

	lifetime context.Context
	dispose  context.CancelFunc

	mu     sync.Mutex
	issued map[models.RequestKind]uint64
	states map[models.RequestKind]KindState
	closed bool
}

// NewRequestController は新しいコントローラーを作成します。recorder は nil でも構いません。
func NewRequestController(fetcher AnalysisFetcher, resolver *CategoryResolver, recorder OutcomeRecorder) *RequestController {
	lifetime, dispose := context.WithCancel(context.Background())
	return &RequestController{
		fetcher:  fetcher,
		resolver: resolver,
		recorder: recorder,
		lifetime: lifetime,
		dispose:  dispose,
		issued:   make(map[models.RequestKind]uint64),
		states: map[models.RequestKind]KindState{
			models.KindCategory: {Kind: models.KindCategory, Phase: models.PhaseIdle},
			models.KindProduct:  {Kind: models.KindProduct, Phase: models.PhaseIdle},
		},
	}
}

// LoadCategoryAnalysis はカテゴリ分析を取得し、正規化済みの結果を返します。
func (c *RequestController) LoadCategoryAnalysis(ctx context.Context, category string) (*models.CategoryAnalysis, error) {
	pending, err := c.StartCategoryAnalysis(category)
	if err != nil {
		return nil, err
	}
	return pending.Wait(ctx)
}

// LoadProductAnalysis は製品分析を取得し、正規化済みの結果を返します。
func (c *RequestController) LoadProductAnalysis(ctx context.Context, category, productName string) (*models.ProductAnalysis, error) {
	pending, err := c.StartProductAnalysis(category, productName)
	if err != nil {
		return nil, err
	}
	return pending.Wait(ctx)
}

// StartCategoryAnalysis は前提条件を同期的に検証してリクエストを発行し、取得をバックグラウンドで開始します。
// 前提条件の違反はネットワークに到達する前にエラーとして返ります。
func (c *RequestController) StartCategoryAnalysis(category string) (*Pending[*models.CategoryAnalysis], error) {
	ref, err := c.resolver.Resolve(category)
	if err != nil {
		return nil, err
	}

	req, err := c.begin(models.KindCategory, category, "")
	if err != nil {
		return nil, err
	}

	pending := newPending[*models.CategoryAnalysis](req.kind, req.seq)
	go func() {
		ctx, cancel := context.WithCancel(c.lifetime)
		defer cancel()

		raw, err := c.fetcher.FetchCategoryAnalysis(ctx, ref)
		var analysis *models.CategoryAnalysis
		if err == nil {
			analysis, err = NormalizeCategory(raw)
		}
		if analysis != nil && analysis.Category == "" {
			analysis.Category = category
		}

		published, settleErr := c.settle(req, func(st *KindState) {
			if err != nil {
				st.Phase = models.PhaseFailure
				st.CategoryResult = nil
				st.Err = err
				return
			}
			st.Phase = models.PhaseSuccess
			st.CategoryResult = analysis
			st.Err = nil
		})
		if !published {
			pending.finish(nil, settleErr)
			return
		}
		pending.finish(analysis, err)
	}()

	return pending, nil
}

// StartProductAnalysis は製品分析リクエストを発行します。カテゴリ分析とは独立したシーケンスを使います。
func (c *RequestController) StartProductAnalysis(category, productName string) (*Pending[*models.ProductAnalysis], error) {
	name := strings.TrimSpace(productName)
	if name == "" {
		return nil, newError("analyze product", ErrInvalidInput, fmt.Errorf("product name is required"))
	}

	ref, err := c.resolver.Resolve(category)
	if err != nil {
		return nil, err
	}

	req, err := c.begin(models.KindProduct, category, name)
	if err != nil {
		return nil, err
	}

	pending := newPending[*models.ProductAnalysis](req.kind, req.seq)
	go func() {
		ctx, cancel := context.WithCancel(c.lifetime)
		defer cancel()

		raw, err := c.fetcher.FetchProductAnalysis(ctx, ref, name)
		var analysis *models.ProductAnalysis
		if err == nil {
			analysis, err = NormalizeProduct(raw)
		}
		if analysis != nil {
			analysis.Category = category
			analysis.ProductName = name
		}

		published, settleErr := c.settle(req, func(st *KindState) {
			if err != nil {
				st.Phase = models.PhaseFailure
				st.ProductResult = nil
				st.Err = err
				return
			}
			st.Phase = models.PhaseSuccess
			st.ProductResult = analysis
			st.Err = nil
		})
		if !published {
			pending.finish(nil, settleErr)
			return
		}
		pending.finish(analysis, err)
	}()

	return pending, nil
}

// Cancel は指定種別の追跡中リクエストをすべて無効化します。
// 読み込み中の状態は Idle に戻り、遅れて届いた結果で上書きされることはありません。
func (c *RequestController) Cancel(kind models.RequestKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supersedeLocked(kind)
}

// Close はすべてのリクエストを無効化し、コントローラーを破棄します。
func (c *RequestController) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.supersedeLocked(models.KindCategory)
	c.supersedeLocked(models.KindProduct)
	c.closed = true
	c.mu.Unlock()

	c.dispose()
}

// Snapshot は現在の状態のコピーを返します。
func (c *RequestController) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Category: c.states[models.KindCategory],
		Product:  c.states[models.KindProduct],
	}
}

// SelectedCategory は現在選択中のカテゴリを返します。
func (c *RequestController) SelectedCategory() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[models.KindCategory].Category
}

func (c *RequestController) begin(kind models.RequestKind, category, product string) (analysisRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return analysisRequest{}, newError("begin "+string(kind), ErrSessionClosed, nil)
	}
	// 製品分析は選択中のカテゴリに対してのみ発行できる
	if selected := c.states[models.KindCategory].Category; kind == models.KindProduct && selected != category {
		return analysisRequest{}, newError("begin "+string(kind), ErrInvalidInput,
			fmt.Errorf("category %q is not the selected category %q", category, selected))
	}

	c.issued[kind]++
	req := analysisRequest{
		kind:     kind,
		seq:      c.issued[kind],
		category: category,
		product:  product,
		issuedAt: time.Now(),
	}

	prev := c.states[kind]
	next := KindState{
		Kind:     kind,
		Phase:    models.PhaseLoading,
		Seq:      req.seq,
		Category: category,
		Product:  product,
	}

	if kind == models.KindCategory {
		if prev.Category == category {
			// 同じカテゴリの再読み込み中は直前の結果を表示し続ける
			next.CategoryResult = prev.CategoryResult
		} else {
			// カテゴリが変わったら製品分析もセッションごと作り直す
			c.supersedeLocked(models.KindProduct)
			c.states[models.KindProduct] = KindState{
				Kind:  models.KindProduct,
				Phase: models.PhaseIdle,
				Seq:   c.issued[models.KindProduct],
			}
		}
	}
	c.states[kind] = next

	logger.Log.WithFields(logrus.Fields{
		"kind":     kind,
		"seq":      req.seq,
		"category": category,
		"product":  product,
	}).Info("📊 [分析リクエスト] issued")

	return req, nil
}

// settle は最新のリクエストであれば状態に結果を反映します。
func (c *RequestController) settle(req analysisRequest, apply func(*KindState)) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(req.issuedAt)
	fields := logrus.Fields{"kind": req.kind, "seq": req.seq, "elapsed": elapsed.String()}

	if c.closed {
		logger.Log.WithFields(fields).Debug("🗑️ [分析リクエスト] dropped after close")
		c.record(req.kind, "disposed", elapsed)
		return false, newError("settle "+string(req.kind), ErrSessionClosed, nil)
	}
	if c.issued[req.kind] != req.seq {
		logger.Log.WithFields(fields).WithField("latest", c.issued[req.kind]).Debug("⏭️ [分析リクエスト] superseded")
		c.record(req.kind, "superseded", elapsed)
		return false, newError("settle "+string(req.kind), ErrSuperseded, nil)
	}
	if req.kind == models.KindProduct && c.states[models.KindCategory].Category != req.category {
		logger.Log.WithFields(fields).Debug("⏭️ [分析リクエスト] category changed")
		c.record(req.kind, "superseded", elapsed)
		return false, newError("settle "+string(req.kind), ErrSuperseded, nil)
	}

	st := c.states[req.kind]
	apply(&st)
	c.states[req.kind] = st

	if st.Err != nil {
		entry := logger.Log.WithFields(fields).WithField("error", st.Err)
		if errors.Is(st.Err, ErrDecode) {
			entry.Warn("⚠️ [分析リクエスト] analysis unavailable")
		} else {
			entry.Error("❌ [分析リクエスト] failed")
		}
		c.record(req.kind, ErrorKind(st.Err), elapsed)
	} else {
		logger.Log.WithFields(fields).Info("✅ [分析リクエスト] published")
		c.record(req.kind, "success", elapsed)
	}
	return true, nil
}

// supersedeLocked はシーケンスを進めて進行中のリクエストを無効化します。呼び出し側でロックを保持すること。
func (c *RequestController) supersedeLocked(kind models.RequestKind) {
	c.issued[kind]++
	st := c.states[kind]
	st.Seq = c.issued[kind]
	if st.Phase == models.PhaseLoading {
		st.Phase = models.PhaseIdle
	}
	c.states[kind] = st
}

func (c *RequestController) record(kind models.RequestKind, outcome string, elapsed time.Duration) {
	if c.recorder != nil {
		c.recorder.RecordOutcome(kind, outcome, elapsed)
	}
}
