package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"product-insight-api/pkg/logger"
	"product-insight-api/pkg/models"

	"github.com/google/uuid"
)

// Session はダッシュボード1画面分の状態です。
// 選択中のカテゴリと分析結果はコントローラーが所有し、製品検索欄の入力だけをここで持ちます。
type Session struct {
	ID        string
	CreatedAt time.Time

	controller *RequestController

	mu           sync.RWMutex
	productQuery string
	lastAccess   time.Time
}

// Controller セッションのリクエストコントローラーを返す
func (s *Session) Controller() *RequestController {
	return s.controller
}

// SelectCategory はカテゴリを選択し、分析の取得を開始します。
// 以前のカテゴリに対する進行中のリクエストはすべて無効になります。
func (s *Session) SelectCategory(category string) (*Pending[*models.CategoryAnalysis], error) {
	s.touch()
	return s.controller.StartCategoryAnalysis(category)
}

// SearchProduct は選択中のカテゴリで製品分析を開始します。
// 直後にカテゴリが切り替わった場合はコントローラー側で InvalidInput になります。
func (s *Session) SearchProduct(productName string) (*Pending[*models.ProductAnalysis], error) {
	s.touch()
	category := s.controller.SelectedCategory()
	if category == "" {
		return nil, newError("analyze product", ErrInvalidInput, fmt.Errorf("no category selected"))
	}
	return s.controller.StartProductAnalysis(category, productName)
}

// SetProductQuery は製品検索欄の入力を更新します。分析データには影響しません。
func (s *Session) SetProductQuery(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.productQuery = query
	s.lastAccess = time.Now()
}

// ProductQuery 製品検索欄の入力を返す
func (s *Session) ProductQuery() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.productQuery
}

// View は現在の表示状態を返します。
func (s *Session) View() models.SessionView {
	s.touch()
	return BuildView(s.ID, s.controller.Snapshot(), s.ProductQuery())
}

// Cancel 指定種別のリクエストを取り消す
func (s *Session) Cancel(kind models.RequestKind) {
	s.touch()
	s.controller.Cancel(kind)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAccess
}

// SessionStore はセッションをIDで管理します。
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	fetcher  AnalysisFetcher
	resolver *CategoryResolver
	recorder OutcomeRecorder
	ttl      time.Duration
}

// NewSessionStore は新しいセッションストアを作成します。ttl が 0 以下の場合は期限切れ削除を行いません。
func NewSessionStore(fetcher AnalysisFetcher, resolver *CategoryResolver, recorder OutcomeRecorder, ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		fetcher:  fetcher,
		resolver: resolver,
		recorder: recorder,
		ttl:      ttl,
	}
}

// Create 新しいセッションを作成
func (st *SessionStore) Create() *Session {
	now := time.Now()
	s := &Session{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		controller: NewRequestController(st.fetcher, st.resolver, st.recorder),
		lastAccess: now,
	}

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()

	logger.Log.WithField("session", s.ID).Info("🆕 [セッション] created")
	return s
}

// Get IDからセッションを取得
func (st *SessionStore) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, newError("get session", ErrSessionNotFound, fmt.Errorf("%q", id))
	}
	return s, nil
}

// Close はセッションを破棄し、進行中のリクエストの結果がどこにも反映されないようにします。
func (st *SessionStore) Close(id string) error {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()

	if !ok {
		return newError("close session", ErrSessionNotFound, fmt.Errorf("%q", id))
	}
	s.controller.Close()
	logger.Log.WithField("session", id).Info("👋 [セッション] closed")
	return nil
}

// Len 管理中のセッション数を返す
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep は最終アクセスから ttl を超えたセッションを破棄し、その件数を返します。
func (st *SessionStore) Sweep(now time.Time) int {
	if st.ttl <= 0 {
		return 0
	}

	st.mu.Lock()
	var expired []*Session
	for id, s := range st.sessions {
		if now.Sub(s.idleSince()) > st.ttl {
			expired = append(expired, s)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	for _, s := range expired {
		s.controller.Close()
	}
	if len(expired) > 0 {
		logger.Log.WithField("count", len(expired)).Info("🧹 [セッション] expired sessions removed")
	}
	return len(expired)
}

// RunSweeper は interval ごとに Sweep を実行します。ctx が終了すると戻ります。
func (st *SessionStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			st.Sweep(now)
		}
	}
}
