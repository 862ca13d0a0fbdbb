package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"product-insight-api/pkg/logger"
	"product-insight-api/pkg/models"
	"product-insight-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// CategorySource はカテゴリ一覧の取得元です。
type CategorySource interface {
	GetCategories(ctx context.Context) (*services.CategoryList, error)
}

// DashboardHandler はダッシュボードのセッション操作を扱うハンドラーです。
type DashboardHandler struct {
	source   CategorySource
	resolver *services.CategoryResolver
	sessions *services.SessionStore
}

// NewDashboardHandler 新しいダッシュボードハンドラーを作成
func NewDashboardHandler(source CategorySource, resolver *services.CategoryResolver, sessions *services.SessionStore) *DashboardHandler {
	return &DashboardHandler{
		source:   source,
		resolver: resolver,
		sessions: sessions,
	}
}

// GetCategories はバックエンドからカテゴリ一覧を取得し、リゾルバーを更新します。
func (h *DashboardHandler) GetCategories(c *gin.Context) {
	list, err := h.refreshCategories(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"categories": h.resolver.Categories(),
		"datasets":   list.Datasets,
	})
}

// CreateSession 新しいダッシュボードセッションを作成
func (h *DashboardHandler) CreateSession(c *gin.Context) {
	session := h.sessions.Create()
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    session.View(),
	})
}

// GetSession セッションの表示状態を取得
func (h *DashboardHandler) GetSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    session.View(),
	})
}

// CloseSession セッションを破棄
func (h *DashboardHandler) CloseSession(c *gin.Context) {
	if err := h.sessions.Close(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SelectCategory はカテゴリを選択して分析を開始します。
// ?wait=true の場合は分析の完了まで待ち、それ以外は 202 を返してバックグラウンドで取得を続けます。
func (h *DashboardHandler) SelectCategory(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var request models.SelectCategoryRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, fmt.Errorf("%w: %v", services.ErrInvalidInput, err))
		return
	}

	if !h.resolver.Loaded() {
		if _, err := h.refreshCategories(c.Request.Context()); err != nil {
			respondError(c, err)
			return
		}
	}

	pending, err := session.SelectCategory(request.Category)
	if err != nil {
		respondError(c, err)
		return
	}

	if !waitRequested(c) {
		c.JSON(http.StatusAccepted, gin.H{
			"success": true,
			"seq":     pending.Seq,
			"data":    session.View(),
		})
		return
	}

	if _, err := pending.Wait(c.Request.Context()); err != nil {
		respondErrorWithView(c, err, session.View())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"seq":     pending.Seq,
		"data":    session.View(),
	})
}

// SearchProduct は選択中のカテゴリで製品分析を開始します。
func (h *DashboardHandler) SearchProduct(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var request models.ProductSearchRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, fmt.Errorf("%w: %v", services.ErrInvalidInput, err))
		return
	}

	pending, err := session.SearchProduct(request.ProductName)
	if err != nil {
		respondError(c, err)
		return
	}

	if !waitRequested(c) {
		c.JSON(http.StatusAccepted, gin.H{
			"success": true,
			"seq":     pending.Seq,
			"data":    session.View(),
		})
		return
	}

	if _, err := pending.Wait(c.Request.Context()); err != nil {
		respondErrorWithView(c, err, session.View())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"seq":     pending.Seq,
		"data":    session.View(),
	})
}

// UpdateProductQuery は製品検索欄の入力状態だけを更新します。
func (h *DashboardHandler) UpdateProductQuery(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var request models.ProductQueryRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, fmt.Errorf("%w: %v", services.ErrInvalidInput, err))
		return
	}

	session.SetProductQuery(request.Query)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    session.View(),
	})
}

// CancelRequests 指定種別の進行中リクエストを取り消す
func (h *DashboardHandler) CancelRequests(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	kind, valid := models.ParseRequestKind(c.Param("kind"))
	if !valid {
		respondError(c, fmt.Errorf("%w: unknown request kind %q", services.ErrInvalidInput, c.Param("kind")))
		return
	}

	session.Cancel(kind)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    session.View(),
	})
}

// ExportSession は表示中のセクションを Excel ファイルとして返します。
func (h *DashboardHandler) ExportSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	view := session.View()
	f, err := services.ExportView(view)
	if err != nil {
		logger.Log.Errorf("❌ [Excel出力] %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Excelファイルの作成に失敗しました。"})
		return
	}
	defer f.Close()

	filename := "analysis.xlsx"
	if view.Category != "" {
		filename = view.Category + "-analysis.xlsx"
	}
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		logger.Log.Errorf("❌ [Excel出力] failed to write response: %v", err)
	}
}

func (h *DashboardHandler) refreshCategories(ctx context.Context) (*services.CategoryList, error) {
	list, err := h.source.GetCategories(ctx)
	if err != nil {
		return nil, err
	}
	h.resolver.Refresh(list.Categories, list.Datasets)
	logger.Log.WithField("count", len(list.Categories)).Info("📂 [カテゴリ] refreshed")
	return list, nil
}

func (h *DashboardHandler) session(c *gin.Context) (*services.Session, bool) {
	session, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return session, true
}

func waitRequested(c *gin.Context) bool {
	wait, err := strconv.ParseBool(c.DefaultQuery("wait", "false"))
	return err == nil && wait
}

// statusFor はエラー種別をHTTPステータスに対応付けます。
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrUnknownCategory),
		errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrSessionClosed):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, services.ErrDecode), errors.Is(err, services.ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage はユーザーに見せるエラーメッセージです。デコード失敗の詳細はログにのみ残します。
func errorMessage(err error) string {
	if errors.Is(err, services.ErrDecode) {
		return "analysis unavailable"
	}
	return err.Error()
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"success": false,
		"kind":    services.ErrorKind(err),
		"error":   errorMessage(err),
	})
}

func respondErrorWithView(c *gin.Context, err error, view models.SessionView) {
	c.JSON(statusFor(err), gin.H{
		"success": false,
		"kind":    services.ErrorKind(err),
		"error":   errorMessage(err),
		"data":    view,
	})
}
