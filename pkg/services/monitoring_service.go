package services

import (
	"sort"
	"strings"
	"sync"
	"time"

	"product-insight-api/pkg/logger"
	"product-insight-api/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	maxRecentErrors = 10
	// 保持期間を過ぎた記録は追記時に先頭から捨てる
	monitoringRetention = 7 * 24 * time.Hour
)

// LogEntry は単一のリクエストログを表します。
type LogEntry struct {
	Timestamp    time.Time     `json:"timestamp"`
	Path         string        `json:"path"`
	Method       string        `json:"method"`
	StatusCode   int           `json:"statusCode"`
	ResponseTime time.Duration `json:"responseTime"`
}

// OutcomeEntry は分析リクエスト1件の終了結果です。
type OutcomeEntry struct {
	Timestamp time.Time
	Kind      models.RequestKind
	Outcome   string
	Elapsed   time.Duration
}

// MonitoringService はAPIリクエストと分析リクエストの記録を集計します。
type MonitoringService struct {
	mu       sync.RWMutex
	logs     []LogEntry
	outcomes []OutcomeEntry
	now      func() time.Time
}

// NewMonitoringService は新しいMonitoringServiceを生成します。
func NewMonitoringService() *MonitoringService {
	return &MonitoringService{
		logs:     make([]LogEntry, 0),
		outcomes: make([]OutcomeEntry, 0),
		now:      time.Now,
	}
}

// LogRequest はリクエストを記録します。
func (s *MonitoringService) LogRequest(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)

	cutoff := s.now().Add(-monitoringRetention)
	i := 0
	for i < len(s.logs) && s.logs[i].Timestamp.Before(cutoff) {
		i++
	}
	s.logs = s.logs[i:]
}

// RecordOutcome は分析リクエストの結果（success / superseded / NetworkError など）を記録します。
func (s *MonitoringService) RecordOutcome(kind models.RequestKind, outcome string, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, OutcomeEntry{
		Timestamp: s.now(),
		Kind:      kind,
		Outcome:   outcome,
		Elapsed:   elapsed,
	})

	cutoff := s.now().Add(-monitoringRetention)
	i := 0
	for i < len(s.outcomes) && s.outcomes[i].Timestamp.Before(cutoff) {
		i++
	}
	s.outcomes = s.outcomes[i:]
}

// LoggingMiddleware はリクエスト情報を記録するGinミドルウェアです。
func (s *MonitoringService) LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.Request.URL.Path
		entry := LogEntry{
			Timestamp:    start,
			Path:         path,
			Method:       c.Request.Method,
			StatusCode:   c.Writer.Status(),
			ResponseTime: time.Since(start),
		}

		logger.Log.WithFields(logrus.Fields{
			"method":  entry.Method,
			"path":    path,
			"status":  entry.StatusCode,
			"latency": entry.ResponseTime.String(),
		}).Info("request")

		// 管理系・モニタリング系のリクエストは集計しない
		if strings.HasPrefix(path, "/api/v1/admin") || strings.HasPrefix(path, "/api/v1/monitoring") {
			return
		}
		s.LogRequest(entry)
	}
}

// DashboardData はダッシュボードに表示するための集計済みデータです。
type DashboardData struct {
	RequestsOverTime []map[string]interface{}  `json:"requestsOverTime"`
	Endpoints        map[string]int            `json:"endpoints"`
	StatusCodes      []map[string]interface{}  `json:"statusCodes"`
	AvgResponseTimes []map[string]interface{}  `json:"avgResponseTimes"`
	RecentErrors     []LogEntry                `json:"recentErrors"`
	AnalysisOutcomes map[string]map[string]int `json:"analysisOutcomes"`
}

// GetDashboardData は指定された期間のログを集計してダッシュボード用データを返します。
func (s *MonitoringService) GetDashboardData(periodHours int) DashboardData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if periodHours <= 0 {
		periodHours = 24
	}
	now := s.now()
	since := now.Add(-time.Duration(periodHours) * time.Hour)

	filteredLogs := make([]LogEntry, 0)
	for _, entry := range s.logs {
		if entry.Timestamp.After(since) {
			filteredLogs = append(filteredLogs, entry)
		}
	}

	// 過去から現在へ向かう順序で時間ごとのバケットを作る
	requestsOverTime := make([]map[string]interface{}, periodHours)
	bucketIndex := make(map[int64]int, periodHours)
	for i := 0; i < periodHours; i++ {
		target := now.Add(-time.Duration(periodHours-1-i) * time.Hour).Truncate(time.Hour)
		bucketIndex[target.Unix()] = i
		requestsOverTime[i] = map[string]interface{}{"time": target.Format("15:00"), "requests": 0}
	}
	for _, entry := range filteredLogs {
		if i, ok := bucketIndex[entry.Timestamp.Truncate(time.Hour).Unix()]; ok {
			requestsOverTime[i]["requests"] = requestsOverTime[i]["requests"].(int) + 1
		}
	}

	endpoints := make(map[string]int)
	for _, entry := range filteredLogs {
		endpoints[entry.Path]++
	}

	statusNames := []string{"2xx Success", "4xx Client Error", "5xx Server Error"}
	statusCounts := make(map[string]int, len(statusNames))
	for _, entry := range filteredLogs {
		switch {
		case entry.StatusCode >= 200 && entry.StatusCode < 300:
			statusCounts[statusNames[0]]++
		case entry.StatusCode >= 400 && entry.StatusCode < 500:
			statusCounts[statusNames[1]]++
		case entry.StatusCode >= 500:
			statusCounts[statusNames[2]]++
		}
	}
	statusCodes := make([]map[string]interface{}, 0, len(statusNames))
	for _, name := range statusNames {
		statusCodes = append(statusCodes, map[string]interface{}{"name": name, "value": statusCounts[name]})
	}

	responseTimeSum := make(map[string]time.Duration)
	responseCount := make(map[string]int)
	for _, entry := range filteredLogs {
		responseTimeSum[entry.Path] += entry.ResponseTime
		responseCount[entry.Path]++
	}
	paths := make([]string, 0, len(responseTimeSum))
	for path := range responseTimeSum {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	avgResponseTimes := make([]map[string]interface{}, 0, len(paths))
	for _, path := range paths {
		avg := responseTimeSum[path].Milliseconds() / int64(responseCount[path])
		avgResponseTimes = append(avgResponseTimes, map[string]interface{}{"endpoint": path, "responseTime": avg})
	}

	recentErrors := make([]LogEntry, 0)
	for i := len(filteredLogs) - 1; i >= 0 && len(recentErrors) < maxRecentErrors; i-- {
		if filteredLogs[i].StatusCode >= 500 {
			recentErrors = append(recentErrors, filteredLogs[i])
		}
	}

	outcomes := map[string]map[string]int{
		string(models.KindCategory): {},
		string(models.KindProduct):  {},
	}
	for _, o := range s.outcomes {
		if counts, ok := outcomes[string(o.Kind)]; ok && o.Timestamp.After(since) {
			counts[o.Outcome]++
		}
	}

	return DashboardData{
		RequestsOverTime: requestsOverTime,
		Endpoints:        endpoints,
		StatusCodes:      statusCodes,
		AvgResponseTimes: avgResponseTimes,
		RecentErrors:     recentErrors,
		AnalysisOutcomes: outcomes,
	}
}
