package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"text/template"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"

	"acme-manager/internal/config"
)

// EventType 事件类型
type EventType string

const (
	EventCertRenewed   EventType = "cert_renewed"   // 证书签发/续期成功
	EventCertFailed    EventType = "cert_failed"    // 证书签发失败
	EventDNSTimeout    EventType = "dns_timeout"    // 验证记录未生效
	EventCleanupFailed EventType = "cleanup_failed" // 验证记录清理失败
)

// EventData 事件数据
type EventData struct {
	Event     string         `json:"event"`          // 事件类型
	Domain    string         `json:"domain"`         // 域名
	Timestamp string         `json:"timestamp"`      // 时间戳
	Message   string         `json:"message"`        // 消息
	Data      map[string]any `json:"data,omitempty"` // 额外数据
}

// WebhookNotifier Webhook 通知器
type WebhookNotifier struct {
	config        *config.WebhookConfig
	client        *http.Client
	retryInterval time.Duration
}

// NewWebhookNotifier 创建 Webhook 通知器，未启用时返回 nil
func NewWebhookNotifier(cfg *config.WebhookConfig) *WebhookNotifier {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &WebhookNotifier{
		config:        cfg,
		client:        &http.Client{Timeout: timeout},
		retryInterval: time.Second,
	}
}

// ShouldNotify 检查是否应该发送该事件的通知
func (w *WebhookNotifier) ShouldNotify(eventType EventType) bool {
	if !w.IsEnabled() {
		return false
	}

	// 未配置事件列表时发送全部事件
	return len(w.config.Events) == 0 || slices.Contains(w.config.Events, string(eventType))
}

// Notify 发送通知，失败时按指数退避重试
func (w *WebhookNotifier) Notify(ctx context.Context, eventType EventType, domain, message string, data map[string]any) error {
	if !w.ShouldNotify(eventType) {
		return nil
	}

	body, err := w.buildBody(EventData{
		Event:     string(eventType),
		Domain:    domain,
		Timestamp: time.Now().Format(time.RFC3339),
		Message:   message,
		Data:      data,
	})
	if err != nil {
		return err
	}

	retries := w.config.Retries
	if retries <= 0 {
		retries = 3
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.retryInterval
	b.RandomizationFactor = 0

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			log.Warnf("[Webhook] 通知失败，第 %d/%d 次重试...", attempt, retries)
		}
		return struct{}{}, w.send(ctx, body)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(retries)), backoff.WithMaxElapsedTime(0))
	if err != nil {
		log.Errorf("[Webhook] 通知发送失败 (已尝试 %d 次): %v", attempt, err)
		return err
	}

	log.Infof("[Webhook] 通知发送成功: %s (事件: %s, 域名: %s)", w.config.URL, eventType, domain)
	return nil
}

// buildBody 配置了模板时按模板渲染，渲染失败回退到默认JSON
func (w *WebhookNotifier) buildBody(event EventData) ([]byte, error) {
	if w.config.BodyTemplate != "" {
		body, err := renderTemplate(w.config.BodyTemplate, event)
		if err == nil {
			return body, nil
		}
		log.Warnf("[Webhook] 渲染请求体模板失败: %v", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("序列化事件数据失败: %w", err)
	}
	return body, nil
}

func (w *WebhookNotifier) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("创建请求失败: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range w.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook 返回错误状态码: %d", resp.StatusCode)
	}
	return nil
}

// renderTemplate 渲染模板
func renderTemplate(tmplStr string, data EventData) ([]byte, error) {
	funcMap := template.FuncMap{
		"toJson": func(v any) string {
			b, err := json.Marshal(v)
			if err != nil {
				return "null"
			}
			return string(b)
		},
	}

	tmpl, err := template.New("webhook").Funcs(funcMap).Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("解析模板失败: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("渲染模板失败: %w", err)
	}
	return buf.Bytes(), nil
}

// NotifyCertRenewed 通知证书签发/续期成功
func (w *WebhookNotifier) NotifyCertRenewed(ctx context.Context, domain, attemptID string, notAfter time.Time) error {
	message := fmt.Sprintf("证书签发/续期成功: %s", domain)
	data := map[string]any{
		"attempt_id": attemptID,
		"not_after":  notAfter.Format(time.RFC3339),
	}
	return w.Notify(ctx, EventCertRenewed, domain, message, data)
}

// NotifyCertFailed 通知证书签发失败
func (w *WebhookNotifier) NotifyCertFailed(ctx context.Context, domain, attemptID, reason string) error {
	message := fmt.Sprintf("证书签发失败: %s", domain)
	data := map[string]any{
		"attempt_id": attemptID,
		"reason":     reason,
	}
	return w.Notify(ctx, EventCertFailed, domain, message, data)
}

// NotifyDNSTimeout 通知验证记录在重试次数内未生效
func (w *WebhookNotifier) NotifyDNSTimeout(ctx context.Context, domain, attemptID string) error {
	message := fmt.Sprintf("DNS 验证记录未生效: %s", domain)
	data := map[string]any{
		"attempt_id": attemptID,
	}
	return w.Notify(ctx, EventDNSTimeout, domain, message, data)
}

// NotifyCleanupFailed 通知验证记录清理失败，需要人工删除
func (w *WebhookNotifier) NotifyCleanupFailed(ctx context.Context, domain, attemptID string, failed int) error {
	message := fmt.Sprintf("DNS 验证记录清理失败: %s (%d 条)", domain, failed)
	data := map[string]any{
		"attempt_id": attemptID,
		"failed":     failed,
	}
	return w.Notify(ctx, EventCleanupFailed, domain, message, data)
}

// IsEnabled 检查是否启用
func (w *WebhookNotifier) IsEnabled() bool {
	return w != nil && w.config != nil && w.config.Enabled
}
