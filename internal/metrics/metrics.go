// Package metrics 签发流程的 Prometheus 指标
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const namespace = "acme_manager"

var (
	requestCertificate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "request_certificate_total",
		Help:      "Certificate issuance attempts by result.",
	}, []string{"result"})

	waitForDNSChange = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wait_for_dns_change_total",
		Help:      "Propagation waits per challenge record by result.",
	}, []string{"result"})

	hasDNSPropagated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "has_dns_propagated_total",
		Help:      "Two-phase propagation checks by phase and result.",
	}, []string{"phase", "result"})

	cleanupDNSChallengesError = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cleanup_dns_challenges_error_total",
		Help:      "Challenge record deletions that failed during cleanup.",
	})

	verificationError = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "complete_dns_challenge_verification_error_total",
		Help:      "Challenges that failed local verification before being answered.",
	})

	noDNSProviderForDomain = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "get_authorizations_no_dns_provider_for_domain_total",
		Help:      "Domains with no configured DNS provider.",
	})

	noDNSChallenges = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "start_dns_challenge_error_no_dns_challenges_total",
		Help:      "Domains whose authorizations offered no dns-01 challenge.",
	})

	revokeCertificate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "acme_revoke_certificate_total",
		Help:      "Certificate revocation attempts by result.",
	}, []string{"result"})

	deleteACMETXTRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delete_acme_txt_records_total",
		Help:      "Stale _acme-challenge record set purges by result.",
	}, []string{"result"})
)

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// RecordRequestCertificate 记录一次签发结果
func RecordRequestCertificate(ok bool) {
	requestCertificate.WithLabelValues(result(ok)).Inc()
}

// RecordWaitForDNSChange 记录一条记录的生效等待结果
func RecordWaitForDNSChange(ok bool) {
	waitForDNSChange.WithLabelValues(result(ok)).Inc()
}

// RecordHasDNSPropagated 记录某一阶段的生效检查结果
func RecordHasDNSPropagated(phase string, ok bool) {
	hasDNSPropagated.WithLabelValues(phase, result(ok)).Inc()
}

// RecordCleanupError 清理失败
func RecordCleanupError() {
	cleanupDNSChallengesError.Inc()
}

// RecordVerificationError 本地校验失败
func RecordVerificationError() {
	verificationError.Inc()
}

// RecordNoProviderForDomain 找不到DNS提供商
func RecordNoProviderForDomain() {
	noDNSProviderForDomain.Inc()
}

// RecordNoDNSChallenge 授权中没有 dns-01 验证
func RecordNoDNSChallenge() {
	noDNSChallenges.Inc()
}

// RecordRevokeCertificate 记录一次吊销结果
func RecordRevokeCertificate(ok bool) {
	revokeCertificate.WithLabelValues(result(ok)).Inc()
}

// RecordDeleteACMETXTRecords 记录一个记录集的清除结果
func RecordDeleteACMETXTRecords(ok bool) {
	deleteACMETXTRecords.WithLabelValues(result(ok)).Inc()
}

// Serve 在 addr 上暴露 /metrics，ctx 取消时关闭
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("[指标] 监听 %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
