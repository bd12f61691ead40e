package metrics

import "github.com/prometheus/client_golang/prometheus"

// PrometheusCollector implements Collector with a small set of
// Prometheus metrics, the same construction shape as
// infodancer-pop3d/internal/metrics.PrometheusCollector: one struct of
// pre-built collectors, registered once at construction.
type PrometheusCollector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpConnReused      *prometheus.CounterVec
	httpIdleTimeouts    *prometheus.CounterVec
	imapCommandsTotal   *prometheus.CounterVec
	imapTaggedResponses *prometheus.CounterVec
	acmeOperationsTotal *prometheus.CounterVec
	dirMgrOpensTotal    *prometheus.CounterVec
	dirMgrSyncCreated   prometheus.Counter
	dirMgrSyncDeleted   prometheus.Counter
}

// NewPrometheusCollector builds and registers the collector's metrics
// against reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailcore_http_requests_total",
			Help: "HTTP requests completed, by host and status.",
		}, []string{"host", "status"}),
		httpConnReused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailcore_http_connections_reused_total",
			Help: "Persistent HTTP connections reused, by host.",
		}, []string{"host"}),
		httpIdleTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailcore_http_idle_timeouts_total",
			Help: "Idle HTTP connections closed after timeout, by host.",
		}, []string{"host"}),
		imapCommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailcore_imap_commands_total",
			Help: "IMAP commands written to the wire, by command name.",
		}, []string{"command"}),
		imapTaggedResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailcore_imap_tagged_responses_total",
			Help: "IMAP tagged responses received, by status (OK/NO/BAD).",
		}, []string{"status"}),
		acmeOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailcore_acme_operations_total",
			Help: "ACME operations completed, by name and outcome.",
		}, []string{"operation", "outcome"}),
		dirMgrOpensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailcore_dirmgr_opens_total",
			Help: "Maildir opens accepted by the directory manager, by mailbox name.",
		}, []string{"name"}),
		dirMgrSyncCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailcore_dirmgr_sync_created_total",
			Help: "Local maildirs created by folder-sync reconciliation.",
		}),
		dirMgrSyncDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailcore_dirmgr_sync_deleted_total",
			Help: "Local maildirs deleted by folder-sync reconciliation.",
		}),
	}
	reg.MustRegister(
		c.httpRequestsTotal, c.httpConnReused, c.httpIdleTimeouts,
		c.imapCommandsTotal, c.imapTaggedResponses, c.acmeOperationsTotal,
		c.dirMgrOpensTotal, c.dirMgrSyncCreated, c.dirMgrSyncDeleted,
	)
	return c
}

func (c *PrometheusCollector) HTTPRequestStarted(host string) {}

func (c *PrometheusCollector) HTTPRequestCompleted(host string, status int) {
	c.httpRequestsTotal.WithLabelValues(host, statusBucket(status)).Inc()
}

func (c *PrometheusCollector) HTTPConnectionReused(host string) {
	c.httpConnReused.WithLabelValues(host).Inc()
}

func (c *PrometheusCollector) HTTPIdleTimeout(host string) {
	c.httpIdleTimeouts.WithLabelValues(host).Inc()
}

func (c *PrometheusCollector) IMAPCommandSent(name string) {
	c.imapCommandsTotal.WithLabelValues(name).Inc()
}

func (c *PrometheusCollector) IMAPTaggedResponse(status string) {
	c.imapTaggedResponses.WithLabelValues(status).Inc()
}

func (c *PrometheusCollector) ACMEOperation(name string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	c.acmeOperationsTotal.WithLabelValues(name, outcome).Inc()
}

func (c *PrometheusCollector) DirMgrOpened(name string) {
	c.dirMgrOpensTotal.WithLabelValues(name).Inc()
}

func (c *PrometheusCollector) DirMgrSyncReconciled(created, deleted int) {
	c.dirMgrSyncCreated.Add(float64(created))
	c.dirMgrSyncDeleted.Add(float64(deleted))
}

func statusBucket(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
