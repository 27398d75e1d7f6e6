// Package metrics provides Prometheus metrics for the storage server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerMetrics holds the operation counters for one server instance. Each
// instance carries its own registry so tests can build them freely.
type ServerMetrics struct {
	registry *prometheus.Registry

	DocumentsServed      prometheus.Counter
	DocumentsStored      prometheus.Counter
	DocumentsDeleted     prometheus.Counter
	FoldersServed        prometheus.Counter
	PreconditionFailures prometheus.Counter
	Conflicts            prometheus.Counter
}

// New creates a ServerMetrics with all counters registered.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	counter := func(name, help string) prometheus.Counter {
		return promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: name,
			Help: help,
		})
	}

	return &ServerMetrics{
		registry:             reg,
		DocumentsServed:      counter("othala_documents_served_total", "Documents returned with a body"),
		DocumentsStored:      counter("othala_documents_stored_total", "Successful document writes"),
		DocumentsDeleted:     counter("othala_documents_deleted_total", "Successful document deletes"),
		FoldersServed:        counter("othala_folders_served_total", "Folder listings returned"),
		PreconditionFailures: counter("othala_precondition_failures_total", "Conditional requests rejected with 412"),
		Conflicts:            counter("othala_conflicts_total", "Writes rejected by a file/folder name clash"),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *ServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
