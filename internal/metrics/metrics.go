// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ThreadsOpened counts threads that reached the ready state.
	ThreadsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modmail_threads_opened_total",
			Help: "Total threads provisioned",
		},
	)

	// ThreadsClosed counts closed threads by how the close was triggered.
	ThreadsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modmail_threads_closed_total",
			Help: "Total threads closed",
		},
		[]string{"reason"},
	)

	// ThreadsCancelled counts threads abandoned before provisioning.
	ThreadsCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modmail_threads_cancelled_total",
			Help: "Total threads cancelled before a staff channel existed",
		},
		[]string{"reason"},
	)

	// OpenThreads tracks live threads in the cache.
	OpenThreads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modmail_open_threads",
			Help: "Number of live threads",
		},
	)

	// MessagesRelayed counts relayed messages by direction.
	MessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modmail_messages_relayed_total",
			Help: "Total messages relayed between surfaces",
		},
		[]string{"direction"},
	)

	// DeliveryFailures counts replies that could not reach the recipient.
	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modmail_delivery_failures_total",
			Help: "Total replies that could not be delivered",
		},
		[]string{"reason"},
	)

	// ProvisioningFailures counts channel creation errors by kind.
	ProvisioningFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modmail_provisioning_failures_total",
			Help: "Total staff channel provisioning errors",
		},
		[]string{"reason"},
	)

	// ScheduledClosures tracks pending close timers.
	ScheduledClosures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modmail_scheduled_closures",
			Help: "Number of pending close timers",
		},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modmail_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)
