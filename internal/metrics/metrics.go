// Package metrics exposes Prometheus collectors for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ThreadsOpen tracks currently registered threads.
	ThreadsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "threadmail",
		Name:      "threads_open",
		Help:      "Number of threads currently tracked by the registry.",
	})

	// ThreadsCreated counts thread creations.
	ThreadsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "threadmail",
		Name:      "threads_created_total",
		Help:      "Total threads created.",
	})

	// ThreadsClosed counts closes by kind (manual, auto).
	ThreadsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "threadmail",
		Name:      "threads_closed_total",
		Help:      "Total threads closed.",
	}, []string{"kind"})

	// MessagesRelayed counts relayed messages by direction
	// (inbound, outbound) and role (recipient, moderator, note).
	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "threadmail",
		Name:      "messages_relayed_total",
		Help:      "Total messages relayed through threads.",
	}, []string{"direction", "role"})

	// DeliveryFailures counts failed deliveries to recipients.
	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "threadmail",
		Name:      "delivery_failures_total",
		Help:      "Total failed message deliveries to recipients.",
	})

	// ClosesScheduled counts delayed closes armed, by kind.
	ClosesScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "threadmail",
		Name:      "closes_scheduled_total",
		Help:      "Total delayed closes armed.",
	}, []string{"kind"})

	// ClosesCancelled counts pending closes cancelled before firing.
	ClosesCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "threadmail",
		Name:      "closes_cancelled_total",
		Help:      "Total pending closes cancelled before firing.",
	})
)

// CloseKind labels for ThreadsClosed and ClosesScheduled.
const (
	KindManual = "manual"
	KindAuto   = "auto"
)
