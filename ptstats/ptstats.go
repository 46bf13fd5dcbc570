// Package ptstats exposes engine counters as Prometheus metrics, the same
// role the teacher's `stats` package plays for aistore's own runtime
// counters (client_golang is a direct teacher dependency).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package ptstats

import "github.com/prometheus/client_golang/prometheus"

var (
	ParcelsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "partransport",
		Name:      "parcels_sent_total",
		Help:      "Parcels queued for sending, by channel.",
	}, []string{"channel"})

	ParcelsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "partransport",
		Name:      "parcels_received_total",
		Help:      "Parcels read from the wire, by channel.",
	}, []string{"channel"})

	SendLoad = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "partransport",
		Name:      "connection_send_load_bytes",
		Help:      "Current currentSendLoad per connection id.",
	}, []string{"conn"})

	DeliveryBlocking = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "partransport",
		Name:      "delivery_pool_blocking",
		Help:      "1 if the delivery pool that last changed state is marked blocking.",
	})

	FileTransfersAborted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "partransport",
		Name:      "file_transfers_aborted_total",
		Help:      "Aborted file transfers by reason code.",
	}, []string{"info"})
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(ParcelsSent, ParcelsReceived, SendLoad, DeliveryBlocking, FileTransfersAborted)
}
