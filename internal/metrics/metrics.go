// Package metrics содержит счетчики Prometheus для диспетчера пересылки.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Возможные исходы обработки одной пары сообщение/правило.
const (
	ResultForwarded       = "forwarded"
	ResultQuotaDropped    = "quota_dropped"
	ResultTransportFailed = "transport_failed"
	ResultOwnerSkipped    = "owner_skipped"
)

// DispatchTotal считает исходы пересылки по правилам.
// Метка result позволяет отличить успешные пересылки от отброшенных
// по квоте и от ошибок транспорта.
var DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forwarder_dispatch_total",
	Help: "Outcomes of message/rule dispatch attempts.",
}, []string{"result"})

// PaymentEventsTotal считает обработанные события платежного шлюза.
var PaymentEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forwarder_payment_events_total",
	Help: "Processed payment gateway events by outcome.",
}, []string{"outcome"})
