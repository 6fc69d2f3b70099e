// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package ocpp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// peerMetrics record peer activity counters.
type peerMetrics struct {
	msgRecv     prometheus.Counter
	msgSent     prometheus.Counter
	msgDropped  prometheus.Counter // replies with no pending call
	callIn      prometheus.Counter // number of inbound calls received
	callInErr   prometheus.Counter // number of inbound calls answered with a CallError
	callOut     prometheus.Counter // number of outbound calls initiated
	callOutErr  prometheus.Counter // number of outbound calls reporting an error
	callTimeout prometheus.Counter // number of outbound calls that timed out
	callActive  prometheus.Gauge   // inbound
	callPending prometheus.Gauge   // outbound
	sessions    prometheus.Gauge
	errorCodes  *prometheus.CounterVec

	all []prometheus.Collector
}

var rootMetrics = newPeerMetrics()

// Metrics returns the collector shared by all peers that have not been
// detached (see Peer.Detach).
func Metrics() prometheus.Collector { return rootMetrics }

func newPeerMetrics() *peerMetrics {
	f := promauto.With(nil) // the caller chooses where to register
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Namespace: "ocpp", Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: "ocpp", Name: name, Help: help})
	}
	pm := &peerMetrics{
		msgRecv:     counter("messages_received_total", "Messages received from remote peers"),
		msgSent:     counter("messages_sent_total", "Messages sent to remote peers"),
		msgDropped:  counter("messages_dropped_total", "Replies discarded for unknown or resolved ids"),
		callIn:      counter("calls_in_total", "Inbound calls received"),
		callInErr:   counter("calls_in_failed_total", "Inbound calls answered with a CallError"),
		callOut:     counter("calls_out_total", "Outbound calls initiated"),
		callOutErr:  counter("calls_out_failed_total", "Outbound calls reporting an error"),
		callTimeout: counter("calls_timed_out_total", "Outbound calls that timed out"),
		callActive:  gauge("calls_active", "Inbound calls currently being handled"),
		callPending: gauge("calls_pending", "Outbound calls awaiting a reply"),
		sessions:    gauge("sessions", "Sessions currently running"),
		errorCodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocpp",
			Name:      "call_errors_total",
			Help:      "CallError messages sent, by error code",
		}, []string{"code"}),
	}
	pm.all = []prometheus.Collector{
		pm.msgRecv, pm.msgSent, pm.msgDropped, pm.callIn, pm.callInErr,
		pm.callOut, pm.callOutErr, pm.callTimeout, pm.callActive, pm.callPending,
		pm.sessions, pm.errorCodes,
	}
	return pm
}

// Describe implements prometheus.Collector.
func (pm *peerMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range pm.all {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (pm *peerMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range pm.all {
		c.Collect(ch)
	}
}
