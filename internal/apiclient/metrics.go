package apiclient

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var backendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "backend_requests_total",
	Help: "Outgoing backend API calls by endpoint and status class.",
}, []string{"endpoint", "code"})

func observe(endpoint string, status int) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status/100) + "xx"
	}
	backendRequests.WithLabelValues(endpoint, code).Inc()
}
