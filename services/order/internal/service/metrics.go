package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_submissions_total",
		Help: "Orders submitted through the API, by result.",
	}, []string{"result"})

	commandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_saga_commands_total",
		Help: "Saga commands handled by the order service, by command and result.",
	}, []string{"command", "result"})
)
