package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// reservationsTotal counts reservation attempts by outcome
	// (created, held, insufficient, completed, invalid).
	reservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_reservations_total",
			Help: "Total number of stock reservation attempts",
		},
		[]string{"outcome"},
	)

	// reservationsSettled counts reservations leaving the ledger
	// (released, committed, expired).
	reservationsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_reservations_settled_total",
			Help: "Total number of stock reservations settled",
		},
		[]string{"result"},
	)
)
