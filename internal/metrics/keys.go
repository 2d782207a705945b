// Package metrics define los contadores Prometheus del dominio.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RotationTicks cuenta ticks del scheduler por resultado (ok|error).
	RotationTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keywarden_rotation_ticks_total",
		Help: "Ticks del scheduler de rotación por resultado",
	}, []string{"result"})

	// KeyTransitions cuenta transiciones de estado por evento.
	KeyTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keywarden_key_transitions_total",
		Help: "Transiciones del ciclo de vida de claves por evento",
	}, []string{"event"})

	// RegistrationsTotal cuenta registros de credenciales por resultado.
	RegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keywarden_registrations_total",
		Help: "Registros de credenciales por resultado",
	}, []string{"result"})
)
