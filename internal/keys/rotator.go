package keys

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/keywarden/internal/domain/repository"
	"github.com/dropDatabas3/keywarden/internal/metrics"
	"github.com/dropDatabas3/keywarden/internal/observability/logger"
)

// Rotator es el scheduler de rotación. Corre en su propia goroutine,
// desacoplado del request path. Cada tick es idempotente: un tick perdido
// o fallado se auto-corrige en el siguiente porque cada paso parte solo
// del estado persistido.
type Rotator struct {
	svc  *Service
	tick time.Duration
}

func NewRotator(svc *Service, tick time.Duration) *Rotator {
	return &Rotator{svc: svc, tick: tick}
}

// Run bloquea hasta que ctx se cancele. El próximo tick se agenda recién
// cuando el actual termina: los ticks nunca se solapan.
func (r *Rotator) Run(ctx context.Context) error {
	log := logger.Named("keys.rotator")
	log.Info("rotation scheduler started", logger.Duration(r.tick))

	timer := time.NewTimer(r.tick)
	defer timer.Stop()

	// primer tick inmediato: asegura bootstrap sin esperar el intervalo
	_ = r.svc.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("rotation scheduler stopped")
			return ctx.Err()
		case <-timer.C:
			// un error de tick no termina el scheduler: se reintenta
			_ = r.svc.Tick(ctx)
			timer.Reset(r.tick)
		}
	}
}

// Tick ejecuta los tres pasos del scheduler, cada uno independiente:
//
//	(a) promover una PENDING que ya cumplió el grace period
//	(b) generar reemplazo si la ACTIVE excedió el rotation interval
//	(c) purgar RETIRED vencidas
//
// Un ErrConflict en cualquier paso significa que otra instancia ya hizo
// esa transición: se loguea en debug y se sigue. Un error transitorio de
// storage aborta el paso y se reintenta en el próximo tick.
func (s *Service) Tick(ctx context.Context) error {
	log := logger.Named("keys.rotator").With(logger.Op("Tick"))
	now := s.now()
	var firstErr error

	// (a) promoción
	pending, err := s.repo.GetPending(ctx)
	switch {
	case err == nil:
		hadActive := true
		if _, aerr := s.repo.GetActive(ctx); errors.Is(aerr, repository.ErrNotFound) {
			hadActive = false
		}
		due := !now.Before(pending.CreatedAt.Add(s.opts.GracePeriod))
		if !hadActive {
			// sin ACTIVE no hay consumidores con cache que proteger:
			// el bootstrap promueve de inmediato
			due = true
		}
		if due {
			switch perr := s.repo.Promote(ctx, pending.KID, now, s.opts.RetentionPeriod); {
			case perr == nil:
				metrics.KeyTransitions.WithLabelValues(string(repository.KeyEventActivated)).Inc()
				if hadActive {
					// la promoción demotea la ACTIVE anterior en la misma tx
					metrics.KeyTransitions.WithLabelValues(string(repository.KeyEventRetired)).Inc()
				}
				log.Info("key promoted", logger.KID(pending.KID))
			case errors.Is(perr, repository.ErrConflict):
				log.Debug("promotion lost race, skipping", logger.KID(pending.KID))
			default:
				log.Warn("promotion failed, will retry next tick", logger.KID(pending.KID), logger.Err(perr))
				firstErr = perr
			}
		}
	case errors.Is(err, repository.ErrNotFound):
		// (b) generación de reemplazo: solo si no hay PENDING en vuelo
		active, aerr := s.repo.GetActive(ctx)
		switch {
		case aerr == nil:
			if active.ActivatedAt != nil && !now.Before(active.ActivatedAt.Add(s.opts.RotationInterval)) {
				if key, gerr := s.Generate(ctx); gerr != nil {
					log.Warn("replacement generation failed, will retry next tick", logger.Err(gerr))
					firstErr = gerr
				} else {
					log.Info("replacement key generated", logger.KID(key.KID))
				}
			}
		case errors.Is(aerr, repository.ErrNotFound):
			// bootstrap: tabla vacía
			if key, gerr := s.Generate(ctx); gerr != nil {
				log.Warn("bootstrap generation failed, will retry next tick", logger.Err(gerr))
				firstErr = gerr
			} else {
				log.Info("bootstrap key generated", logger.KID(key.KID))
			}
		default:
			log.Warn("active lookup failed", logger.Err(aerr))
			firstErr = aerr
		}
	default:
		log.Warn("pending lookup failed", logger.Err(err))
		firstErr = err
	}

	// (c) purge
	purged, err := s.repo.PurgeExpired(ctx, now)
	if err != nil {
		log.Warn("purge failed, will retry next tick", logger.Err(err))
		if firstErr == nil {
			firstErr = err
		}
	} else {
		for _, kid := range purged {
			metrics.KeyTransitions.WithLabelValues(string(repository.KeyEventDeleted)).Inc()
			log.Info("expired key purged", logger.KID(kid))
		}
	}

	if firstErr != nil {
		metrics.RotationTicks.WithLabelValues("error").Inc()
	} else {
		metrics.RotationTicks.WithLabelValues("ok").Inc()
	}
	return firstErr
}
