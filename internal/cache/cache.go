// Package cache define el store efímero con TTL usado para el estado de
// ceremonia WebAuthn entre begin y finish. Nunca un singleton global:
// cada uso recibe su instancia con scope explícito.
package cache

import "time"

type Cache interface {
	Get(key string) (value []byte, ok bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}
