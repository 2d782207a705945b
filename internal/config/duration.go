package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parsea duraciones "NNs|NNm|NNh|NNd" (valor numérico + sufijo).
// No delegamos en time.ParseDuration: necesitamos el sufijo "d" y queremos
// rechazar gramáticas compuestas ("1h30m") que nadie usa en estos configs.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, fmt.Errorf("duración inválida %q: esperado <número><s|m|h|d>", s)
	}
	unit := s[len(s)-1]
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("duración inválida %q: esperado <número><s|m|h|d>", s)
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("duración inválida %q: sufijo %q no soportado", s, string(unit))
	}
}
