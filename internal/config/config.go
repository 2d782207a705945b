package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del servicio. Se carga desde YAML y
// luego se aplican overrides de env. Validate() corre eager en el startup:
// un valor inválido impide que el proceso acepte tráfico.
type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Server struct {
		Addr string `yaml:"addr"`
		// AdminAPIKey protege /v1/admin; vacío deshabilita esas rutas.
		AdminAPIKey string `yaml:"admin_api_key"`
	} `yaml:"server"`

	Storage struct {
		// postgres | memory
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int    `yaml:"max_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	WebAuthn struct {
		RPID          string   `yaml:"rp_id"`
		RPDisplayName string   `yaml:"rp_display_name"`
		RPOrigins     []string `yaml:"rp_origins"`
		// TTL del estado de ceremonia entre begin y finish
		CeremonyTTL string `yaml:"ceremony_ttl"`
	} `yaml:"webauthn"`

	JWT struct {
		Issuer    string `yaml:"issuer"`
		AccessTTL string `yaml:"access_ttl"`
	} `yaml:"jwt"`

	// Keys gobierna el ciclo de vida de las claves de firma.
	// Las duraciones usan sufijos s/m/h/d (ver ParseDuration).
	Keys struct {
		RotationEnabled  bool   `yaml:"rotation_enabled"`
		RotationInterval string `yaml:"rotation_interval"`
		GracePeriod      string `yaml:"grace_period"`
		RetentionPeriod  string `yaml:"retention_period"`
		TickInterval     string `yaml:"tick_interval"`
		KeySizeBits      int    `yaml:"key_size_bits"`
		KIDPrefix        string `yaml:"kid_prefix"`
		// MasterKey protege el material privado persistido. Base64 de 32 bytes.
		MasterKey string `yaml:"master_key"`
	} `yaml:"keys"`
}

// Load lee el YAML, aplica defaults, overrides de env y valida.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FromEnv construye la config solo desde env (deploys sin YAML).
func FromEnv() (*Config, error) {
	var c Config
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	if c.Storage.Postgres.MaxConns == 0 {
		c.Storage.Postgres.MaxConns = 10
	}
	if c.Storage.Postgres.ConnMaxLifetime == "" {
		c.Storage.Postgres.ConnMaxLifetime = "30m"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "2m"
	}
	if c.WebAuthn.RPDisplayName == "" {
		c.WebAuthn.RPDisplayName = "keywarden"
	}
	if c.WebAuthn.CeremonyTTL == "" {
		c.WebAuthn.CeremonyTTL = "5m"
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "keywarden"
	}
	if c.JWT.AccessTTL == "" {
		c.JWT.AccessTTL = "15m"
	}
	if c.Keys.RotationInterval == "" {
		c.Keys.RotationInterval = "90d"
	}
	if c.Keys.GracePeriod == "" {
		c.Keys.GracePeriod = "24h"
	}
	if c.Keys.RetentionPeriod == "" {
		c.Keys.RetentionPeriod = "180d"
	}
	if c.Keys.TickInterval == "" {
		c.Keys.TickInterval = "60s"
	}
	if c.Keys.KeySizeBits == 0 {
		c.Keys.KeySizeBits = 2048
	}
	if c.Keys.KIDPrefix == "" {
		c.Keys.KIDPrefix = "kw"
	}
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("ADMIN_API_KEY"); ok {
		c.Server.AdminAPIKey = v
	}
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("STORAGE_PG_MAX_CONNS"); ok {
		c.Storage.Postgres.MaxConns = v
	}
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("WEBAUTHN_RP_ID"); ok {
		c.WebAuthn.RPID = v
	}
	if v, ok := getEnvStr("WEBAUTHN_RP_DISPLAY_NAME"); ok {
		c.WebAuthn.RPDisplayName = v
	}
	if v, ok := getEnvCSV("WEBAUTHN_RP_ORIGINS"); ok {
		c.WebAuthn.RPOrigins = v
	}
	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.JWT.Issuer = v
	}
	if v, ok := getEnvStr("JWT_ACCESS_TTL"); ok {
		c.JWT.AccessTTL = v
	}
	if v, ok := getEnvBool("KEYS_ROTATION_ENABLED"); ok {
		c.Keys.RotationEnabled = v
	}
	if v, ok := getEnvStr("KEYS_ROTATION_INTERVAL"); ok {
		c.Keys.RotationInterval = v
	}
	if v, ok := getEnvStr("KEYS_GRACE_PERIOD"); ok {
		c.Keys.GracePeriod = v
	}
	if v, ok := getEnvStr("KEYS_RETENTION_PERIOD"); ok {
		c.Keys.RetentionPeriod = v
	}
	if v, ok := getEnvStr("KEYS_TICK_INTERVAL"); ok {
		c.Keys.TickInterval = v
	}
	if v, ok := getEnvInt("KEYS_SIZE_BITS"); ok {
		c.Keys.KeySizeBits = v
	}
	if v, ok := getEnvStr("KEYS_KID_PREFIX"); ok {
		c.Keys.KIDPrefix = v
	}
	if v, ok := getEnvStr("KEYS_MASTER_KEY"); ok {
		c.Keys.MasterKey = v
	}
}

// Validate chequea los valores críticos. Cualquier error acá es fatal:
// el proceso no debe empezar a servir con config inválida.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("config: storage.dsn requerido para driver postgres")
		}
	case "memory":
		// sin DSN
	default:
		return fmt.Errorf("config: storage.driver %q no soportado (postgres|memory)", c.Storage.Driver)
	}
	if _, err := time.ParseDuration(c.Storage.Postgres.ConnMaxLifetime); err != nil {
		return fmt.Errorf("config: storage.postgres.conn_max_lifetime: %w", err)
	}

	switch c.Cache.Kind {
	case "memory":
		if _, err := time.ParseDuration(c.Cache.Memory.DefaultTTL); err != nil {
			return fmt.Errorf("config: cache.memory.default_ttl: %w", err)
		}
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("config: cache.redis.addr requerido para kind redis")
		}
	default:
		return fmt.Errorf("config: cache.kind %q no soportado (memory|redis)", c.Cache.Kind)
	}

	if c.WebAuthn.RPID == "" {
		return fmt.Errorf("config: webauthn.rp_id requerido")
	}
	if len(c.WebAuthn.RPOrigins) == 0 {
		return fmt.Errorf("config: webauthn.rp_origins requerido")
	}
	if _, err := time.ParseDuration(c.WebAuthn.CeremonyTTL); err != nil {
		return fmt.Errorf("config: webauthn.ceremony_ttl: %w", err)
	}
	if _, err := time.ParseDuration(c.JWT.AccessTTL); err != nil {
		return fmt.Errorf("config: jwt.access_ttl: %w", err)
	}

	for name, v := range map[string]string{
		"keys.rotation_interval": c.Keys.RotationInterval,
		"keys.grace_period":      c.Keys.GracePeriod,
		"keys.retention_period":  c.Keys.RetentionPeriod,
		"keys.tick_interval":     c.Keys.TickInterval,
	} {
		if _, err := ParseDuration(v); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}

	switch c.Keys.KeySizeBits {
	case 2048, 3072, 4096:
	default:
		return fmt.Errorf("config: keys.key_size_bits %d no soportado (2048|3072|4096)", c.Keys.KeySizeBits)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.Keys.MasterKey))
	if err != nil {
		return fmt.Errorf("config: keys.master_key no es base64 válido: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("config: keys.master_key debe decodificar a 32 bytes, obtuvo %d", len(raw))
	}

	return nil
}

// ─── Accessors de duraciones ya validadas ───

func (c *Config) RotationInterval() time.Duration { return mustParse(c.Keys.RotationInterval) }
func (c *Config) GracePeriod() time.Duration      { return mustParse(c.Keys.GracePeriod) }
func (c *Config) RetentionPeriod() time.Duration  { return mustParse(c.Keys.RetentionPeriod) }
func (c *Config) TickInterval() time.Duration     { return mustParse(c.Keys.TickInterval) }

func (c *Config) CeremonyTTL() time.Duration {
	d, _ := time.ParseDuration(c.WebAuthn.CeremonyTTL)
	return d
}

func (c *Config) AccessTTL() time.Duration {
	d, _ := time.ParseDuration(c.JWT.AccessTTL)
	return d
}

// mustParse asume que Validate() ya corrió.
func mustParse(s string) time.Duration {
	d, _ := ParseDuration(s)
	return d
}

// ─── Env helpers ───

func getEnvStr(key string) (string, bool) {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s, true
	}
	return "", false
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(s); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvCSV(key string) ([]string, bool) {
	s, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, len(out) > 0
}
