package config

import (
	"fmt"
	"net/url"
	"strings"

	"telemetry-gateway/middleware/telemetry/domain"
)

// DatabaseConfig descreve o banco do log de auditoria (postgres, mysql ou sqlite).
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"` // caminho do arquivo no sqlite
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
	// AutoMigrate cria as tabelas na subida.
	AutoMigrate *bool `yaml:"auto_migrate"`
}

func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite3"
	}
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	if c.Database == "" && c.isSQLite() {
		c.Database = "telemetry.db"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 2
	}
	if c.Port == 0 {
		switch c.Driver {
		case "postgres":
			c.Port = 5432
		case "mysql":
			c.Port = 3306
		}
	}
	if c.Driver == "postgres" && c.SSLMode == "" {
		c.SSLMode = "disable"
	}
}

func (c *DatabaseConfig) ShouldMigrate() bool { return c.AutoMigrate == nil || *c.AutoMigrate }

func (c *DatabaseConfig) isSQLite() bool { return c.Driver == "sqlite" || c.Driver == "sqlite3" }

func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "postgres", "mysql", "sqlite", "sqlite3":
	default:
		return domain.NewValidationError("database.driver", fmt.Sprintf("unsupported driver %q (postgres, mysql, sqlite3)", c.Driver))
	}
	if c.Database == "" {
		return domain.NewValidationError("database.database", "is required")
	}
	if !c.isSQLite() && c.Host == "" {
		return domain.NewValidationError("database.host", "is required for "+c.Driver)
	}
	if c.MaxConns < 0 || c.MaxIdle < 0 {
		return domain.NewValidationError("database.max_conns", "must be >= 0")
	}
	return nil
}

// DSN monta a string de conexão no formato de cada driver.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case "postgres":
		u := url.URL{
			Scheme: "postgres",
			Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
			Path:   "/" + c.Database,
		}
		if c.Username != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		}
		q := url.Values{}
		if c.SSLMode != "" {
			q.Set("sslmode", c.SSLMode)
		}
		u.RawQuery = q.Encode()
		return u.String()
	case "mysql":
		// parseTime para DATETIME voltar como time.Time
		auth := ""
		if c.Username != "" {
			auth = c.Username + ":" + c.Password + "@"
		}
		return fmt.Sprintf("%stcp(%s:%d)/%s?parseTime=true", auth, c.Host, c.Port, c.Database)
	default:
		return c.Database
	}
}

// DriverName normaliza "sqlite" para o nome registrado pelo go-sqlite3.
func (c *DatabaseConfig) DriverName() string {
	if c.Driver == "sqlite" {
		return "sqlite3"
	}
	return c.Driver
}
