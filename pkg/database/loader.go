package database

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"sales-insights/pkg/ports"
)

// Backend est un Store ouvert sur une base réelle.
type Backend interface {
	ports.Store
	// Migrate crée les tables produites par les jobs si elles n'existent pas.
	Migrate(ctx context.Context) error
	// MigrateSource crée les tables source, pour le dev local.
	MigrateSource(ctx context.Context) error
	Close() error
}

// Open choisit le driver selon le schéma du DSN :
//   - mariadb:// mysql:// ou DSN natif go-sql-driver → MySQLStore
//   - postgres:// postgresql:// → GormStore (postgres)
//   - sqlite:// → GormStore (sqlite, dev local)
//
// Le second retour est le DSN effectivement passé au driver.
func Open(ctx context.Context, dsn string) (Backend, string, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		s, err := OpenPostgres(ctx, dsn)
		return s, dsn, err
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		s, err := OpenSQLite(ctx, path)
		return s, path, err
	default:
		mysqlDSN, err := toMySQLDSN(dsn)
		if err != nil {
			return nil, "", err
		}
		s, err := OpenMySQL(ctx, mysqlDSN)
		return s, redactDSN(mysqlDSN), err
	}
}

// toMySQLDSN convertit mariadb:// ou mysql:// → format du driver MySQL.
func toMySQLDSN(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "mariadb://") || strings.HasPrefix(dsn, "mysql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse dsn: %w", err)
		}
		user := ""
		pass := ""
		if u.User != nil {
			user = u.User.Username()
			pw, _ := u.User.Password()
			pass = pw
		}
		host := u.Host
		db := strings.TrimPrefix(u.Path, "/")
		if user == "" || host == "" || db == "" {
			return "", fmt.Errorf("dsn incomplet (user/host/db)")
		}
		return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&loc=UTC&interpolateParams=true",
			user, pass, host, db), nil
	}
	return dsn, nil
}

// redactDSN masque le mot de passe pour les logs.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	colon := strings.Index(dsn, ":")
	if at < 0 || colon < 0 || colon > at {
		return dsn
	}
	return dsn[:colon+1] + "***" + dsn[at:]
}

var (
	_ Backend     = (*MySQLStore)(nil)
	_ Backend     = (*GormStore)(nil)
	_ ports.Store = (*MemoryStore)(nil)
)
