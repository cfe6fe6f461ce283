package db

import (
	"context"
	"fmt"
	"net/url"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

type NewDBPoolParams struct {
	DBHost         string
	DBPort         string
	DBName         string
	DBUser         string
	DBPassword     string
	TracingEnabled bool
}

func NewDBPool(ctx context.Context, params NewDBPoolParams) (*pgxpool.Pool, error) {
	user := params.DBUser
	if user == "" {
		user = "postgres"
	}
	userInfo := url.User(user)
	if params.DBPassword != "" {
		userInfo = url.UserPassword(user, params.DBPassword)
	}

	connURL := url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%s", params.DBHost, params.DBPort),
		Path:   params.DBName,
	}
	poolConfig, err := pgxpool.ParseConfig(connURL.String())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	if params.TracingEnabled {
		poolConfig.ConnConfig.Tracer = otelpgx.NewTracer()
	}

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	return db, nil
}
