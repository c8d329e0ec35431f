package database

import (
	"database/sql"
)

type PgMeetingRepository struct {
	conn *sql.DB
}

func NewPgMeetingRepository(dsn string) (*PgMeetingRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgMeetingRepository{conn: db}, nil
}

func (db *PgMeetingRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgMeetingRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
