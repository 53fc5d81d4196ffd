package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

//go:embed db_sqlite.sql db_mysql.sql
var schemaFS embed.FS

// makeDBEngine opens the connection pool for the configured engine and
// returns it together with a password-free resource string for diagnostics.
func makeDBEngine(cfg *Config, creds DBCredentials, log *logrus.Logger) (*sql.DB, string, error) {
	if cfg.DBType == dbTypeSQLite {
		resource := "sqlite:///" + cfg.DatabasePath
		log.Infof("Using local db %s", resource)
		db, err := sql.Open("sqlite3", cfg.DatabasePath)
		return db, resource, err
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:3306)/%s",
		creds.Username, creds.Password, cfg.DBEndpoint, cfg.DBName)
	resource := fmt.Sprintf("%s://%s@%s:3306/%s",
		cfg.DBType, creds.Username, cfg.DBEndpoint, cfg.DBName)
	log.Infof("db_type=%s endpoint=%s db=%s username=%s using_secret=%t",
		cfg.DBType, cfg.DBEndpoint, cfg.DBName, creds.Username, creds.SecretsUsed)
	db, err := sql.Open("mysql", dsn)
	return db, resource, err
}

// initSchema creates the tables for the configured engine. Statements run
// one at a time because the mysql driver rejects multi-statement scripts by
// default.
func initSchema(db *sql.DB, dbType string) error {
	name := "db_sqlite.sql"
	if dbType == dbTypeMySQL {
		name = "db_mysql.sql"
	}
	script, err := schemaFS.ReadFile(name)
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(script), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}
	}
	return nil
}

// --- Request-scoped connection ---

// requestDB lazily checks one connection out of the pool for the lifetime of
// a single request. The middleware in middleware.go guarantees release on
// every exit path.
type requestDB struct {
	engine *sql.DB
	conn   *sql.Conn
}

func (rd *requestDB) acquire(ctx context.Context) (*sql.Conn, error) {
	if rd.conn == nil {
		conn, err := rd.engine.Conn(ctx)
		if err != nil {
			return nil, err
		}
		rd.conn = conn
	}
	return rd.conn, nil
}

func (rd *requestDB) release() {
	if rd.conn != nil {
		rd.conn.Close()
		rd.conn = nil
	}
}

func dbConn(r *http.Request) (*sql.Conn, error) {
	rd, ok := r.Context().Value(ctxKeyDB).(*requestDB)
	if !ok {
		return nil, errors.New("no database bound to request")
	}
	return rd.acquire(r.Context())
}

// --- Generic query layer ---

// Row is one result row as a mapping of column name to value, preserving the
// original column order.
type Row struct {
	columns []string
	values  map[string]interface{}
}

func (row *Row) Columns() []string { return row.columns }

func (row *Row) Get(col string) interface{} { return row.values[col] }

func (row *Row) Str(col string) string {
	v, _ := row.values[col].(string)
	return v
}

func (row *Row) Int(col string) int64 {
	switch n := row.values[col].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

// queryDB runs a parameterized query on the request's connection and returns
// every row. SQL text never has user input interpolated into it; all values
// travel as bind parameters.
func queryDB(r *http.Request, query string, args ...interface{}) ([]*Row, error) {
	conn, err := dbConn(r)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(r.Context(), query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []*Row
	for rows.Next() {
		raw := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		values := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			// The mysql driver hands text back as []byte.
			if b, ok := raw[i].([]byte); ok {
				raw[i] = string(b)
			}
			values[col] = raw[i]
		}
		result = append(result, &Row{columns: cols, values: values})
	}
	return result, rows.Err()
}

// queryOne returns the first row, or nil if the query matched nothing.
func queryOne(r *http.Request, query string, args ...interface{}) (*Row, error) {
	rows, err := queryDB(r, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// execDB runs a mutation inside an explicit transaction on the request's
// connection.
func execDB(r *http.Request, query string, args ...interface{}) (sql.Result, error) {
	conn, err := dbConn(r)
	if err != nil {
		return nil, err
	}
	tx, err := conn.BeginTx(r.Context(), nil)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(r.Context(), query, args...)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	return res, tx.Commit()
}

// --- Typed helpers ---

func rowToUser(row *Row) *User {
	if row == nil {
		return nil
	}
	return &User{
		UserID:   int(row.Int("user_id")),
		Username: row.Str("username"),
		Email:    row.Str("email"),
		PwHash:   row.Str("pw_hash"),
	}
}

func getUserByID(r *http.Request, userID int) *User {
	row, err := queryOne(r, "SELECT user_id, username, email, pw_hash FROM user WHERE user_id = ?", userID)
	if err != nil {
		return nil
	}
	return rowToUser(row)
}

func getUserByName(r *http.Request, username string) *User {
	row, err := queryOne(r, "SELECT user_id, username, email, pw_hash FROM user WHERE username = ?", username)
	if err != nil {
		return nil
	}
	return rowToUser(row)
}

// getUserID looks up the id for a username, -1 if unknown.
func getUserID(r *http.Request, username string) int {
	row, err := queryOne(r, "SELECT user_id FROM user WHERE username = ?", username)
	if err != nil || row == nil {
		return -1
	}
	return int(row.Int("user_id"))
}

func queryMessages(r *http.Request, query string, args ...interface{}) ([]Message, error) {
	rows, err := queryDB(r, query, args...)
	if err != nil {
		return nil, err
	}
	messages := make([]Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, Message{
			Username: row.Str("username"),
			Email:    row.Str("email"),
			Text:     row.Str("text"),
			PubDate:  row.Int("pub_date"),
		})
	}
	return messages, nil
}
