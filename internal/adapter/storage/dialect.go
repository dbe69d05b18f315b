package storage

import (
	"database/sql/driver"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"time"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// dialect captures what differs between the SQL backends. Queries are
// written with ? placeholders and rebound per dialect.
type dialect struct {
	name       string
	dollarArgs bool
	forUpdate  string
	skipLocked string
	returning  bool
}

var (
	mysqlDialect = dialect{
		name:       "mysql",
		forUpdate:  " FOR UPDATE",
		skipLocked: " FOR UPDATE SKIP LOCKED",
	}
	postgresDialect = dialect{
		name:       "postgres",
		dollarArgs: true,
		forUpdate:  " FOR UPDATE",
		skipLocked: " FOR UPDATE SKIP LOCKED",
		returning:  true,
	}
	// SQLite has no row locks; transactions begin IMMEDIATE so writers are
	// serialized and the claim degenerates to taking the head of the queue.
	sqliteDialect = dialect{
		name: "sqlite",
	}
)

func (d dialect) rebind(query string) string {
	if !d.dollarArgs {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) schema() ([]string, error) {
	raw, err := schemaFS.ReadFile("schema/" + d.name + ".sql")
	if err != nil {
		return nil, fmt.Errorf("read %s schema: %w", d.name, err)
	}
	var stmts []string
	for _, stmt := range strings.Split(string(raw), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// dbTime scans timestamps from drivers that return either time.Time or text.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	case int64:
		t.Time, t.Valid = time.Unix(0, v).UTC(), true
		return nil
	}
	return fmt.Errorf("cannot scan %T into timestamp", src)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t dbTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullableTime(t *time.Time) driver.Value {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableID(id *int64) driver.Value {
	if id == nil {
		return nil
	}
	return *id
}
