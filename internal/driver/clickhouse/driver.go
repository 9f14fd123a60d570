// Package clickhouse registers the ClickHouse driver, backed by
// clickhouse-go's database/sql interface.
package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/johndauphine/chxfer/internal/driver"
	"github.com/johndauphine/chxfer/internal/logging"
)

// DefaultPort is the native protocol port.
const DefaultPort = 9000

func init() {
	driver.Register(&Driver{DialTimeout: 10 * time.Second})
}

// Driver implements driver.Driver for ClickHouse.
type Driver struct {
	DialTimeout time.Duration
}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "clickhouse"
}

// Aliases returns alternative names for the driver.
func (d *Driver) Aliases() []string {
	return []string{"ch"}
}

// Dialect returns the ClickHouse dialect.
func (d *Driver) Dialect() driver.Dialect {
	return &Dialect{}
}

func (d *Driver) DefaultPort() int { return DefaultPort }

// Open connects with the given credentials and verifies them with a ping.
// Rejected credentials yield *driver.AuthenticationError.
func (d *Driver) Open(ctx context.Context, spec driver.ConnectionSpec) (*driver.Session, error) {
	if spec.Port == 0 {
		spec.Port = DefaultPort
	}
	opts := &ch.Options{
		Addr: []string{spec.Addr()},
		Auth: ch.Auth{
			Database: spec.Database,
			Username: spec.User,
			Password: spec.Token,
		},
		DialTimeout:  d.DialTimeout,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
	if spec.Secure {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	db := ch.OpenDB(opts)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		dialect := &Dialect{}
		if dialect.IsAuthError(err) {
			return nil, &driver.AuthenticationError{User: spec.User, Addr: spec.Addr(), Err: err}
		}
		return nil, fmt.Errorf("connecting to clickhouse at %s: %w", spec.Addr(), err)
	}
	logging.Debug("connected to %s", spec.Redacted())
	return driver.NewSession(db, &Dialect{}, spec.Database), nil
}
