// Package driver provides the database side of a transfer: sessions, safe
// statement building, schema discovery, and the batch reader/writer that
// stream rows through a single owned connection.
//
// Concrete databases live in subpackages and register themselves via init():
//
//	func init() {
//	    driver.Register(&Driver{})
//	}
package driver

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Driver is a pluggable database backend.
type Driver interface {
	Connector

	// Name returns the primary driver name (e.g., "clickhouse").
	Name() string

	// Aliases returns alternative names for this driver.
	Aliases() []string

	// Dialect returns the SQL dialect for this database.
	Dialect() Dialect

	// DefaultPort is used when a ConnectionSpec leaves Port unset.
	DefaultPort() int
}

// Connector obtains an authenticated session.
type Connector interface {
	// Open returns a session owning exactly one connection, or an
	// *AuthenticationError when the credentials are rejected.
	Open(ctx context.Context, spec ConnectionSpec) (*Session, error)
}

// ConnectionSpec identifies the database and the credentials to use. It is
// never persisted by the engine.
type ConnectionSpec struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	User     string `json:"user" yaml:"user"`
	Token    string `json:"token" yaml:"token"` // password or JWT
	Secure   bool   `json:"secure,omitempty" yaml:"secure,omitempty"`
}

// Addr returns host:port.
func (c ConnectionSpec) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Redacted returns a printable description without the credential.
func (c ConnectionSpec) Redacted() string {
	return fmt.Sprintf("%s@%s/%s", c.User, c.Addr(), c.Database)
}
