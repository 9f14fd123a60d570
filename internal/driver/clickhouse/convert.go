package clickhouse

import (
	"fmt"
	"math/big"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/johndauphine/chxfer/internal/driver"
)

// Layouts accepted for Date and DateTime fields. Fractional seconds are
// accepted after the seconds field by time.Parse.
var (
	dateLayouts     = []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339Nano}
	dateTimeLayouts = []string{"2006-01-02 15:04:05", time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}
)

// ValueConverter maps a system.columns type to the Go value clickhouse-go
// accepts for it. Text columns, enums and composite types bind as strings.
func (d *Dialect) ValueConverter(columnType string, loc *time.Location) driver.ValueConverter {
	if loc == nil {
		loc = time.UTC
	}
	return converterFor(strings.TrimSpace(columnType), loc)
}

func (d *Dialect) TimezoneQuery() string { return "SELECT timezone()" }

func converterFor(typ string, loc *time.Location) driver.ValueConverter {
	if inner, ok := unwrap(typ, "LowCardinality"); ok {
		return converterFor(inner, loc)
	}
	if inner, ok := unwrap(typ, "Nullable"); ok {
		conv := converterFor(inner, loc)
		return func(s string) (any, error) {
			if s == "" || s == `\N` {
				return nil, nil
			}
			if conv == nil {
				return s, nil
			}
			return conv(s)
		}
	}

	base, args := splitType(typ)
	switch base {
	case "Int8":
		return signed(8, func(v int64) any { return int8(v) })
	case "Int16":
		return signed(16, func(v int64) any { return int16(v) })
	case "Int32":
		return signed(32, func(v int64) any { return int32(v) })
	case "Int64":
		return signed(64, func(v int64) any { return v })
	case "UInt8":
		return unsigned(8, func(v uint64) any { return uint8(v) })
	case "UInt16":
		return unsigned(16, func(v uint64) any { return uint16(v) })
	case "UInt32":
		return unsigned(32, func(v uint64) any { return uint32(v) })
	case "UInt64":
		return unsigned(64, func(v uint64) any { return v })
	case "Int128", "Int256", "UInt128", "UInt256":
		return parseBigInt
	case "Float32":
		return func(s string) (any, error) {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
			return float32(v), err
		}
	case "Float64":
		return func(s string) (any, error) {
			return strconv.ParseFloat(strings.TrimSpace(s), 64)
		}
	case "Bool":
		return func(s string) (any, error) {
			return strconv.ParseBool(strings.TrimSpace(s))
		}
	case "Decimal", "Decimal32", "Decimal64", "Decimal128", "Decimal256":
		return func(s string) (any, error) {
			return decimal.NewFromString(strings.TrimSpace(s))
		}
	case "Date", "Date32":
		return timeParser(dateLayouts, time.UTC)
	case "DateTime", "DateTime64":
		return timeParser(dateTimeLayouts, zoneArg(args, loc))
	case "UUID":
		return func(s string) (any, error) {
			return uuid.Parse(strings.TrimSpace(s))
		}
	case "IPv4", "IPv6":
		return func(s string) (any, error) {
			ip := net.ParseIP(strings.TrimSpace(s))
			if ip == nil {
				return nil, fmt.Errorf("invalid IP address %q", s)
			}
			return ip, nil
		}
	}
	return nil
}

func signed(bits int, wrap func(int64) any) driver.ValueConverter {
	return func(s string) (any, error) {
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, bits)
		if err != nil {
			return nil, err
		}
		return wrap(v), nil
	}
}

func unsigned(bits int, wrap func(uint64) any) driver.ValueConverter {
	return func(s string) (any, error) {
		v, err := strconv.ParseUint(strings.TrimSpace(s), 10, bits)
		if err != nil {
			return nil, err
		}
		return wrap(v), nil
	}
}

func parseBigInt(s string) (any, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

func timeParser(layouts []string, loc *time.Location) driver.ValueConverter {
	return func(s string) (any, error) {
		s = strings.TrimSpace(s)
		for _, layout := range layouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("invalid date/time %q", s)
	}
}

// unwrap returns T for "name(T)".
func unwrap(typ, name string) (string, bool) {
	if strings.HasPrefix(typ, name+"(") && strings.HasSuffix(typ, ")") {
		return typ[len(name)+1 : len(typ)-1], true
	}
	return "", false
}

// splitType splits "DateTime64(3, 'UTC')" into "DateTime64" and "3, 'UTC'".
func splitType(typ string) (string, string) {
	i := strings.IndexByte(typ, '(')
	if i < 0 {
		return typ, ""
	}
	return typ[:i], strings.TrimSuffix(typ[i+1:], ")")
}

// zoneArg returns the zone named in a type's arguments, or def.
func zoneArg(args string, def *time.Location) *time.Location {
	i := strings.IndexByte(args, '\'')
	j := strings.LastIndexByte(args, '\'')
	if i < 0 || j <= i {
		return def
	}
	loc, err := time.LoadLocation(args[i+1 : j])
	if err != nil {
		return def
	}
	return loc
}
