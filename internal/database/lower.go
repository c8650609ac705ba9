package database

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"modernc.org/sqlite"
)

// sqliteLower folds case with Go's Unicode tables. SQLite's built-in LOWER
// only folds ASCII.
const sqliteLower = "courierdesk_lower"

func init() {
	err := sqlite.RegisterDeterministicScalarFunction(sqliteLower, 1, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case string:
			return strings.ToLower(v), nil
		case []byte:
			return strings.ToLower(string(v)), nil
		default:
			return strings.ToLower(fmt.Sprint(v)), nil
		}
	})
	if err != nil {
		panic(fmt.Sprintf("register %s: %v", sqliteLower, err))
	}
}

// LowerFunc names the SQL function that lowercases text the same way
// strings.ToLower does on the given store.
func LowerFunc(db bun.IDB) string {
	if db.Dialect().Name() == dialect.SQLite {
		return sqliteLower
	}
	return "LOWER"
}
