package experience

import "fmt"

// Open returns the store named by kind: "memory", "sqlite" (dbPath) or
// "csv" (csvPath).
func Open(kind, dbPath, csvPath string) (Store, error) {
	switch kind {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(dbPath)
	case "csv":
		return NewCSV(csvPath)
	default:
		return nil, fmt.Errorf("unknown store type %q", kind)
	}
}
