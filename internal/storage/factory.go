package storage

import "fmt"

// Open constructs the backend named by the configuration.
func Open(backend, path string) (Interface, error) {
	switch backend {
	case "json":
		return NewJSONStorage(path)
	case "sqlite":
		return NewSQLiteStorage(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
