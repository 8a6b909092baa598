package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jroos/habitloop/internal/models"
)

// Snapshot document names shared by the SQL backends.
const (
	usersDocument   = "users"
	runtimeDocument = "runtime"
)

// DetectDSNType classifies a DSN as "postgres" or "sqlite". PostgreSQL
// DSNs are URL-style or keyword-style; everything else is treated as a
// SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

func encodeUsers(users map[string]*models.UserRecord) ([]byte, error) {
	if users == nil {
		users = map[string]*models.UserRecord{}
	}
	data, err := json.Marshal(users)
	if err != nil {
		return nil, fmt.Errorf("failed to encode users snapshot: %w", err)
	}
	return data, nil
}

func decodeUsers(data []byte) (map[string]*models.UserRecord, error) {
	users := make(map[string]*models.UserRecord)
	if len(data) == 0 {
		return users, nil
	}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users snapshot: %w", err)
	}
	return users, nil
}

func encodeRuntime(rt *models.RuntimeState) ([]byte, error) {
	if rt == nil {
		rt = models.NewRuntimeState()
	}
	data, err := json.Marshal(rt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode runtime snapshot: %w", err)
	}
	return data, nil
}

func decodeRuntime(data []byte) (*models.RuntimeState, error) {
	if len(data) == 0 {
		return nil, nil
	}
	rt := models.NewRuntimeState()
	if err := json.Unmarshal(data, rt); err != nil {
		return nil, fmt.Errorf("failed to decode runtime snapshot: %w", err)
	}
	if rt.Jobs == nil {
		rt.Jobs = make(map[string]models.JobStatus)
	}
	return rt, nil
}
