package connection

import (
	"fmt"

	"waconsole/database"

	"go.uber.org/zap"
)

// EnsureDefaultDepartment guarantees a connection has at least one
// department, creating the default one if none exists. Concurrent calls for
// the same connection collapse into a single flight, and the database keeps
// a partial unique index on (connection_id, is_default) as a second guard,
// so at most one default ever appears. Safe to retry after a failure.
func (m *Manager) EnsureDefaultDepartment(connectionId uint) error {
	_, err, _ := m.deptFlight.Do(sessionKey(connectionId), func() (interface{}, error) {
		count, err := database.CountDepartments(connectionId)
		if err != nil {
			return nil, fmt.Errorf("could not count departments : %w", err)
		}
		if count > 0 {
			return nil, nil
		}

		conn, err := database.GetConnection(connectionId)
		if err != nil {
			return nil, err
		}

		dept, err := database.CreateDefaultDepartment(conn.CompanyID, connectionId, m.defaultDepartmentName)
		if err != nil {
			return nil, fmt.Errorf("could not create default department : %w", err)
		}

		m.logger.Info("created default department",
			zap.Uint("connection_id", connectionId),
			zap.Uint("department_id", dept.ID),
		)
		return nil, nil
	})

	return err
}
