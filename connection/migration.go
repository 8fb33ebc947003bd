package connection

import (
	"fmt"

	"waconsole/database"
	"waconsole/utils"

	"go.uber.org/zap"
)

// ReconcileIfDuplicate checks whether the freshly paired number previously
// lived on an archived connection of the same tenant and, if so, re-points
// that connection's conversation history to the new one. The transfer is a
// one-shot: once a source is drained it is marked migrated and never matches
// again, so calling this twice for the same pair is a no-op.
//
// Phones shorter than the minimum are treated as unknown identities and
// never matched.
func (m *Manager) ReconcileIfDuplicate(companyId string, newConnectionId uint, normalizedPhone string) error {
	if !utils.MigratablePhone(normalizedPhone) {
		return nil
	}

	source, found, err := database.FindArchivedByNormalizedPhone(companyId, normalizedPhone, newConnectionId)
	if err != nil {
		return fmt.Errorf("could not look up archived connection : %w", err)
	}
	if !found {
		return nil
	}

	migrated, err := database.TransferConversationHistory(
		source.ID, newConnectionId, database.MigrationAutoSameNumber, "system")
	if err != nil {
		return fmt.Errorf("could not transfer conversation history : %w", err)
	}

	m.logger.Info("migrated conversation history from archived connection",
		zap.Uint("source_connection_id", source.ID),
		zap.Uint("target_connection_id", newConnectionId),
		zap.String("normalized_phone", normalizedPhone),
		zap.Int64("migrated_conversations", migrated),
	)

	return nil
}
