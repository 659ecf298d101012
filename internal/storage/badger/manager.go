package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db        *BadgerDB
	workOrder interfaces.WorkOrderStorage
	job       interfaces.JobStorage
	history   interfaces.HistoryStorage
	settings  interfaces.SettingsStorage
	logger    arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:        db,
		workOrder: NewWorkOrderStorage(db, logger),
		job:       NewJobStorage(db, logger),
		history:   NewHistoryStorage(db, logger),
		settings:  NewSettingsStorage(db, logger),
		logger:    logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// WorkOrderStorage returns the work order storage interface
func (m *Manager) WorkOrderStorage() interfaces.WorkOrderStorage {
	return m.workOrder
}

// JobStorage returns the job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// HistoryStorage returns the scraping history storage interface
func (m *Manager) HistoryStorage() interfaces.HistoryStorage {
	return m.history
}

// SettingsStorage returns the settings storage interface
func (m *Manager) SettingsStorage() interfaces.SettingsStorage {
	return m.settings
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
