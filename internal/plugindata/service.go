// Package plugindata gates reads and writes of plugin data on plugin state and
// the caller's access level.
package plugindata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pluginhub/pluginhub/internal/models"
	"github.com/pluginhub/pluginhub/internal/plugins"
)

// Operation names reported to the Recorder.
const (
	OpGet     = "get"
	OpAdd     = "add"
	OpReplace = "replace"
	OpDelete  = "delete"
)

// Recorder receives one observation per data operation. Outcome is "ok" or
// the failing Kind.
type Recorder interface {
	ObserveDataOperation(plugin, operation, outcome string)
}

// ActivityLogger stores audit entries for successful writes.
type ActivityLogger interface {
	Log(ctx context.Context, entry models.ActivityLog) error
}

// Service runs the shared check chain in front of every data operation:
// resolve the connector, require the enabled state, resolve the caller's
// access level.
type Service struct {
	resolver plugins.Resolver
	activity ActivityLogger
	recorder Recorder
	logger   *slog.Logger
}

// NewService creates a service. activity and recorder may be nil.
func NewService(resolver plugins.Resolver, activity ActivityLogger, recorder Recorder, logger *slog.Logger) *Service {
	return &Service{
		resolver: resolver,
		activity: activity,
		recorder: recorder,
		logger:   logger,
	}
}

// ParseOptions builds DataOptions from raw query values. A missing number is
// KindNumberMissing; anything unparsable is KindQueryInvalid.
func ParseOptions(number, startTimestamp, dataType string) (models.DataOptions, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return models.DataOptions{}, newError(KindNumberMissing, "query parameter number is required")
	}

	n, err := strconv.Atoi(number)
	if err != nil || n < 1 {
		return models.DataOptions{}, newError(KindQueryInvalid, "number must be a positive integer, got %q", number)
	}

	opts := models.DataOptions{Number: n, Type: strings.TrimSpace(dataType)}

	if startTimestamp = strings.TrimSpace(startTimestamp); startTimestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, startTimestamp)
		if err != nil {
			return models.DataOptions{}, newError(KindQueryInvalid, "startTimestamp must be RFC 3339, got %q", startTimestamp)
		}
		opts.StartTimestamp = &ts
	}

	return opts, nil
}

// Get returns up to opts.Number records. Callers with AccessNone never see
// private records.
func (s *Service) Get(ctx context.Context, user, pluginID string, opts models.DataOptions) (data []models.Data, err error) {
	defer func() { s.observe(pluginID, OpGet, err) }()

	if err := opts.Validate(); err != nil {
		return nil, newError(KindNumberMissing, "%v", err)
	}

	conn, level, err := s.gate(ctx, pluginID, user)
	if err != nil {
		return nil, err
	}

	records, err := conn.Data(ctx, opts)
	if err != nil {
		return nil, connectorError(err)
	}

	data = make([]models.Data, 0, len(records))
	for _, d := range records {
		if d.IsPrivate() && !level.SeesPrivate() {
			continue
		}
		data = append(data, d)
	}

	s.logger.Debug("plugin data read",
		"plugin", pluginID,
		"user", user,
		"level", level,
		"fetched", len(records),
		"returned", len(data))

	return data, nil
}

// Add stores a new record. The caller needs AccessReadWrite.
func (s *Service) Add(ctx context.Context, user, pluginID string, data models.Data) (err error) {
	defer func() { s.observe(pluginID, OpAdd, err) }()

	if err := data.Validate(); err != nil {
		return newError(KindDataInvalid, "%v", err)
	}

	conn, err := s.gateWrite(ctx, pluginID, user)
	if err != nil {
		return err
	}

	if err := conn.AddData(ctx, data); err != nil {
		return connectorError(err)
	}

	s.recordActivity(ctx, models.ActivityLog{
		ActivityType: models.ActivityTypeDataAdd,
		PluginID:     pluginID,
		Username:     user,
		Message:      fmt.Sprintf("Added %s record to %s", data.Type, pluginID),
		Details:      map[string]interface{}{"type": data.Type, "status": data.Status},
	})
	return nil
}

// Replace substitutes old with replacement. The caller needs AccessReadWrite.
func (s *Service) Replace(ctx context.Context, user, pluginID string, old, replacement models.Data) (err error) {
	defer func() { s.observe(pluginID, OpReplace, err) }()

	if err := old.Validate(); err != nil {
		return newError(KindDataInvalid, "old: %v", err)
	}
	if err := replacement.Validate(); err != nil {
		return newError(KindDataInvalid, "new: %v", err)
	}

	conn, err := s.gateWrite(ctx, pluginID, user)
	if err != nil {
		return err
	}

	if err := conn.ReplaceData(ctx, old, replacement); err != nil {
		return connectorError(err)
	}

	s.recordActivity(ctx, models.ActivityLog{
		ActivityType: models.ActivityTypeDataReplace,
		PluginID:     pluginID,
		Username:     user,
		Message:      fmt.Sprintf("Replaced %s record in %s", old.Type, pluginID),
		Details: map[string]interface{}{
			"old_status": old.Status,
			"new_status": replacement.Status,
		},
	})
	return nil
}

// Delete removes up to opts.Number records. The caller needs AccessReadWrite.
func (s *Service) Delete(ctx context.Context, user, pluginID string, opts models.DataOptions) (deleted int64, err error) {
	defer func() { s.observe(pluginID, OpDelete, err) }()

	if err := opts.Validate(); err != nil {
		return 0, newError(KindNumberMissing, "%v", err)
	}

	conn, err := s.gateWrite(ctx, pluginID, user)
	if err != nil {
		return 0, err
	}

	deleted, err = conn.DeleteData(ctx, opts)
	if err != nil {
		return 0, connectorError(err)
	}

	s.recordActivity(ctx, models.ActivityLog{
		ActivityType: models.ActivityTypeDataDelete,
		PluginID:     pluginID,
		Username:     user,
		Message:      fmt.Sprintf("Deleted %d records from %s", deleted, pluginID),
		Details: map[string]interface{}{
			"number":  opts.Number,
			"type":    opts.Type,
			"deleted": deleted,
		},
	})
	return deleted, nil
}

// InvalidInput records a request whose body could not be decoded as a failed
// operation and returns the KindDataInvalid error to answer it with.
func (s *Service) InvalidInput(pluginID, operation string, cause error) error {
	err := newError(KindDataInvalid, "invalid request body: %v", cause)
	s.observe(pluginID, operation, err)
	return err
}

// gate resolves the connector, requires the enabled state and returns the
// caller's access level, in that order.
func (s *Service) gate(ctx context.Context, pluginID, user string) (plugins.Connector, models.AccessLevel, error) {
	conn, err := s.resolver.Resolve(ctx, pluginID)
	if err != nil {
		if errors.Is(err, plugins.ErrPluginNotFound) {
			return nil, "", newError(KindConnectorMissing, "no connector for plugin %q", pluginID)
		}
		return nil, "", connectorError(err)
	}
	if conn == nil {
		return nil, "", newError(KindConnectorMissing, "no connector for plugin %q", pluginID)
	}

	state, err := conn.State(ctx)
	if err != nil {
		return nil, "", connectorError(err)
	}
	if state != models.PluginStateEnabled {
		return nil, "", newError(KindPluginDisabled, "plugin %q is %s", pluginID, state)
	}

	level, err := conn.AccessLevel(ctx, user)
	if err != nil {
		return nil, "", connectorError(err)
	}
	return conn, level, nil
}

func (s *Service) gateWrite(ctx context.Context, pluginID, user string) (plugins.Connector, error) {
	conn, level, err := s.gate(ctx, pluginID, user)
	if err != nil {
		return nil, err
	}
	if !level.CanWrite() {
		s.logger.Info("write refused", "plugin", pluginID, "user", user, "level", level)
		return nil, newError(KindUnauthorised, "user %q has %s access to plugin %q", user, level, pluginID)
	}
	return conn, nil
}

func (s *Service) recordActivity(ctx context.Context, entry models.ActivityLog) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Log(ctx, entry); err != nil {
		s.logger.Warn("failed to record activity",
			"plugin", entry.PluginID,
			"activity_type", entry.ActivityType,
			"error", err)
	}
}

const unknownPluginLabel = "unknown"

func (s *Service) observe(pluginID, operation string, err error) {
	if s.recorder == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	// Ids rejected before resolution come straight from the client.
	switch Kind(outcome) {
	case KindConnectorMissing, KindNumberMissing, KindQueryInvalid, KindDataInvalid:
		pluginID = unknownPluginLabel
	}
	s.recorder.ObserveDataOperation(pluginID, operation, outcome)
}
