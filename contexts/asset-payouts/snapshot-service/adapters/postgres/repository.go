package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"assetsnap/contexts/asset-payouts/snapshot-service/domain/entities"
	domainerrors "assetsnap/contexts/asset-payouts/snapshot-service/domain/errors"
	"assetsnap/contexts/asset-payouts/snapshot-service/ports"
)

const moduleName = "asset-payouts/snapshot-service"

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) CreateSnapshot(ctx context.Context, snapshot entities.AssetSnapshot) error {
	if strings.TrimSpace(snapshot.ID) == "" || strings.TrimSpace(snapshot.ProjectID) == "" {
		r.logWarn("snapshot_repo_create_invalid_input",
			"snapshot_id", strings.TrimSpace(snapshot.ID),
			"project_id", strings.TrimSpace(snapshot.ProjectID),
		)
		return domainerrors.ErrInvalidSnapshotInput
	}

	row := assetSnapshotModelFromEntity(snapshot)
	if row.Status == "" {
		row.Status = string(entities.SnapshotStatusPending)
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			r.logWarn("snapshot_repo_create_duplicate_id",
				"snapshot_id", row.ID,
			)
			return domainerrors.ErrRepositoryInvariantBroke
		}
		return r.logError("snapshot_repo_create_failed", err,
			"snapshot_id", row.ID,
			"project_id", row.ProjectID,
		)
	}
	return nil
}

func (r *Repository) GetSnapshot(ctx context.Context, snapshotID string) (entities.AssetSnapshot, bool, error) {
	var row assetSnapshotModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(snapshotID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.AssetSnapshot{}, false, nil
		}
		return entities.AssetSnapshot{}, false, r.logError("snapshot_repo_get_failed", err,
			"snapshot_id", strings.TrimSpace(snapshotID),
		)
	}
	return row.toEntity(), true, nil
}

func (r *Repository) ListSnapshots(
	ctx context.Context,
	projectID string,
	statuses []entities.SnapshotStatus,
) ([]entities.AssetSnapshot, error) {
	query := r.db.WithContext(ctx).
		Where("project_id = ?", strings.TrimSpace(projectID))
	if len(statuses) > 0 {
		values := make([]string, 0, len(statuses))
		for _, status := range statuses {
			values = append(values, string(status))
		}
		query = query.Where("status IN ?", values)
	}

	var rows []assetSnapshotModel
	if err := query.Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, r.logError("snapshot_repo_list_failed", err,
			"project_id", strings.TrimSpace(projectID),
		)
	}
	items := make([]entities.AssetSnapshot, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

// ClaimPendingSnapshot locks the oldest unlocked PENDING row with
// FOR UPDATE SKIP LOCKED and keeps the transaction open while process runs.
// The tree write and SUCCESS update share a savepoint so a failed write can be
// rolled back and replaced by a FAILED update inside the same transaction.
func (r *Repository) ClaimPendingSnapshot(
	ctx context.Context,
	process ports.SnapshotProcessor,
) (entities.AssetSnapshot, bool, error) {
	var (
		completed entities.AssetSnapshot
		claimed   bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []assetSnapshotModel
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", string(entities.SnapshotStatusPending)).
			Order("created_at ASC").
			Order("id ASC").
			Limit(1).
			Find(&rows).Error; err != nil {
			return r.logError("snapshot_repo_claim_select_failed", err)
		}
		if len(rows) == 0 {
			return nil
		}
		claimed = true
		snapshot := rows[0].toEntity()

		outcome := process(ctx, snapshot)
		completedAt := outcome.CompletedAt.UTC()
		if completedAt.IsZero() {
			completedAt = time.Now().UTC()
		}

		if outcome.Succeeded() {
			writeErr := tx.Transaction(func(inner *gorm.DB) error {
				rootID, err := r.storeTree(inner, snapshot, outcome.Tree, completedAt)
				if err != nil {
					return err
				}
				return r.markSucceeded(inner, snapshot.ID, rootID, outcome, completedAt)
			})
			if writeErr == nil {
				return r.reload(tx, snapshot.ID, &completed)
			}
			r.logError("snapshot_repo_tree_write_failed", writeErr,
				"snapshot_id", snapshot.ID,
			)
			outcome = entities.FailedOutcome(entities.FailureCausePersistenceFailure, writeErr.Error(), completedAt)
		}

		failure := entities.SnapshotFailure{Cause: entities.FailureCauseInternal}
		if outcome.Failure != nil {
			failure = *outcome.Failure
		}
		if err := r.markFailed(tx, snapshot.ID, failure, completedAt); err != nil {
			return err
		}
		return r.reload(tx, snapshot.ID, &completed)
	})
	if err != nil {
		return entities.AssetSnapshot{}, false, err
	}
	return completed, claimed, nil
}

func (r *Repository) markSucceeded(
	tx *gorm.DB,
	snapshotID string,
	rootID string,
	outcome entities.SnapshotOutcome,
	at time.Time,
) error {
	total := outcome.TotalAssetAmount
	if total == nil {
		total = outcome.Tree.TotalBalance()
	}
	result := tx.Model(&assetSnapshotModel{}).
		Where("id = ? AND status = ?", snapshotID, string(entities.SnapshotStatusPending)).
		Updates(map[string]any{
			"status":             string(entities.SnapshotStatusSuccess),
			"tree_root_id":       rootID,
			"content_hash":       strings.TrimSpace(outcome.ContentHash),
			"total_asset_amount": total.String(),
			"updated_at":         at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return domainerrors.ErrSnapshotNotPending
	}
	return nil
}

func (r *Repository) markFailed(tx *gorm.DB, snapshotID string, failure entities.SnapshotFailure, at time.Time) error {
	result := tx.Model(&assetSnapshotModel{}).
		Where("id = ? AND status = ?", snapshotID, string(entities.SnapshotStatusPending)).
		Updates(map[string]any{
			"status":          string(entities.SnapshotStatusFailed),
			"failure_cause":   string(failure.Cause),
			"failure_message": failure.Message,
			"updated_at":      at,
		})
	if result.Error != nil {
		return r.logError("snapshot_repo_mark_failed_failed", result.Error,
			"snapshot_id", snapshotID,
		)
	}
	if result.RowsAffected != 1 {
		r.logWarn("snapshot_repo_mark_failed_not_pending",
			"snapshot_id", snapshotID,
		)
		return domainerrors.ErrSnapshotNotPending
	}
	return nil
}

func (r *Repository) reload(tx *gorm.DB, snapshotID string, into *entities.AssetSnapshot) error {
	var row assetSnapshotModel
	if err := tx.Where("id = ?", snapshotID).First(&row).Error; err != nil {
		return r.logError("snapshot_repo_reload_failed", err,
			"snapshot_id", snapshotID,
		)
	}
	*into = row.toEntity()
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", moduleName,
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("snapshot repository operation failed", fields...)
	return err
}

func (r *Repository) logWarn(event string, attrs ...any) {
	fields := make([]any, 0, len(attrs)+6)
	fields = append(fields,
		"event", event,
		"module", moduleName,
		"layer", "adapter",
	)
	fields = append(fields, attrs...)
	r.logger.Warn("snapshot repository warning", fields...)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.SnapshotRepository = (*Repository)(nil)
var _ ports.TreeRepository = (*Repository)(nil)
