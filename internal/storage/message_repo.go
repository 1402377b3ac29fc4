package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/bothub-tgbot-go/internal/models"
)

// MessageRepo persists the asynchronous work queue. The claim protocol is an
// optimistic single-row compare-and-swap: ClaimForWorker updates the row only
// while it is still not_processed, and a zero-row result means another worker
// won the race.
type MessageRepo struct {
	db *gorm.DB
}

// NewMessageRepo creates a message repository.
func NewMessageRepo(db *gorm.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Save inserts a new queue row, stamping sent/parsed times when unset.
func (r *MessageRepo) Save(ctx context.Context, msg *models.Message) error {
	now := time.Now()
	if msg.SentAt.IsZero() {
		msg.SentAt = now
	}
	if msg.ParsedAt.IsZero() {
		msg.ParsedAt = now
	}
	return r.db.WithContext(ctx).Create(msg).Error
}

// Update writes the full row back.
func (r *MessageRepo) Update(ctx context.Context, msg *models.Message) error {
	return r.db.WithContext(ctx).Save(msg).Error
}

// FindByID fetches a queue row. Returns nil when absent.
func (r *MessageRepo) FindByID(ctx context.Context, id int64) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// FindUnprocessed returns up to limit rows ready for the given worker:
// not-processed rows plus rows already processing under that worker id
// (crash resume), oldest first.
func (r *MessageRepo) FindUnprocessed(ctx context.Context, workerID, limit int) ([]models.Message, error) {
	var out []models.Message
	err := r.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND worker = ?)",
			models.StatusNotProcessed, models.StatusProcessing, workerID).
		Order("sent_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ClaimForWorker attempts to move a row not_processed -> processing under the
// given worker id. Returns false when the row was already claimed elsewhere.
func (r *MessageRepo) ClaimForWorker(ctx context.Context, messageID int64, workerID int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND status = ?", messageID, models.StatusNotProcessed).
		Updates(map[string]interface{}{
			"status":    models.StatusProcessing,
			"worker":    workerID,
			"parsed_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkProcessed moves a row to its terminal success state.
func (r *MessageRepo) MarkProcessed(ctx context.Context, messageID int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{
			"status":    models.StatusProcessed,
			"parsed_at": time.Now(),
		}).Error
}

// MarkError moves a row to its terminal error state. The row is kept for
// inspection and manual replay.
func (r *MessageRepo) MarkError(ctx context.Context, messageID int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{
			"status":    models.StatusError,
			"parsed_at": time.Now(),
		}).Error
}

// ResetStuck reclaims rows stuck in processing past the timeout, clearing the
// owning worker so they become claimable again. Returns the reset count.
func (r *MessageRepo) ResetStuck(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout)
	res := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("status = ? AND parsed_at < ?", models.StatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":    models.StatusNotProcessed,
			"worker":    nil,
			"parsed_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

// CleanupOld deletes terminal rows older than the retention window.
func (r *MessageRepo) CleanupOld(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := r.db.WithContext(ctx).
		Where("sent_at < ? AND status IN ?", cutoff,
			[]models.MessageStatus{models.StatusProcessed, models.StatusError}).
		Delete(&models.Message{})
	return res.RowsAffected, res.Error
}

// QueueStats is a per-status row count snapshot.
type QueueStats struct {
	Total        int64
	NotProcessed int64
	Processing   int64
	Processed    int64
	Error        int64
}

// Stats counts queue rows by status.
func (r *MessageRepo) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{}
	db := r.db.WithContext(ctx).Model(&models.Message{})

	if err := db.Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	counts := []struct {
		status models.MessageStatus
		dest   *int64
	}{
		{models.StatusNotProcessed, &stats.NotProcessed},
		{models.StatusProcessing, &stats.Processing},
		{models.StatusProcessed, &stats.Processed},
		{models.StatusError, &stats.Error},
	}
	for _, c := range counts {
		if err := r.db.WithContext(ctx).
			Model(&models.Message{}).
			Where("status = ?", c.status).
			Count(c.dest).Error; err != nil {
			return nil, err
		}
	}
	return stats, nil
}
