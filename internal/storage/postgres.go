package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/sitewatch/internal/config"
	"github.com/your-org/sitewatch/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Cameras ---

// ListActiveCameras returns the configuration snapshots for all enabled
// cameras. The zone polygon is stored as JSONB.
func (s *PostgresStore) ListActiveCameras(ctx context.Context) ([]models.CameraConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, organization_id, name, source_type, source_url, credentials_enc,
		        placeholder_path, use_placeholder, detection_mode, zone_polygon,
		        inference_width, inference_height, target_fps, stream_fps,
		        conf_threshold, inference_enabled
		 FROM cameras WHERE enabled = TRUE ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	defer rows.Close()

	var cams []models.CameraConfig
	for rows.Next() {
		var c models.CameraConfig
		var polygon []byte
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.SourceType, &c.SourceURL,
			&c.CredentialsEnc, &c.PlaceholderPath, &c.UsePlaceholder, &c.Mode, &polygon,
			&c.InferenceWidth, &c.InferenceHeight, &c.TargetFPS, &c.StreamFPS,
			&c.ConfThreshold, &c.InferenceEnabled); err != nil {
			return nil, fmt.Errorf("scan camera: %w", err)
		}
		if len(polygon) > 0 {
			if err := json.Unmarshal(polygon, &c.ZonePolygon); err != nil {
				return nil, fmt.Errorf("parse zone polygon for camera %s: %w", c.ID, err)
			}
		}
		cams = append(cams, c)
	}
	return cams, rows.Err()
}

func (s *PostgresStore) GetCamera(ctx context.Context, id uuid.UUID) (*models.CameraConfig, error) {
	c := &models.CameraConfig{}
	var polygon []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, organization_id, name, source_type, source_url, credentials_enc,
		        placeholder_path, use_placeholder, detection_mode, zone_polygon,
		        inference_width, inference_height, target_fps, stream_fps,
		        conf_threshold, inference_enabled
		 FROM cameras WHERE id = $1`, id,
	).Scan(&c.ID, &c.OrganizationID, &c.Name, &c.SourceType, &c.SourceURL,
		&c.CredentialsEnc, &c.PlaceholderPath, &c.UsePlaceholder, &c.Mode, &polygon,
		&c.InferenceWidth, &c.InferenceHeight, &c.TargetFPS, &c.StreamFPS,
		&c.ConfThreshold, &c.InferenceEnabled)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get camera: %w", err)
	}
	if len(polygon) > 0 {
		if err := json.Unmarshal(polygon, &c.ZonePolygon); err != nil {
			return nil, fmt.Errorf("parse zone polygon: %w", err)
		}
	}
	return c, nil
}

// UpdateCameraStatus records the worker state for operators. Best effort:
// the pipeline never depends on this row being fresh.
func (s *PostgresStore) UpdateCameraStatus(ctx context.Context, id uuid.UUID, state models.WorkerState) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE cameras SET worker_state = $1, state_changed_at = $2 WHERE id = $3`,
		state, time.Now().UTC(), id)
	return err
}

// --- Events ---

func (s *PostgresStore) SaveEvent(ctx context.Context, ev *models.ViolationEvent) error {
	bbox, err := json.Marshal(ev.BBox)
	if err != nil {
		return fmt.Errorf("marshal bbox: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO violation_events
		   (id, organization_id, camera_id, event_type, violation_type, severity,
		    confidence, bbox, thumbnail_key, acknowledged, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ev.ID, ev.OrganizationID, ev.CameraID, ev.EventType, ev.ViolationType, ev.Severity,
		ev.Confidence, bbox, ev.ThumbnailKey, ev.Acknowledged, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.ViolationEvent, error) {
	ev := &models.ViolationEvent{}
	var bbox []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, organization_id, camera_id, event_type, violation_type, severity,
		        confidence, bbox, thumbnail_key, acknowledged, created_at
		 FROM violation_events WHERE id = $1`, id,
	).Scan(&ev.ID, &ev.OrganizationID, &ev.CameraID, &ev.EventType, &ev.ViolationType,
		&ev.Severity, &ev.Confidence, &bbox, &ev.ThumbnailKey, &ev.Acknowledged, &ev.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	if len(bbox) > 0 {
		if err := json.Unmarshal(bbox, &ev.BBox); err != nil {
			return nil, fmt.Errorf("parse bbox: %w", err)
		}
	}
	return ev, nil
}

// ListEvents returns a page of events for a camera, newest first, with the
// total count for pagination.
func (s *PostgresStore) ListEvents(ctx context.Context, cameraID uuid.UUID, from, to *time.Time, limit, offset int) ([]models.ViolationEvent, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	baseWhere := "WHERE camera_id = $1"
	args := []interface{}{cameraID}
	argIdx := 2

	if from != nil {
		baseWhere += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *from)
		argIdx++
	}
	if to != nil {
		baseWhere += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *to)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM violation_events "+baseWhere, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, organization_id, camera_id, event_type, violation_type, severity,
		        confidence, bbox, thumbnail_key, acknowledged, created_at
		 FROM violation_events %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		baseWhere, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []models.ViolationEvent
	for rows.Next() {
		var ev models.ViolationEvent
		var bbox []byte
		if err := rows.Scan(&ev.ID, &ev.OrganizationID, &ev.CameraID, &ev.EventType,
			&ev.ViolationType, &ev.Severity, &ev.Confidence, &bbox,
			&ev.ThumbnailKey, &ev.Acknowledged, &ev.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		if len(bbox) > 0 {
			if err := json.Unmarshal(bbox, &ev.BBox); err != nil {
				return nil, 0, fmt.Errorf("parse bbox: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, total, rows.Err()
}

// AcknowledgeEvent marks an event as reviewed by an operator.
func (s *PostgresStore) AcknowledgeEvent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE violation_events SET acknowledged = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("acknowledge event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event not found")
	}
	return nil
}
