// internal/adapter/storage/peer_store.go

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"tribe/internal/domain/geo"
	"tribe/internal/domain/proximity"
)

// PeerStoreConfig contains configuration for the peer store
type PeerStoreConfig struct {
	MaxPeers int
}

// PeerStore implements peer lookup and position storage on PostGIS
type PeerStore struct {
	db     *pgxpool.Pool
	config PeerStoreConfig
}

// NewPeerStore creates a new peer store
func NewPeerStore(db *pgxpool.Pool, config PeerStoreConfig) *PeerStore {
	if config.MaxPeers <= 0 {
		config.MaxPeers = 200
	}

	return &PeerStore{
		db:     db,
		config: config,
	}
}

const findPeersQuery = `
	WITH viewer AS (
		SELECT ST_MakePoint($1, $2)::geography AS center
	)
	SELECT
		p.user_id,
		ST_X(p.location::geometry) AS lng, ST_Y(p.location::geometry) AS lat,
		ST_Distance(p.location, v.center) AS distance,
		COALESCE(u.is_online, false),
		COALESCE(u.last_active_at, p.updated_at),
		json_agg(json_build_object(
			'id', i.id,
			'name', i.name,
			'icon', COALESCE(i.icon, ''),
			'proficiency', COALESCE(ui.proficiency, 0)
		) ORDER BY i.id) AS shared
	FROM user_positions p
	CROSS JOIN viewer v
	JOIN user_interests ui ON ui.user_id = p.user_id AND ui.interest_id = ANY($4)
	JOIN interests i ON i.id = ui.interest_id
	LEFT JOIN users u ON u.id = p.user_id
	WHERE p.user_id <> $5
	AND ST_DWithin(p.location, v.center, $3)
	GROUP BY p.user_id, p.location, v.center, u.is_online, u.last_active_at, p.updated_at
	ORDER BY distance ASC
	LIMIT $6
`

// FindPeers returns users within radiusMeters of center sharing at least
// one of requiredTagIDs. Only the shared interests are returned per peer.
func (s *PeerStore) FindPeers(
	ctx context.Context,
	center geo.Coordinate,
	radiusMeters float64,
	requiredTagIDs []string,
	excludeUserID string,
) ([]proximity.Peer, error) {
	rows, err := s.db.Query(ctx, findPeersQuery,
		center.Longitude,
		center.Latitude,
		radiusMeters,
		requiredTagIDs,
		excludeUserID,
		s.config.MaxPeers,
	)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var peers []proximity.Peer
	for rows.Next() {
		var p proximity.Peer
		var sharedJSON []byte

		err := rows.Scan(
			&p.ID,
			&p.DisplayLocation.Longitude,
			&p.DisplayLocation.Latitude,
			&p.DistanceMeters,
			&p.IsOnline,
			&p.LastActiveAt,
			&sharedJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning peer: %w", err)
		}

		p.SharedInterests, err = decodeSharedInterests(sharedJSON)
		if err != nil {
			return nil, fmt.Errorf("error decoding interests of %s: %w", p.ID, err)
		}

		peers = append(peers, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating peers: %w", err)
	}

	return peers, nil
}

// ViewerInterests returns the interests declared by a user
func (s *PeerStore) ViewerInterests(ctx context.Context, userID string) ([]proximity.Interest, error) {
	query := `
		SELECT i.id, i.name, COALESCE(i.icon, '')
		FROM user_interests ui
		JOIN interests i ON i.id = ui.interest_id
		WHERE ui.user_id = $1
		ORDER BY i.name
	`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var interests []proximity.Interest
	for rows.Next() {
		var in proximity.Interest
		if err := rows.Scan(&in.ID, &in.Name, &in.Icon); err != nil {
			return nil, fmt.Errorf("error scanning interest: %w", err)
		}
		interests = append(interests, in)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating interests: %w", err)
	}

	return interests, nil
}

// UpsertUserPosition stores the user's current location and marks them
// active. An older capture never overwrites a newer one.
func (s *PeerStore) UpsertUserPosition(
	ctx context.Context,
	userID string,
	coordinate geo.Coordinate,
	capturedAt time.Time,
) error {
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO user_positions (user_id, location, captured_at, updated_at)
		VALUES ($1, ST_MakePoint($2, $3)::geography, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET
			location = EXCLUDED.location,
			captured_at = EXCLUDED.captured_at,
			updated_at = NOW()
		WHERE user_positions.captured_at <= EXCLUDED.captured_at
	`, userID, coordinate.Longitude, coordinate.Latitude, capturedAt)
	batch.Queue(`
		UPDATE users
		SET is_online = true, last_active_at = GREATEST(COALESCE(last_active_at, $2), $2)
		WHERE id = $1
	`, userID, capturedAt)

	br := s.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("error upserting position of %s: %w", userID, err)
		}
	}

	return nil
}

// decodeSharedInterests parses the json_agg column of findPeersQuery
func decodeSharedInterests(raw []byte) ([]proximity.SharedInterest, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var shared []proximity.SharedInterest
	if err := json.Unmarshal(raw, &shared); err != nil {
		return nil, err
	}

	out := shared[:0]
	for _, si := range shared {
		if si.ID == "" {
			continue
		}
		out = append(out, si)
	}
	return out, nil
}
