package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the engine's tables.  Seat numbers are unique per trip
// among pending and confirmed bookings through the generated active_seat
// column: cancelled and refunded rows hold NULL there and never collide.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS trips (
		id               CHAR(36)     NOT NULL PRIMARY KEY,
		park_id          VARCHAR(64)  NOT NULL,
		route_id         VARCHAR(64)  NOT NULL,
		service_date     DATE         NOT NULL,
		departure_time   CHAR(5)      NOT NULL,
		vehicle_id       VARCHAR(64)  NULL,
		driver_id        VARCHAR(64)  NULL,
		seat_count       INT          NOT NULL,
		confirmed_count  INT          NOT NULL DEFAULT 0,
		held_count       INT          NOT NULL DEFAULT 0,
		max_parcels      INT          NOT NULL DEFAULT 0,
		assigned_parcels INT          NOT NULL DEFAULT 0,
		status           VARCHAR(16)  NOT NULL,
		payout_status    VARCHAR(16)  NOT NULL DEFAULT 'pending',
		version          BIGINT UNSIGNED NOT NULL DEFAULT 0,
		created_at       DATETIME(6)  NOT NULL,
		updated_at       DATETIME(6)  NOT NULL,
		KEY idx_trips_date (service_date),
		CONSTRAINT chk_trip_seats CHECK (confirmed_count >= 0 AND held_count >= 0 AND confirmed_count + held_count <= seat_count)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id                  CHAR(36)     NOT NULL PRIMARY KEY,
		trip_id             CHAR(36)     NOT NULL,
		park_id             VARCHAR(64)  NOT NULL,
		passenger_name      VARCHAR(128) NOT NULL,
		passenger_phone     VARCHAR(32)  NOT NULL,
		kin_name            VARCHAR(128) NOT NULL DEFAULT '',
		kin_phone           VARCHAR(32)  NOT NULL DEFAULT '',
		kin_address         VARCHAR(255) NOT NULL DEFAULT '',
		seat_number         INT          NOT NULL,
		amount_paid         BIGINT       NOT NULL DEFAULT 0,
		payment_status      VARCHAR(16)  NOT NULL,
		payment_reference   VARCHAR(128) NULL,
		status              VARCHAR(16)  NOT NULL,
		cancellation_reason VARCHAR(255) NULL,
		checked_in          TINYINT(1)   NOT NULL DEFAULT 0,
		checked_in_at       DATETIME(6)  NULL,
		created_at          DATETIME(6)  NOT NULL,
		updated_at          DATETIME(6)  NOT NULL,
		active_seat         INT AS (CASE WHEN status IN ('pending','confirmed') THEN seat_number END) STORED,
		UNIQUE KEY uq_bookings_active_seat (trip_id, active_seat),
		KEY idx_bookings_trip (trip_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS holds (
		id          CHAR(36)    NOT NULL PRIMARY KEY,
		trip_id     CHAR(36)    NOT NULL,
		booking_id  CHAR(36)    NOT NULL,
		seat_number INT         NOT NULL,
		hold_token  CHAR(64)    NOT NULL,
		state       VARCHAR(16) NOT NULL,
		created_at  DATETIME(6) NOT NULL,
		expires_at  DATETIME(6) NOT NULL,
		closed_at   DATETIME(6) NULL,
		UNIQUE KEY uq_holds_booking (booking_id),
		UNIQUE KEY uq_holds_token (hold_token),
		KEY idx_holds_state_expiry (state, expires_at),
		KEY idx_holds_trip_expiry (trip_id, state, expires_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS parcels (
		id               CHAR(36)     NOT NULL PRIMARY KEY,
		park_id          VARCHAR(64)  NOT NULL,
		sender_name      VARCHAR(128) NOT NULL,
		receiver_name    VARCHAR(128) NOT NULL,
		fee              BIGINT       NOT NULL DEFAULT 0,
		status           VARCHAR(16)  NOT NULL,
		assigned_trip_id CHAR(36)     NULL,
		created_at       DATETIME(6)  NOT NULL,
		updated_at       DATETIME(6)  NOT NULL,
		KEY idx_parcels_trip (assigned_trip_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id          CHAR(36)    NOT NULL PRIMARY KEY,
		action      VARCHAR(64) NOT NULL,
		entity_type VARCHAR(32) NOT NULL,
		entity_id   VARCHAR(64) NOT NULL,
		user_id     VARCHAR(64) NOT NULL,
		park_id     VARCHAR(64) NOT NULL DEFAULT '',
		details     JSON        NULL,
		created_at  DATETIME(6) NOT NULL,
		KEY idx_audit_entity (entity_type, entity_id, created_at),
		KEY idx_audit_park (park_id, created_at),
		KEY idx_audit_user (user_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates any missing tables.  It is safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}
