package database

import (
	"database/sql"
	"fmt"

	"kptv-search/work/types"
)

// UpsertUnknown inserts every credential not already present, in the
// unvalidated initial state (is_valid=0, last_checked=0). Known identities
// are left untouched, which is what makes repeated imports idempotent.
//
// Returns the number of newly inserted servers.
func (db *DB) UpsertUnknown(creds []types.Credential) (int, error) {
	if len(creds) == 0 {
		return 0, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO servers (address, username, password, last_checked, is_valid)
		VALUES (?, ?, ?, 0, 0)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, c := range creds {
		res, err := stmt.Exec(c.Address, c.Username, c.Password)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert %s: %w", c.Redacted(), err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit upsert: %w", err)
	}
	return inserted, nil
}

// MarkValid records a successful validation: validity flag, timestamp and
// capacity are updated and the server's channel set is replaced wholesale
// with the given rows, all in one transaction. Stale entries never survive a
// catalog change.
func (db *DB) MarkValid(cred types.Credential, now int64, maxConnections int, channels []types.ChannelRecord) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin mark-valid: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO servers (address, username, password, last_checked, is_valid, max_connections)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(address, username, password) DO UPDATE SET
			last_checked = excluded.last_checked,
			is_valid = 1,
			max_connections = excluded.max_connections
	`, cred.Address, cred.Username, cred.Password, now, maxConnections)
	if err != nil {
		return fmt.Errorf("failed to update server row: %w", err)
	}

	if err := replaceChannelsTx(tx, cred, channels); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mark-valid: %w", err)
	}
	return nil
}

// UpsertPlaylistServer stores a synthetic server backed by a playlist file
// rather than a portal. Playlist servers are always valid, carry no account
// capacity, and get their channel set replaced on every refresh.
func (db *DB) UpsertPlaylistServer(cred types.Credential, now int64, channels []types.ChannelRecord) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin playlist upsert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO servers (address, username, password, last_checked, is_valid, max_connections)
		VALUES (?, ?, ?, ?, 1, 0)
		ON CONFLICT(address, username, password) DO UPDATE SET
			last_checked = excluded.last_checked,
			is_valid = 1,
			max_connections = 0
	`, cred.Address, cred.Username, cred.Password, now)
	if err != nil {
		return fmt.Errorf("failed to upsert playlist server: %w", err)
	}

	if err := replaceChannelsTx(tx, cred, channels); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit playlist upsert: %w", err)
	}
	return nil
}

// MarkInvalid records a failed validation: the validity flag and timestamp
// are updated and the server's channel set is cleared, in one transaction.
func (db *DB) MarkInvalid(cred types.Credential, now int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin mark-invalid: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE servers SET last_checked = ?, is_valid = 0
		WHERE address = ? AND username = ? AND password = ?
	`, now, cred.Address, cred.Username, cred.Password)
	if err != nil {
		return fmt.Errorf("failed to update server row: %w", err)
	}

	if err := replaceChannelsTx(tx, cred, nil); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mark-invalid: %w", err)
	}
	return nil
}

// ListDue returns servers eligible for validation: never checked, or valid
// but checked before the threshold. A negative threshold means age does not
// matter (every valid server plus every never-checked one is due). Results
// come back oldest-first, capped at limit, with the given username excluded
// so playlist sentinels are never swept.
func (db *DB) ListDue(thresholdUnix int64, excludeUsername string, limit int) ([]types.Credential, error) {
	var rows *sql.Rows
	var err error

	if thresholdUnix < 0 {
		rows, err = db.Query(`
			SELECT address, username, password FROM servers
			WHERE username <> ?
			  AND ((is_valid = 0 AND last_checked = 0) OR is_valid = 1)
			ORDER BY last_checked ASC
			LIMIT ?
		`, excludeUsername, limit)
	} else {
		rows, err = db.Query(`
			SELECT address, username, password FROM servers
			WHERE username <> ?
			  AND ((is_valid = 0 AND last_checked = 0)
			       OR (is_valid = 1 AND last_checked < ?))
			ORDER BY last_checked ASC
			LIMIT ?
		`, excludeUsername, thresholdUnix, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list due servers: %w", err)
	}
	defer rows.Close()

	var due []types.Credential
	for rows.Next() {
		var c types.Credential
		if err := rows.Scan(&c.Address, &c.Username, &c.Password); err != nil {
			return nil, fmt.Errorf("failed to scan due server: %w", err)
		}
		due = append(due, c)
	}
	return due, rows.Err()
}

// Delete removes a server and, via the cascading foreign key, all of its
// channels.
func (db *DB) Delete(cred types.Credential) error {
	_, err := db.Exec(`
		DELETE FROM servers
		WHERE address = ? AND username = ? AND password = ?
	`, cred.Address, cred.Username, cred.Password)
	if err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}
	return nil
}

// SetSearchEnabled toggles whether a server's channels appear in search
// results. Independent of validity: a hidden server keeps refreshing.
func (db *DB) SetSearchEnabled(cred types.Credential, enabled bool) error {
	val := 0
	if enabled {
		val = 1
	}
	_, err := db.Exec(`
		UPDATE servers SET search_enabled = ?
		WHERE address = ? AND username = ? AND password = ?
	`, val, cred.Address, cred.Username, cred.Password)
	if err != nil {
		return fmt.Errorf("failed to set search_enabled: %w", err)
	}
	return nil
}

// GetServer loads a single server record, or nil if unknown.
func (db *DB) GetServer(cred types.Credential) (*types.ServerRecord, error) {
	var rec types.ServerRecord
	var isValid, searchEnabled int
	err := db.QueryRow(`
		SELECT address, username, password, last_checked, is_valid, max_connections, search_enabled
		FROM servers
		WHERE address = ? AND username = ? AND password = ?
	`, cred.Address, cred.Username, cred.Password).Scan(
		&rec.Address, &rec.Username, &rec.Password,
		&rec.LastChecked, &isValid, &rec.MaxConnections, &searchEnabled,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server: %w", err)
	}
	rec.IsValid = isValid != 0
	rec.SearchEnabled = searchEnabled != 0
	return &rec, nil
}

// ListServers returns all servers with their channel counts, most recently
// checked first, for the admin surface.
func (db *DB) ListServers(limit int) ([]types.ServerRecord, error) {
	rows, err := db.Query(`
		SELECT s.address, s.username, s.password, s.last_checked, s.is_valid,
		       s.max_connections, s.search_enabled, COUNT(c.stream_id)
		FROM servers s
		LEFT JOIN channels c ON c.address = s.address
		                    AND c.username = s.username
		                    AND c.password = s.password
		GROUP BY s.address, s.username, s.password
		ORDER BY s.last_checked DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var servers []types.ServerRecord
	for rows.Next() {
		var rec types.ServerRecord
		var isValid, searchEnabled int
		err := rows.Scan(
			&rec.Address, &rec.Username, &rec.Password,
			&rec.LastChecked, &isValid, &rec.MaxConnections, &searchEnabled,
			&rec.ChannelCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server row: %w", err)
		}
		rec.IsValid = isValid != 0
		rec.SearchEnabled = searchEnabled != 0
		servers = append(servers, rec)
	}
	return servers, rows.Err()
}

// CountValidServers reports how many servers are currently valid; the
// interactive path uses this to decide whether a first sweep is needed.
func (db *DB) CountValidServers() (int, error) {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM servers WHERE is_valid = 1").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count valid servers: %w", err)
	}
	return count, nil
}
