package database

import (
	"database/sql"
	"fmt"

	"kptv-search/work/types"
)

// SearchRow is one candidate channel joined with the capacity of the server
// that carries it. RawName is the name as the provider published it, before
// normalization; country filtering runs against it.
type SearchRow struct {
	types.Credential
	StreamID       string
	RawName        string
	SearchKey      string
	StreamURL      string
	MaxConnections int
}

// SearchRows returns every channel whose normalized key contains the
// normalized term, restricted to valid servers with search enabled. Rows are
// ordered by how much longer the key is than the term, so exact matches sort
// ahead of channels that merely mention it.
func (db *DB) SearchRows(normTerm string) ([]SearchRow, error) {
	rows, err := db.Query(`
		SELECT c.address, c.username, c.password, c.stream_id,
		       c.name, c.search_key, c.stream_url, s.max_connections
		FROM channels c
		JOIN servers s ON s.address = c.address
		              AND s.username = c.username
		              AND s.password = c.password
		WHERE s.is_valid = 1
		  AND s.search_enabled = 1
		  AND c.search_key LIKE '%' || ? || '%'
		ORDER BY LENGTH(c.search_key) - LENGTH(?) ASC
	`, normTerm, normTerm)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	var out []SearchRow
	for rows.Next() {
		var r SearchRow
		err := rows.Scan(
			&r.Address, &r.Username, &r.Password, &r.StreamID,
			&r.RawName, &r.SearchKey, &r.StreamURL, &r.MaxConnections,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountChannels reports how many channels a single server currently carries.
func (db *DB) CountChannels(cred types.Credential) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM channels
		WHERE address = ? AND username = ? AND password = ?
	`, cred.Address, cred.Username, cred.Password).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count channels: %w", err)
	}
	return count, nil
}

// replaceChannelsTx swaps a server's entire channel set inside the caller's
// transaction. Passing nil simply clears it.
func replaceChannelsTx(tx *sql.Tx, cred types.Credential, channels []types.ChannelRecord) error {
	_, err := tx.Exec(`
		DELETE FROM channels
		WHERE address = ? AND username = ? AND password = ?
	`, cred.Address, cred.Username, cred.Password)
	if err != nil {
		return fmt.Errorf("failed to clear channels: %w", err)
	}

	if len(channels) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO channels (address, username, password, stream_id, name, search_key, stream_url)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare channel insert: %w", err)
	}
	defer stmt.Close()

	for _, ch := range channels {
		_, err := stmt.Exec(
			cred.Address, cred.Username, cred.Password,
			ch.StreamID, ch.Name, ch.SearchKey, ch.StreamURL,
		)
		if err != nil {
			return fmt.Errorf("failed to insert channel %s: %w", ch.StreamID, err)
		}
	}
	return nil
}
