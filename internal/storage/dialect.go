package storage

import "fmt"

// dialect holds the statements that differ between SQL backends.
// Both backends use "?" placeholders.
type dialect struct {
	name       string
	schema     func(queues, items string) []string
	upsertItem func(items string) string
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: func(queues, items string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				qid INTEGER PRIMARY KEY AUTOINCREMENT,
				config_name TEXT NOT NULL,
				channel_id TEXT NOT NULL,
				data TEXT NOT NULL
			)`, queues),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				source_key TEXT NOT NULL,
				item_id INTEGER NOT NULL,
				payload TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				PRIMARY KEY (source_key, item_id)
			)`, items),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_created ON %s(created_at)`, items, items),
		}
	},
	upsertItem: func(items string) string {
		return fmt.Sprintf(`INSERT INTO %s(source_key, item_id, payload, created_at) VALUES(?,?,?,?)
			ON CONFLICT(source_key, item_id) DO UPDATE SET payload=excluded.payload`, items)
	},
}

var mysqlDialect = dialect{
	name: "mysql",
	schema: func(queues, items string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				qid BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
				config_name VARCHAR(64) NOT NULL,
				channel_id VARCHAR(32) NOT NULL,
				data LONGTEXT NOT NULL
			) DEFAULT CHARSET=utf8mb4`, queues),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				source_key VARCHAR(32) NOT NULL,
				item_id BIGINT NOT NULL,
				payload LONGTEXT NOT NULL,
				created_at BIGINT NOT NULL,
				PRIMARY KEY (source_key, item_id),
				KEY %s_created (created_at)
			) DEFAULT CHARSET=utf8mb4`, items, items),
		}
	},
	upsertItem: func(items string) string {
		return fmt.Sprintf(`INSERT INTO %s(source_key, item_id, payload, created_at) VALUES(?,?,?,?)
			ON DUPLICATE KEY UPDATE payload=VALUES(payload)`, items)
	},
}
