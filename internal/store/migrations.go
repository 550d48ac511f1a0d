package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sales",
		SQL: `
			CREATE TABLE sales (
				id               TEXT PRIMARY KEY,
				transaction_key  TEXT NOT NULL,
				provider_sale_id TEXT NOT NULL DEFAULT '',
				visit_date       TEXT NOT NULL,
				buyer_name       TEXT NOT NULL,
				buyer_document   TEXT NOT NULL,
				buyer_email      TEXT NOT NULL,
				buyer_phone      TEXT NOT NULL,
				items            TEXT NOT NULL,
				total_cents      INTEGER NOT NULL,
				payment          TEXT,
				created_at       TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE UNIQUE INDEX idx_sales_transaction_key ON sales (transaction_key);
			CREATE INDEX idx_sales_visit_date ON sales (visit_date);
		`,
	},
	{
		Version: 2,
		Name:    "index sales by buyer document",
		SQL: `
			CREATE INDEX idx_sales_buyer_document ON sales (buyer_document);
		`,
	},
}
