package db

const demoSchema = `
CREATE TABLE IF NOT EXISTS users (
    id    INTEGER PRIMARY KEY,
    name  TEXT NOT NULL,
    age   INTEGER,
    email TEXT
);

CREATE TABLE IF NOT EXISTS orders (
    id           INTEGER PRIMARY KEY,
    user_id      INTEGER,
    product_name TEXT NOT NULL,
    price        REAL,
    order_date   TEXT,
    FOREIGN KEY (user_id) REFERENCES users (id)
);
`

// Seed creates the demo tables and loads the sample rows. Re-running it is
// safe: rows are replaced, not duplicated.
func (db *DB) Seed() error {
	if _, err := db.Exec(demoSchema); err != nil {
		return err
	}

	users := []struct {
		id    int
		name  string
		age   int
		email string
	}{
		{1, "Alice Chen", 25, "alice@example.com"},
		{2, "Bob Martin", 30, "bob@example.com"},
		{3, "Carol Diaz", 35, "carol@example.com"},
	}
	for _, u := range users {
		if _, err := db.Exec(`INSERT OR REPLACE INTO users VALUES (?, ?, ?, ?)`,
			u.id, u.name, u.age, u.email); err != nil {
			return err
		}
	}

	orders := []struct {
		id, userID int
		product    string
		price      float64
		date       string
	}{
		{1, 1, "Laptop", 6999.99, "2025-04-01"},
		{2, 1, "Phone", 4999.99, "2025-04-15"},
		{3, 2, "Tablet", 3999.99, "2025-04-20"},
		{4, 3, "Headphones", 999.99, "2025-05-01"},
	}
	for _, o := range orders {
		if _, err := db.Exec(`INSERT OR REPLACE INTO orders VALUES (?, ?, ?, ?, ?)`,
			o.id, o.userID, o.product, o.price, o.date); err != nil {
			return err
		}
	}
	return nil
}
