package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{
		"labels", "visit_groups", "members",
		"visits", "visit_details", "visit_labels", "visit_members", "visit_photos",
		"operations", "schema_migrations",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestReadStatus(t *testing.T) {
	t.Run("fresh database", func(t *testing.T) {
		db := openTestDB(t)
		defer db.Close()

		st, err := ReadStatus(db)
		if err != nil {
			t.Fatalf("ReadStatus() error = %v", err)
		}
		if st.Initialized {
			t.Error("Initialized = true for a fresh database")
		}
		if st.Latest != 3 {
			t.Errorf("Latest = %d, want 3", st.Latest)
		}
		if !errors.Is(Check(db), ErrNoSchema) {
			t.Errorf("Check() error = %v, want ErrNoSchema", Check(db))
		}
	})

	t.Run("after migration", func(t *testing.T) {
		db := openTestDB(t)
		defer db.Close()

		if err := MigrateUp(db); err != nil {
			t.Fatalf("MigrateUp() failed: %v", err)
		}
		st, err := ReadStatus(db)
		if err != nil {
			t.Fatalf("ReadStatus() error = %v", err)
		}
		want := Status{Current: 3, Latest: 3, Initialized: true}
		if st != want {
			t.Errorf("ReadStatus() = %+v, want %+v", st, want)
		}
		if st.String() != "version 3, up to date" {
			t.Errorf("String() = %q", st.String())
		}
		if err := Check(db); err != nil {
			t.Errorf("Check() after migration returned error: %v", err)
		}
	})

	t.Run("behind", func(t *testing.T) {
		db := openTestDB(t)
		defer db.Close()

		m, err := newMigrate(db)
		if err != nil {
			t.Fatalf("newMigrate() error = %v", err)
		}
		if err := m.Migrate(2); err != nil {
			t.Fatalf("Migrate(2) error = %v", err)
		}
		st, err := ReadStatus(db)
		if err != nil {
			t.Fatalf("ReadStatus() error = %v", err)
		}
		if st.Behind() != 1 {
			t.Errorf("Behind() = %d, want 1", st.Behind())
		}
		if err := Check(db); err == nil {
			t.Error("Check() expected error for a database one migration behind")
		}
	})
}

func TestStatus_Err(t *testing.T) {
	tests := []struct {
		name    string
		st      Status
		wantErr bool
	}{
		{"up to date", Status{Current: 3, Latest: 3, Initialized: true}, false},
		{"uninitialized", Status{Latest: 3}, true},
		{"dirty", Status{Current: 3, Latest: 3, Dirty: true, Initialized: true}, true},
		{"ahead", Status{Current: 4, Latest: 3, Initialized: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.st.Err(); (err != nil) != tt.wantErr {
				t.Errorf("Err() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMigrateUp_BackfillsPhotoNames(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	m, err := newMigrate(db)
	if err != nil {
		t.Fatalf("newMigrate() error = %v", err)
	}
	if err := m.Migrate(2); err != nil {
		t.Fatalf("Migrate(2) error = %v", err)
	}

	stmts := []string{
		`INSERT INTO visits (id, timestamp_utc, latitude, longitude, integrity_algo,
			integrity_signature_base64, integrity_public_key_base64, integrity_payload_hash_hex,
			integrity_created_at_utc) VALUES ('v1', '2024-01-01T00:00:00Z', 0, 0, 'a', 's', 'p', 'h', '2024-01-01T00:00:00Z')`,
		`INSERT INTO visit_details (visit_id) VALUES ('v1')`,
		`INSERT INTO visit_photos (id, visit_id, position, path) VALUES ('p1', 'v1', 0, 'trips/2024/x.jpg')`,
		`INSERT INTO visit_photos (id, visit_id, position, path) VALUES ('p2', 'v1', 1, 'y.jpg')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("Exec(%q) failed: %v", s, err)
		}
	}

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	for id, want := range map[string]string{"p1": "x.jpg", "p2": "y.jpg"} {
		var name string
		if err := db.QueryRow("SELECT name FROM visit_photos WHERE id = ?", id).Scan(&name); err != nil {
			t.Fatalf("reading name of %s: %v", id, err)
		}
		if name != want {
			t.Errorf("name of %s = %q, want %q", id, name, want)
		}
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}
	if err := Check(db); err != nil {
		t.Errorf("Check() after double migration returned error: %v", err)
	}
}

func TestForeignKeyConstraints(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// Details without a visit
	_, err := db.Exec(`INSERT INTO visit_details (visit_id, title) VALUES ('nope', 'x')`)
	if err == nil {
		t.Error("Expected foreign key constraint violation, but insert succeeded")
	}
}

func TestSchema_CascadeFromVisit(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	stmts := []string{
		`INSERT INTO labels (id, name) VALUES ('l1', 'Cafe')`,
		`INSERT INTO visits (id, timestamp_utc, latitude, longitude, integrity_algo,
			integrity_signature_base64, integrity_public_key_base64, integrity_payload_hash_hex,
			integrity_created_at_utc) VALUES ('v1', '2024-01-01T00:00:00Z', 0, 0, 'a', 's', 'p', 'h', '2024-01-01T00:00:00Z')`,
		`INSERT INTO visit_details (visit_id) VALUES ('v1')`,
		`INSERT INTO visit_labels (visit_id, label_id, position) VALUES ('v1', 'l1', 0)`,
		`INSERT INTO visit_photos (id, visit_id, position, path) VALUES ('p1', 'v1', 0, 'a.jpg')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("Exec(%q) failed: %v", s, err)
		}
	}

	if _, err := db.Exec(`DELETE FROM visits WHERE id = 'v1'`); err != nil {
		t.Fatalf("deleting visit: %v", err)
	}

	for _, table := range []string{"visit_details", "visit_labels", "visit_photos"} {
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatalf("counting %s: %v", table, err)
		}
		if n != 0 {
			t.Errorf("%s has %d rows after visit delete, want 0", table, n)
		}
	}

	var labels int
	if err := db.QueryRow("SELECT COUNT(*) FROM labels").Scan(&labels); err != nil {
		t.Fatal(err)
	}
	if labels != 1 {
		t.Errorf("labels = %d, want 1 (taxa survive visit deletion)", labels)
	}
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Each connection to :memory: is its own database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	return db
}
