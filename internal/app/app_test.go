package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"checkin/internal/checkin"
	"checkin/internal/config"
	"checkin/internal/testutil"
)

func testConfig(t *testing.T, vaultRoot string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig(dir)
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.AppVersion = "test"
	if vaultRoot != "" {
		cfg.Vaults = []config.VaultConfig{{Type: "filesystem", Name: "shared", FSVaultRoot: vaultRoot}}
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, operation string) *App {
	t.Helper()
	a, err := newApp(cfg, operation, io.Discard, testutil.FixedClock(), testutil.NewStubIDGenerator())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestApp_ExportToVaultAndImport(t *testing.T) {
	ctx := context.Background()
	vaultRoot := t.TempDir()

	src := newTestApp(t, testConfig(t, vaultRoot), "Export")
	testutil.SeedTaxonomy(t, src.repo)
	testutil.SeedVisits(t, src.repo, 3)

	res, err := src.Export(ctx, true)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Vault != "shared" {
		t.Errorf("Vault = %q, want %q", res.Vault, "shared")
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Errorf("local archive missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(vaultRoot, "archives", res.Filename)); err != nil {
		t.Errorf("archive not shipped to vault: %v", err)
	}

	name, infos, err := src.ListVaultArchives(ctx, "")
	if err != nil || name != "shared" || len(infos) != 1 || infos[0].Name != res.Filename {
		t.Errorf("ListVaultArchives() = %q, %+v, %v", name, infos, err)
	}

	dst := newTestApp(t, testConfig(t, vaultRoot), "ImportFromVault")
	restored, err := dst.ImportFromVault(ctx, "shared", "", checkin.RestoreOptions{})
	if err != nil {
		t.Fatalf("ImportFromVault() error = %v", err)
	}
	if restored.VisitsImported != 3 {
		t.Errorf("VisitsImported = %d, want 3", restored.VisitsImported)
	}
	visits, err := dst.Visits(ctx, checkin.Filter{LabelID: "label-work"})
	if err != nil || len(visits) != 3 {
		t.Errorf("Visits() = %d, %v; want 3", len(visits), err)
	}
}

func TestApp_ImportRecordsHistory(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "")

	src := newTestApp(t, cfg, "Export")
	testutil.SeedTaxonomy(t, src.repo)
	testutil.SeedVisits(t, src.repo, 1)
	res, err := src.Export(ctx, false)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Vault != "" {
		t.Errorf("Vault = %q, want none", res.Vault)
	}

	dst := newTestApp(t, testConfig(t, ""), "Import")
	if _, err := dst.Import(ctx, res.Path, checkin.RestoreOptions{}); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	ops, err := dst.History(ctx, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(ops) != 1 || ops[0].Operation != "Import" || ops[0].Parameters != res.Path || ops[0].Status != StatusRunning {
		t.Errorf("History() = %+v", ops)
	}

	if err := dst.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestApp_ExportWithoutVault(t *testing.T) {
	a := newTestApp(t, testConfig(t, ""), "Export")

	_, err := a.Export(context.Background(), true)
	if err == nil || !strings.Contains(err.Error(), "no vaults configured") {
		t.Fatalf("Export() error = %v, want no vaults configured", err)
	}
	if a.op.Status != StatusError {
		t.Errorf("operation status = %q, want %q", a.op.Status, StatusError)
	}
}

func TestApp_ImportFailureMarksOperation(t *testing.T) {
	a := newTestApp(t, testConfig(t, ""), "Import")
	bogus := filepath.Join(t.TempDir(), "bogus.zip")
	if err := os.WriteFile(bogus, []byte("not an archive"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := a.Import(context.Background(), bogus, checkin.RestoreOptions{}); err == nil {
		t.Fatal("Import() expected error")
	}
	if a.op.Status != StatusError {
		t.Errorf("operation status = %q, want %q", a.op.Status, StatusError)
	}
}

func TestApp_EditVisit(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t, ""), "EditVisit")
	testutil.SeedTaxonomy(t, a.repo)
	testutil.SeedVisits(t, a.repo, 1)
	id := testutil.VisitID(0)

	photo := filepath.Join(t.TempDir(), "IMG_0001.JPG")
	if err := os.WriteFile(photo, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	title := "Renamed"
	if err := a.EditVisit(ctx, id, VisitEdit{Title: &title, AddPhotos: []string{photo}}); err != nil {
		t.Fatalf("EditVisit() error = %v", err)
	}
	rec, err := a.Visit(ctx, id)
	if err != nil || rec == nil {
		t.Fatalf("Visit() = %v, %v", rec, err)
	}
	if rec.Details.TitleOrEmpty() != "Renamed" {
		t.Errorf("Title = %q, want Renamed", rec.Details.TitleOrEmpty())
	}
	// The stub generator hands out id-1 for the photo name, before the
	// repository takes id-2 for the photo row.
	if !slices.Equal(rec.Details.PhotoPaths, []string{"id-1.jpg"}) {
		t.Fatalf("PhotoPaths = %v, want [id-1.jpg]", rec.Details.PhotoPaths)
	}
	if !a.assets.Exists("id-1.jpg") {
		t.Error("added photo not in the store")
	}

	empty := ""
	if err := a.EditVisit(ctx, id, VisitEdit{Comment: &empty, RemovePhotos: []string{"id-1.jpg"}}); err != nil {
		t.Fatalf("EditVisit() remove error = %v", err)
	}
	rec, _ = a.Visit(ctx, id)
	if len(rec.Details.PhotoPaths) != 0 || rec.Details.Comment != nil {
		t.Errorf("details = %+v, want no photos and no comment", rec.Details)
	}
	if a.assets.Exists("id-1.jpg") {
		t.Error("removed photo still in the store")
	}

	err = a.EditVisit(ctx, "missing", VisitEdit{AddPhotos: []string{photo}})
	if !errors.Is(err, checkin.ErrVisitNotFound) {
		t.Errorf("EditVisit(missing) error = %v, want ErrVisitNotFound", err)
	}
	entries, err := os.ReadDir(a.assets.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("photo of a failed edit left in the store: %d files", len(entries))
	}
}

func TestDetachPhotos(t *testing.T) {
	tests := []struct {
		name    string
		paths   []string
		remove  []string
		want    []string
		wantErr bool
	}{
		{name: "nothing to remove", paths: []string{"a.jpg"}, want: []string{"a.jpg"}},
		{name: "by name", paths: []string{"a.jpg", "b.jpg"}, remove: []string{"a.jpg"}, want: []string{"b.jpg"}},
		{name: "by base name of path", paths: []string{"photos/a.jpg", "b.jpg"}, remove: []string{"a.jpg"}, want: []string{"b.jpg"}},
		{name: "not attached", paths: []string{"a.jpg"}, remove: []string{"z.jpg"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := detachPhotos(tt.paths, tt.remove)
			if (err != nil) != tt.wantErr {
				t.Fatalf("detachPhotos() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !slices.Equal(got, tt.want) {
				t.Errorf("detachPhotos() = %v, want %v", got, tt.want)
			}
		})
	}
}
