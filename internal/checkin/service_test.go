package checkin_test

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"checkin/internal/archive"
	"checkin/internal/assets"
	"checkin/internal/checkin"
	"checkin/internal/database"
	"checkin/internal/testutil"
)

type serviceFixture struct {
	svc      *checkin.Service
	repo     *database.SQLiteRepository
	store    *assets.Store
	notifier *testutil.RecordingNotifier
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	store := testutil.NewTestStore(t)
	repo := testutil.NewTestRepository(t, store)
	notifier := &testutil.RecordingNotifier{}
	writer := archive.NewWriter("1.2.3", testutil.FixedClock(), nil, 2)
	reader := archive.NewReader(0, nil)
	return &serviceFixture{
		svc:      checkin.NewService(repo, store, writer, reader, notifier, nil, checkin.DefaultBatchPolicy()),
		repo:     repo,
		store:    store,
		notifier: notifier,
	}
}

// seed fills the fixture with taxonomy, n plain visits and one visit with
// two photos, one of which is missing from the store.
func (f *serviceFixture) seed(t *testing.T, n int) {
	t.Helper()
	ctx := context.Background()
	testutil.SeedTaxonomy(t, f.repo)
	testutil.SeedVisits(t, f.repo, n)

	if _, err := f.store.Put("beach.jpg", strings.NewReader("jpeg bytes")); err != nil {
		t.Fatal(err)
	}
	rec := testutil.NewRecord(n)
	rec.Details.PhotoPaths = []string{"gone.jpg", "beach.jpg"}
	rec.Details.LabelIDs = []string{"label-food", "label-work"}
	rec.Details.Comment = checkin.Ptr("sunny")
	if err := f.repo.Create(ctx, &rec.Visit, &rec.Details, true); err != nil {
		t.Fatal(err)
	}
}

func TestService_ExportRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newServiceFixture(t)
	src.seed(t, 4)

	res, err := src.svc.Export(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.VisitCount != 5 {
		t.Errorf("VisitCount = %d, want 5", res.VisitCount)
	}
	if res.PhotoCount != 1 || !slices.Equal(res.MissingPhotos, []string{"gone.jpg"}) {
		t.Errorf("PhotoCount = %d, MissingPhotos = %v; want 1, [gone.jpg]", res.PhotoCount, res.MissingPhotos)
	}

	dst := newServiceFixture(t)
	restored, err := dst.svc.Restore(ctx, res.Path, checkin.RestoreOptions{})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.VisitsImported != 5 || restored.VisitsFailed != 0 {
		t.Errorf("imported/failed = %d/%d, want 5/0", restored.VisitsImported, restored.VisitsFailed)
	}
	if restored.Manifest.AppVersion != "1.2.3" || restored.Manifest.PhotoCount != 1 {
		t.Errorf("Manifest = %+v", restored.Manifest)
	}
	if restored.PhotosRestored != 1 {
		t.Errorf("PhotosRestored = %d, want 1", restored.PhotosRestored)
	}

	want, err := src.repo.FetchAll(ctx, checkin.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := dst.repo.FetchAll(ctx, checkin.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("restored %d visits, want %d", len(got), len(want))
	}
	for i := range want {
		assertSameRecord(t, got[i], want[i])
	}

	for _, kind := range checkin.TaxonKinds {
		a, _ := src.repo.ListTaxa(ctx, kind)
		b, _ := dst.repo.ListTaxa(ctx, kind)
		if len(a) != len(b) {
			t.Errorf("%s: %d restored, want %d", kind, len(b), len(a))
			continue
		}
		for i := range a {
			if *a[i] != *b[i] {
				t.Errorf("%s[%d] = %+v, want %+v", kind, i, *b[i], *a[i])
			}
		}
	}

	if !dst.store.Exists("beach.jpg") {
		t.Error("beach.jpg not restored into the photo store")
	}
	if dst.store.Exists("gone.jpg") {
		t.Error("gone.jpg appeared out of nowhere")
	}
	if dst.notifier.Count(checkin.EventVisitsChanged) != 1 || dst.notifier.Count(checkin.EventTaxonomyChanged) != 1 {
		t.Errorf("events = %v, want one of each", dst.notifier.Events())
	}
}

func assertSameRecord(t *testing.T, got, want *checkin.Record) {
	t.Helper()
	gv, wv := got.Visit, want.Visit
	if gv.ID != wv.ID || !gv.Timestamp.Equal(wv.Timestamp) || gv.Latitude != wv.Latitude || gv.Longitude != wv.Longitude {
		t.Errorf("visit = %+v, want %+v", gv, wv)
	}
	gi, wi := gv.Integrity, wv.Integrity
	if gi.Algorithm != wi.Algorithm || gi.SignatureBase64 != wi.SignatureBase64 ||
		gi.PublicKeyBase64 != wi.PublicKeyBase64 || gi.PayloadHashHex != wi.PayloadHashHex ||
		!gi.CreatedAt.Equal(wi.CreatedAt) {
		t.Errorf("%s integrity = %+v, want %+v", gv.ID, gi, wi)
	}
	gd, wd := got.Details, want.Details
	if gd.TitleOrEmpty() != wd.TitleOrEmpty() {
		t.Errorf("%s title = %q, want %q", gv.ID, gd.TitleOrEmpty(), wd.TitleOrEmpty())
	}
	if !slices.Equal(gd.LabelIDs, wd.LabelIDs) || !slices.Equal(gd.MemberIDs, wd.MemberIDs) {
		t.Errorf("%s relations = %v/%v, want %v/%v", gv.ID, gd.LabelIDs, gd.MemberIDs, wd.LabelIDs, wd.MemberIDs)
	}
	if !slices.Equal(gd.PhotoPaths, wd.PhotoPaths) {
		t.Errorf("%s photos = %v, want %v", gv.ID, gd.PhotoPaths, wd.PhotoPaths)
	}
}

func TestService_RestoreRejectsBadArchives(t *testing.T) {
	tests := []struct {
		name      string
		files     map[string]string
		wantState checkin.RestoreState
		check     func(t *testing.T, err error)
	}{
		{
			name: "unsupported version",
			files: map[string]string{
				"manifest.json": `{"version":"2.0","appVersion":"9","backupDate":"2024-01-01T00:00:00Z"}`,
				"visits.json":   `[]`,
			},
			wantState: checkin.StateManifestValidating,
			check: func(t *testing.T, err error) {
				var uv *archive.UnsupportedVersionError
				if !errors.As(err, &uv) || uv.Actual != "2.0" {
					t.Errorf("error = %v, want UnsupportedVersionError{2.0}", err)
				}
			},
		},
		{
			name:      "no manifest",
			files:     map[string]string{"visits.json": `[]`},
			wantState: checkin.StateRootLocating,
			check: func(t *testing.T, err error) {
				var ia *archive.InvalidArchiveError
				if !errors.As(err, &ia) {
					t.Errorf("error = %v, want InvalidArchiveError", err)
				}
			},
		},
		{
			name: "missing taxonomy document",
			files: map[string]string{
				"manifest.json": `{"version":"1.0","appVersion":"1","backupDate":"2024-01-01T00:00:00Z"}`,
				"visits.json":   `[]`,
				"labels.json":   `[]`,
			},
			wantState: checkin.StateDecoding,
			check: func(t *testing.T, err error) {
				var ia *archive.InvalidArchiveError
				if !errors.As(err, &ia) {
					t.Errorf("error = %v, want InvalidArchiveError", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newServiceFixture(t)
			testutil.SeedTaxonomy(t, f.repo)
			testutil.SeedVisits(t, f.repo, 2)

			var states []checkin.RestoreState
			_, err := f.svc.Restore(ctx, buildZip(t, tt.files), checkin.RestoreOptions{
				OnState: func(s checkin.RestoreState) { states = append(states, s) },
			})
			if err == nil {
				t.Fatal("Restore() expected error")
			}
			tt.check(t, err)

			if n, _ := f.repo.CountVisits(ctx); n != 2 {
				t.Errorf("CountVisits() = %d after rejected restore, want 2", n)
			}
			if len(states) < 2 || states[len(states)-1] != checkin.StateFailed || states[len(states)-2] != tt.wantState {
				t.Errorf("states = %v, want failure after %v", states, tt.wantState)
			}
			for _, s := range states {
				if s.Mutating() {
					t.Errorf("reached mutating state %v", s)
				}
			}
			if len(f.notifier.Events()) != 0 {
				t.Errorf("events = %v, want none", f.notifier.Events())
			}
		})
	}
}

func TestService_RestoreStateSequence(t *testing.T) {
	ctx := context.Background()
	src := newServiceFixture(t)
	src.seed(t, 1)
	res, err := src.svc.Export(ctx, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	dst := newServiceFixture(t)
	var states []checkin.RestoreState
	if _, err := dst.svc.Restore(ctx, res.Path, checkin.RestoreOptions{
		OnState: func(s checkin.RestoreState) { states = append(states, s) },
	}); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	want := []checkin.RestoreState{
		checkin.StateExtracting,
		checkin.StateRootLocating,
		checkin.StateManifestValidating,
		checkin.StateDecoding,
		checkin.StateTaxonomyImporting,
		checkin.StateContextRefreshing,
		checkin.StateVisitImporting,
		checkin.StatePhotoRestoring,
		checkin.StateNotifyingObservers,
		checkin.StateDone,
	}
	if !slices.Equal(states, want) {
		t.Errorf("states = %v\nwant %v", states, want)
	}
}

func TestService_RestoreNestedRoot(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	path := buildZip(t, map[string]string{
		"export/manifest.json": `{"version":"1.0","appVersion":"1","backupDate":727012800,"visitCount":1}`,
		"export/visits.json": `[{"id":"v-legacy","timestampUTC":727012800,"latitude":1,"longitude":2,
			"integrityAlgo":"ES256","integritySignatureBase64":"c2ln","integrityPublicKeyBase64":"a2V5",
			"integrityPayloadHashHex":"ab","integrityCreatedAtUTC":727012801,
			"labelIds":["l1"],"memberIds":[],"photoPaths":["p.jpg"]}]`,
		"export/labels.json":   `[{"id":"l1","name":"Legacy"}]`,
		"export/groups.json":   `[]`,
		"export/members.json":  `[]`,
		"export/photos/p.jpg":  "img",
		"__MACOSX/ignored.txt": "x",
	})

	res, err := f.svc.Restore(ctx, path, checkin.RestoreOptions{})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if res.VisitsImported != 1 || res.PhotosRestored != 1 {
		t.Errorf("imported = %d, photos = %d; want 1, 1", res.VisitsImported, res.PhotosRestored)
	}
	rec, err := f.repo.Get(ctx, "v-legacy")
	if err != nil || rec == nil {
		t.Fatalf("Get() = %v, %v", rec, err)
	}
	if got := rec.Visit.Timestamp.Format("2006-01-02T15:04:05Z"); got != "2024-01-15T12:00:00Z" {
		t.Errorf("Timestamp = %s, want 2024-01-15T12:00:00Z", got)
	}
	if !slices.Equal(rec.Details.LabelIDs, []string{"l1"}) {
		t.Errorf("LabelIDs = %v, want [l1]", rec.Details.LabelIDs)
	}
}

func TestService_RestoreHonorsCancelledContext(t *testing.T) {
	src := newServiceFixture(t)
	src.seed(t, 1)
	res, err := src.svc.Export(context.Background(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	dst := newServiceFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := dst.svc.Restore(ctx, res.Path, checkin.RestoreOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Restore() error = %v, want context.Canceled", err)
	}
	if n, _ := dst.repo.CountVisits(context.Background()); n != 0 {
		t.Errorf("CountVisits() = %d, want 0", n)
	}
}

func TestService_Maintenance(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.seed(t, 3)
	id := testutil.VisitID(3)

	t.Run("edit", func(t *testing.T) {
		err := f.svc.EditVisit(ctx, id, func(d *checkin.VisitDetails) error {
			d.Title = checkin.Ptr("Beach day")
			d.PhotoPaths = []string{"gone.jpg"}
			return nil
		})
		if err != nil {
			t.Fatalf("EditVisit() error = %v", err)
		}
		rec, _ := f.svc.Visit(ctx, id)
		if rec.Details.TitleOrEmpty() != "Beach day" || !slices.Equal(rec.Details.PhotoPaths, []string{"gone.jpg"}) {
			t.Errorf("details = %+v", rec.Details)
		}
		if f.store.Exists("beach.jpg") {
			t.Error("detached photo file still in the store")
		}
	})

	t.Run("edit unknown", func(t *testing.T) {
		err := f.svc.EditVisit(ctx, "nope", func(*checkin.VisitDetails) error { return nil })
		if !errors.Is(err, checkin.ErrVisitNotFound) {
			t.Errorf("EditVisit() error = %v, want ErrVisitNotFound", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := f.svc.DeleteVisit(ctx, testutil.VisitID(0)); err != nil {
			t.Fatalf("DeleteVisit() error = %v", err)
		}
		if rec, _ := f.svc.Visit(ctx, testutil.VisitID(0)); rec != nil {
			t.Error("visit still present after delete")
		}
	})

	t.Run("purge", func(t *testing.T) {
		n, err := f.svc.PurgeVisits(ctx)
		if err != nil || n != 3 {
			t.Fatalf("PurgeVisits() = %d, %v; want 3", n, err)
		}
		visits, _ := f.svc.Visits(ctx, checkin.Filter{})
		if len(visits) != 0 {
			t.Errorf("%d visits left after purge", len(visits))
		}
		labels, _ := f.svc.Taxa(ctx, checkin.KindLabel)
		if len(labels) != 2 {
			t.Errorf("purge removed taxa: %d labels left", len(labels))
		}
	})

	if got := f.notifier.Count(checkin.EventVisitsChanged); got != 3 {
		t.Errorf("visits-changed broadcast %d times, want 3", got)
	}
}

func buildZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}
