package store

import (
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/lox/hmomobility/internal/logging"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db, logging.Discard())
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("version = %d, want %d", version, len(migrations))
	}
}

func TestIngestRun_Lifecycle(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.StartIngestRun("inegi", "atus/zip", "atus_2021_shp.zip")
	if err != nil {
		t.Fatalf("StartIngestRun: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("run ID not set")
	}

	run.SetHTTP(200, 1024)
	run.SetRecords(1, 1)
	run.SetError(nil)
	if err := store.CompleteIngestRun(run); err != nil {
		t.Fatalf("CompleteIngestRun: %v", err)
	}

	failed, _ := store.StartIngestRun("inegi", "atus/zip", "atus_2022_shp.zip")
	failed.SetHTTP(503, 0)
	failed.SetError(errors.New("status 503"))
	if err := store.CompleteIngestRun(failed); err != nil {
		t.Fatalf("CompleteIngestRun: %v", err)
	}

	errs, err := store.GetRecentIngestErrors(10)
	if err != nil {
		t.Fatalf("GetRecentIngestErrors: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("len(errs) = %d, want 1", len(errs))
	}
	if errs[0].RequestKey.String != "atus_2022_shp.zip" {
		t.Errorf("RequestKey = %q", errs[0].RequestKey.String)
	}
	if errs[0].ErrorMessage.String != "status 503" {
		t.Errorf("ErrorMessage = %q", errs[0].ErrorMessage.String)
	}
	if errs[0].HTTPStatus.Int64 != 503 {
		t.Errorf("HTTPStatus = %d", errs[0].HTTPStatus.Int64)
	}

	health, err := store.GetIngestHealth(7)
	if err != nil {
		t.Fatalf("GetIngestHealth: %v", err)
	}
	if len(health) != 1 {
		t.Fatalf("len(health) = %d, want 1", len(health))
	}
	h := health[0]
	if h.TotalRuns != 2 || h.SuccessRuns != 1 || h.FailedRuns != 1 {
		t.Errorf("health = %+v", h)
	}
	if h.TotalRecords != 1 {
		t.Errorf("TotalRecords = %d, want 1", h.TotalRecords)
	}
}

func TestNilStore(t *testing.T) {
	var store *Store
	run, err := store.StartIngestRun("x", "y", "z")
	if err != nil || run != nil {
		t.Fatalf("nil store StartIngestRun = %v, %v", run, err)
	}
	run.SetError(errors.New("ignored"))
	run.SetHTTP(200, 10)
	if err := store.CompleteIngestRun(run); err != nil {
		t.Errorf("CompleteIngestRun: %v", err)
	}
	if _, ok, err := store.CachedPayload("x", "y", "z"); ok || err != nil {
		t.Errorf("CachedPayload on nil store = %v, %v", ok, err)
	}
	if id, err := store.StoreRawPayload(nil, "x", "y", "z", []byte("p")); id != 0 || err != nil {
		t.Errorf("StoreRawPayload on nil store = %d, %v", id, err)
	}
}

func TestRawPayload_CacheRoundTrip(t *testing.T) {
	store := setupTestStore(t)

	if _, ok, err := store.CachedPayload("open-meteo", "v1/archive", "k1"); ok || err != nil {
		t.Fatalf("empty cache = %v, %v", ok, err)
	}

	run, _ := store.StartIngestRun("open-meteo", "v1/archive", "k1")
	payload := []byte(`{"hourly":{"time":["2021-01-01T00:00"]}}`)
	id, err := store.StoreRawPayload(&run.ID, "open-meteo", "v1/archive", "k1", payload)
	if err != nil {
		t.Fatalf("StoreRawPayload: %v", err)
	}
	if id == 0 {
		t.Fatal("expected new payload id")
	}

	got, ok, err := store.CachedPayload("open-meteo", "v1/archive", "k1")
	if err != nil || !ok {
		t.Fatalf("CachedPayload = %v, %v", ok, err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %s", got)
	}

	byID, err := store.GetRawPayload(id)
	if err != nil {
		t.Fatalf("GetRawPayload: %v", err)
	}
	if string(byID) != string(payload) {
		t.Errorf("GetRawPayload = %s", byID)
	}

	// Same payload for the same key is deduplicated.
	dup, err := store.StoreRawPayload(nil, "open-meteo", "v1/archive", "k1", payload)
	if err != nil {
		t.Fatalf("StoreRawPayload dup: %v", err)
	}
	if dup != 0 {
		t.Errorf("duplicate id = %d, want 0", dup)
	}

	// A different key is a cache miss.
	if _, ok, _ := store.CachedPayload("open-meteo", "v1/archive", "k2"); ok {
		t.Error("unexpected hit for k2")
	}
}

func TestRawPayload_NewestWins(t *testing.T) {
	store := setupTestStore(t)
	store.StoreRawPayload(nil, "overpass", "interpreter", "q", []byte("old"))
	store.StoreRawPayload(nil, "overpass", "interpreter", "q", []byte("new"))

	got, ok, err := store.CachedPayload("overpass", "interpreter", "q")
	if err != nil || !ok {
		t.Fatalf("CachedPayload = %v, %v", ok, err)
	}
	if string(got) != "new" {
		t.Errorf("payload = %q, want new", got)
	}

	stats, err := store.GetRawPayloadStats()
	if err != nil {
		t.Fatalf("GetRawPayloadStats: %v", err)
	}
	if stats.TotalCount != 2 || stats.CountBySource["overpass"] != 2 {
		t.Errorf("stats = %+v", stats)
	}
}
