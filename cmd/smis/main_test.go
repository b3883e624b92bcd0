package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"smis/internal/auth"
	"smis/internal/config"
	"smis/internal/student"
)

func testConfig(t *testing.T) config.App {
	dir := t.TempDir()
	return config.App{
		Env:          "test",
		LocalDriver:  "sqlite3",
		LocalDSN:     filepath.Join(dir, "students.db"),
		SessionPath:  filepath.Join(dir, "session.json"),
		QueueBackend: "memory",
		SyncRetries:  1,
		SyncBackoff:  time.Millisecond,
		APITimeout:   2 * time.Second,
		NetCheckTTL:  time.Second,
	}
}

func runCLI(t *testing.T, cfg config.App, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root, c := newRootCmd(strings.NewReader(stdin), &out, &errOut)
	c.load = func() config.App { return cfg }
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if cerr := c.close(); cerr != nil {
		t.Errorf("close: %v", cerr)
	}
	return out.String(), errOut.String(), err
}

func listJSON(t *testing.T, cfg config.App) []student.Record {
	t.Helper()
	out, _, err := runCLI(t, cfg, "", "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var recs []student.Record
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatalf("list output is not JSON: %q", out)
	}
	return recs
}

func TestCRUDCommands(t *testing.T) {
	cfg := testConfig(t)

	out, _, err := runCLI(t, cfg, "", "add", "--name", "Alice", "--reg", "R1", "--course", "CS", "--dob", "2001-02-03")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	id := strings.TrimSpace(out)
	if id == "" {
		t.Fatal("add printed no id")
	}

	recs := listJSON(t, cfg)
	if len(recs) != 1 || recs[0].Name != "Alice" || recs[0].DateOfBirth == 0 {
		t.Fatalf("list = %+v", recs)
	}

	if _, _, err := runCLI(t, cfg, "", "edit", id, "--course", "Maths"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	out, _, err = runCLI(t, cfg, "", "show", id)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "Maths") || !strings.Contains(out, "2001-02-03") {
		t.Errorf("show output = %q", out)
	}

	if _, _, err := runCLI(t, cfg, "", "delete", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	out, _, err = runCLI(t, cfg, "", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "no students") {
		t.Errorf("list after delete = %q", out)
	}
}

func TestAddRejectsInvalidRecord(t *testing.T) {
	cfg := testConfig(t)
	if _, _, err := runCLI(t, cfg, "", "add", "--name", "Alice", "--reg", "R1"); err == nil {
		t.Fatal("expected missing course to fail")
	}
	if _, _, err := runCLI(t, cfg, "", "add", "--name", "A", "--reg", "R1", "--course", "CS", "--dob", "03/02/2001"); err == nil {
		t.Fatal("expected bad date to fail")
	}
	if recs := listJSON(t, cfg); len(recs) != 0 {
		t.Errorf("invalid records were stored: %+v", recs)
	}
}

func TestShowMissing(t *testing.T) {
	_, _, err := runCLI(t, testConfig(t), "", "show", "nope")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestImportAndSearch(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "students.csv")
	csv := "name,registrationNumber,course,email\n" +
		"John,R1,CS,john@example.com\n" +
		"Mary Brown,R2,Maths,\n"
	if err := os.WriteFile(path, []byte(csv), 0o600); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, cfg, "", "import", path)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "imported 2") {
		t.Errorf("import output = %q", out)
	}

	out, _, err = runCLI(t, cfg, "", "search", "--json", "--fuzzy", "Jon")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var hits []student.Record
	if err := json.Unmarshal([]byte(out), &hits); err != nil {
		t.Fatalf("search output is not JSON: %q", out)
	}
	if len(hits) != 1 || hits[0].RegistrationNumber != "R1" {
		t.Errorf("hits = %+v", hits)
	}

	out, _, err = runCLI(t, cfg, "", "stats", "--json")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var stats student.SyncStats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.Synced != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestImportJSONRejectsBadRecord(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "students.json")
	data := `[{"name":"A","registrationNumber":"R1","course":"CS"},{"name":"","registrationNumber":"R2","course":"CS"}]`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	_, _, err := runCLI(t, cfg, "", "import", path)
	if err == nil || !strings.Contains(err.Error(), "record 2") {
		t.Fatalf("err = %v", err)
	}
	if recs := listJSON(t, cfg); len(recs) != 0 {
		t.Errorf("partial import stored %d records", len(recs))
	}
}

func TestSyncWithoutBackend(t *testing.T) {
	_, _, err := runCLI(t, testConfig(t), "", "sync")
	if err == nil || !strings.Contains(err.Error(), "failed to sync") {
		t.Fatalf("err = %v", err)
	}
}

func TestForceSyncNeedsMode(t *testing.T) {
	if _, _, err := runCLI(t, testConfig(t), "", "force-sync"); err == nil {
		t.Fatal("expected an error without --cloud or --api")
	}
	if _, _, err := runCLI(t, testConfig(t), "", "force-sync", "--cloud", "--api"); err == nil {
		t.Fatal("expected an error with both modes")
	}
}

func TestEnqueue(t *testing.T) {
	cfg := testConfig(t)
	_, errOut, err := runCLI(t, cfg, "", "enqueue", "sync", "--retries", "5")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !strings.Contains(errOut, "queued sync") {
		t.Errorf("stderr = %q", errOut)
	}
	if _, _, err := runCLI(t, cfg, "", "enqueue", "compact"); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
}

func TestLoginLogout(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/login" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"userId":"u1","accessToken":"tok","refreshToken":"ref"}}`))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.APIBaseURL = srv.URL
	if _, _, err := runCLI(t, cfg, "s3cret\n", "login", "--email", "admin@example.com"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if gotBody["password"] != "s3cret" {
		t.Errorf("password sent = %q", gotBody["password"])
	}
	s, err := auth.LoadSession(cfg.SessionPath, time.Now())
	if err != nil {
		t.Fatalf("session not saved: %v", err)
	}
	if s.AccessToken != "tok" || s.UserID != "u1" || s.Email != "admin@example.com" {
		t.Errorf("session = %+v", s)
	}

	if _, _, err := runCLI(t, cfg, "", "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := auth.LoadSession(cfg.SessionPath, time.Now()); err != auth.ErrNoSession {
		t.Errorf("session survived logout: %v", err)
	}
}

func TestLoginWithoutREST(t *testing.T) {
	_, _, err := runCLI(t, testConfig(t), "pw\n", "login", "--email", "a@b.c")
	if err == nil || !strings.Contains(err.Error(), "API_BASE_URL") {
		t.Fatalf("err = %v", err)
	}
}

func TestWatchOnce(t *testing.T) {
	cfg := testConfig(t)
	if _, _, err := runCLI(t, cfg, "", "add", "--name", "Alice", "--reg", "R1", "--course", "CS"); err != nil {
		t.Fatal(err)
	}
	out, _, err := runCLI(t, cfg, "", "watch", "--once")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if !strings.Contains(out, "1 students") || !strings.Contains(out, "Alice") {
		t.Errorf("watch output = %q", out)
	}
}

func TestListRendersTable(t *testing.T) {
	cfg := testConfig(t)
	if _, _, err := runCLI(t, cfg, "", "add", "--name", "Alice", "--reg", "R1", "--course", "CS"); err != nil {
		t.Fatal(err)
	}
	out, _, err := runCLI(t, cfg, "", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"REG NO", "Alice", "R1", "CS", "no"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("escape codes written to a non-terminal:\n%q", out)
	}
}

func TestEditWithoutChanges(t *testing.T) {
	cfg := testConfig(t)
	out, _, err := runCLI(t, cfg, "", "add", "--name", "Alice", "--reg", "R1", "--course", "CS")
	if err != nil {
		t.Fatal(err)
	}
	id := strings.TrimSpace(out)
	before := listJSON(t, cfg)[0]

	_, errOut, err := runCLI(t, cfg, "", "edit", id, "--course", "CS")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !strings.Contains(errOut, "nothing to change") {
		t.Errorf("stderr = %q", errOut)
	}
	if after := listJSON(t, cfg)[0]; after.UpdatedAt != before.UpdatedAt {
		t.Errorf("no-op edit bumped updatedAt: %d -> %d", before.UpdatedAt, after.UpdatedAt)
	}
}

func TestDeleteSeveral(t *testing.T) {
	cfg := testConfig(t)
	var ids []string
	for _, reg := range []string{"R1", "R2", "R3"} {
		out, _, err := runCLI(t, cfg, "", "add", "--name", "S"+reg, "--reg", reg, "--course", "CS")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, strings.TrimSpace(out))
	}
	_, errOut, err := runCLI(t, cfg, "", "delete", ids[0], ids[2], "ghost")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.Contains(errOut, "deleted 2 of 3") {
		t.Errorf("stderr = %q", errOut)
	}
	if recs := listJSON(t, cfg); len(recs) != 1 || recs[0].ID != ids[1] {
		t.Errorf("remaining = %+v", recs)
	}
}
