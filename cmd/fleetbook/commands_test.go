// ABOUTME: End-to-end tests for fleetbook commands against an in-memory backend.
// ABOUTME: Each command opens and closes its own app, as it would from the shell.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harperreed/fleetbook/internal/backendtest"
	"github.com/harperreed/fleetbook/ledger"
)

func setupCLI(t *testing.T) (*backendtest.Server, *bytes.Buffer) {
	t.Helper()
	path := useTempConfig(t)
	srv := backendtest.New("key", "token")
	t.Cleanup(srv.Close)

	cfg := &Config{
		Server:        srv.URL(),
		APIKey:        "key",
		Token:         "token",
		ViewerCode:    "view",
		ManagerCode:   "boss",
		SessionSecret: "test-secret",
		DeviceID:      "test-device",
		FleetOwner:    "Acme Taxis",
		DB:            filepath.Join(filepath.Dir(path), "fleet.db"),
		LogLevel:      "error",
	}
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	var buf bytes.Buffer
	orig := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = orig })
	return srv, &buf
}

func run(t *testing.T, args ...string) {
	t.Helper()
	if err := dispatch(args[0], args[1:]); err != nil {
		t.Fatalf("%s: %v", strings.Join(args, " "), err)
	}
}

func TestCommandsRequireLogin(t *testing.T) {
	setupCLI(t)
	err := dispatch("records", []string{"list"})
	if !errors.Is(err, ledger.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if err := dispatch("login", []string{"nope"}); !errors.Is(err, ledger.ErrInvalidAccessCode) {
		t.Fatalf("expected ErrInvalidAccessCode, got %v", err)
	}
}

func TestManagerFlow(t *testing.T) {
	srv, out := setupCLI(t)

	run(t, "login", "BOSS")
	if !strings.Contains(out.String(), "Logged in as manager") {
		t.Fatalf("unexpected login output: %s", out)
	}

	run(t, "vehicles", "add", "--plate", "abc 1", "--model", "Prius")
	vehicles := srv.Rows("vehicles")
	if len(vehicles) != 1 || vehicles[0]["plate"] != "ABC 1" || vehicles[0]["owner"] != "Acme Taxis" {
		t.Fatalf("unexpected vehicle rows: %v", vehicles)
	}

	run(t, "records", "add", "--date", "2024-04-02", "--vehicle", "1", "--expected", "100", "--paid", "80", "--operator", "Ana", "--trip", "airport")
	records := srv.Rows("records")
	if len(records) != 1 {
		t.Fatalf("expected 1 record row, got %d", len(records))
	}
	if !strings.Contains(out.String(), "(synced)") {
		t.Fatalf("manager write should be synced: %s", out)
	}

	run(t, "notes", "add", "2024-04", "holiday", "week")
	run(t, "notes", "update", "2024-04", "holiday week, two cars in service")
	if n := len(srv.Rows("monthly-notes")); n != 1 {
		t.Fatalf("expected one note row per month, got %d", n)
	}

	out.Reset()
	run(t, "report", "month", "--month", "2024-04")
	for _, want := range []string{"Paid:      80.00", "deficit", "two cars in service", "airport"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("month report missing %q:\n%s", want, out)
		}
	}

	id := fmt.Sprint(records[0]["id"])
	run(t, "records", "update", "--paid", "120", id)
	out.Reset()
	run(t, "report", "deficits", "--no-refresh")
	if !strings.Contains(out.String(), "no deficits") {
		t.Fatalf("expected no deficits after update:\n%s", out)
	}

	out.Reset()
	run(t, "records", "list", "--month", "2024-04")
	if !strings.Contains(out.String(), "120.00") || !strings.Contains(out.String(), "surplus") {
		t.Fatalf("unexpected records list:\n%s", out)
	}

	run(t, "reception", "off")
	run(t, "setting", "set", ledger.SettingQuickValues, "100,120")
	out.Reset()
	run(t, "setting", "get", ledger.SettingQuickValues)
	if strings.TrimSpace(out.String()) != "100,120" {
		t.Fatalf("setting get = %q", out.String())
	}

	run(t, "records", "delete", id)
	if n := len(srv.Rows("records")); n != 0 {
		t.Fatalf("record not deleted remotely, %d rows left", n)
	}

	out.Reset()
	run(t, "status")
	for _, want := range []string{"Role:        manager", "Reception:   off", "Last sync:"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("status missing %q:\n%s", want, out)
		}
	}
}

func TestViewerFlow(t *testing.T) {
	srv, out := setupCLI(t)
	srv.Seed("vehicles", backendtest.Row{"plate": "AAA 1"})
	srv.Seed("records", backendtest.Row{"date": "2024-04-01", "vehicle_id": "1", "expected_amount": 100, "paid_amount": 100, "operator_name": "Ben"})

	run(t, "login", "view")

	if err := dispatch("vehicles", []string{"list"}); !errors.Is(err, ledger.ErrAccessDenied) {
		t.Fatalf("viewer should not list vehicles, got %v", err)
	}
	if err := dispatch("reception", []string{"off"}); !errors.Is(err, ledger.ErrAccessDenied) {
		t.Fatalf("viewer should not toggle reception, got %v", err)
	}

	out.Reset()
	run(t, "report", "operators")
	if !strings.Contains(out.String(), "Ben") {
		t.Fatalf("ranking should include Ben:\n%s", out)
	}

	run(t, "records", "add", "--date", "2024-04-02", "--vehicle", "1", "--expected", "100", "--paid", "50")
	if !strings.Contains(out.String(), "local only") {
		t.Fatalf("viewer write should be local only:\n%s", out)
	}
	if n := srv.Requests(http.MethodPost, "records"); n != 0 {
		t.Fatalf("viewer write reached the backend %d times", n)
	}

	out.Reset()
	run(t, "refresh")
	if !strings.Contains(out.String(), "Refresh synced") || !strings.Contains(out.String(), "dropped") {
		t.Fatalf("refresh should report the discarded local record:\n%s", out)
	}

	run(t, "logout")
	out.Reset()
	run(t, "status")
	if !strings.Contains(out.String(), "Not logged in") {
		t.Fatalf("status after logout:\n%s", out)
	}
}

func TestRefreshFailsWhenBackendIsDown(t *testing.T) {
	srv, out := setupCLI(t)
	run(t, "login", "boss")
	for _, table := range []string{"records", "vehicles", "operators", "monthly-notes"} {
		srv.Fail(table, http.StatusInternalServerError)
	}

	out.Reset()
	err := dispatch("refresh", nil)
	if err == nil {
		t.Fatalf("refresh with every fetch failing should exit non-zero:\n%s", out)
	}
	if !strings.Contains(err.Error(), "refresh failed") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "Refresh degraded") {
		t.Fatalf("refresh output:\n%s", out)
	}

	srv.Fail("vehicles", 0)
	srv.Fail("operators", 0)
	srv.Fail("monthly-notes", 0)
	out.Reset()
	run(t, "refresh")
	if !strings.Contains(out.String(), "records") || !strings.Contains(out.String(), "failed") {
		t.Fatalf("partial failure should still be listed:\n%s", out)
	}
}
