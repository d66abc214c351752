package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeDB struct {
	pingErr   error
	tables    []string
	tablesErr error
}

func (f *fakeDB) Ping(context.Context) error { return f.pingErr }

func (f *fakeDB) ListTables(context.Context) ([]string, error) { return f.tables, f.tablesErr }

func (f *fakeDB) Host() string { return "db.local" }

func (f *fakeDB) Name() string { return "shard" }

// refusedAddr returns a URL whose port is closed.
func refusedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return "http://" + addr
}

func healthyServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProduceNeverFailsAcrossDependencyStates(t *testing.T) {
	up := healthyServer(t)
	down := refusedAddr(t)

	dbStates := map[string]Database{
		"db-up":   &fakeDB{tables: []string{"projects", "users"}},
		"db-down": &fakeDB{pingErr: errors.New("connection refused")},
	}
	serviceStates := map[string]string{"up": up.URL, "down": down}

	for dbName, db := range dbStates {
		for workerState, workerURL := range serviceStates {
			for aiState, aiURL := range serviceStates {
				name := fmt.Sprintf("%s/worker-%s/ai-%s", dbName, workerState, aiState)
				t.Run(name, func(t *testing.T) {
					p := NewProducer(db, []ServiceTarget{
						{Name: "deployment-worker", URL: workerURL},
						{Name: "ai-review", URL: aiURL},
					}, time.Second, nil)

					snap := p.Produce(context.Background())

					if snap.Status != StatusOK {
						t.Fatalf("expected top-level ok, got %q (error %q)", snap.Status, snap.Error)
					}
					if len(snap.Services) != 2 {
						t.Fatalf("expected 2 service results, got %d", len(snap.Services))
					}
					wantWorker := StatusOK
					if workerState == "down" {
						wantWorker = StatusError
					}
					if got := snap.Services["deployment-worker"].Status; got != wantWorker {
						t.Fatalf("worker status = %q, want %q", got, wantWorker)
					}
					wantAI := StatusOK
					if aiState == "down" {
						wantAI = StatusError
					}
					if got := snap.Services["ai-review"].Status; got != wantAI {
						t.Fatalf("ai status = %q, want %q", got, wantAI)
					}
					wantDB := StatusConnected
					if dbName == "db-down" {
						wantDB = StatusDisconnected
					}
					if snap.Database.Status != wantDB {
						t.Fatalf("db status = %q, want %q", snap.Database.Status, wantDB)
					}
				})
			}
		}
	}
}

func TestProduceListsTablesWhenConnected(t *testing.T) {
	p := NewProducer(&fakeDB{tables: []string{"deployments", "projects"}}, nil, time.Second, nil)
	snap := p.Produce(context.Background())
	if len(snap.Database.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %v", snap.Database.Tables)
	}
	if snap.Database.Host != "db.local" || snap.Database.Name != "shard" {
		t.Fatalf("unexpected database identity: %+v", snap.Database)
	}
}

func TestProduceDowngradesTableListingFailure(t *testing.T) {
	p := NewProducer(&fakeDB{tablesErr: errors.New("permission denied")}, nil, time.Second, nil)
	snap := p.Produce(context.Background())
	if snap.Status != StatusOK {
		t.Fatalf("listing failure must not fail the snapshot, got %q", snap.Status)
	}
	if snap.Database.Status != StatusConnected {
		t.Fatalf("expected connected, got %q", snap.Database.Status)
	}
	if snap.Database.TablesError == "" {
		t.Fatal("expected tables_error to be recorded")
	}
}

func TestProduceWithoutDatabaseReportsDisconnected(t *testing.T) {
	p := NewProducer(nil, nil, time.Second, nil)
	snap := p.Produce(context.Background())
	if snap.Database.Status != StatusDisconnected {
		t.Fatalf("expected disconnected, got %q", snap.Database.Status)
	}
	if snap.Status != StatusOK {
		t.Fatalf("expected top-level ok, got %q", snap.Status)
	}
}

func TestProbesRunConcurrently(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		fmt.Fprint(w, `{}`)
	}))
	defer slow.Close()

	p := NewProducer(nil, []ServiceTarget{
		{Name: "a", URL: slow.URL},
		{Name: "b", URL: slow.URL},
		{Name: "c", URL: slow.URL},
	}, time.Second, nil)

	start := time.Now()
	snap := p.Produce(context.Background())
	elapsed := time.Since(start)

	if elapsed > 900*time.Millisecond {
		t.Fatalf("probes appear sequential, took %s", elapsed)
	}
	for name, svc := range snap.Services {
		if svc.Status != StatusOK {
			t.Fatalf("service %s = %q, want ok", name, svc.Status)
		}
	}
}

func TestProbeTimesOutInsteadOfHanging(t *testing.T) {
	hung := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer hung.Close()

	p := NewProducer(nil, []ServiceTarget{{Name: "hung", URL: hung.URL}}, 200*time.Millisecond, nil)

	start := time.Now()
	snap := p.Produce(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("probe did not respect timeout, took %s", elapsed)
	}
	if snap.Services["hung"].Status != StatusError {
		t.Fatalf("expected error status for hung service, got %q", snap.Services["hung"].Status)
	}
}
