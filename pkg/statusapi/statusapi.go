// Package statusapi exposes the per-contract sync status spec §7 names,
// plus an operational snapshot-export trigger, as a small JSON HTTP
// surface. It is the one piece of "wire protocol" this indexer core
// owns directly; the schema-typed query server that re-serves decoded
// events to external clients stays out of scope per spec §1.
package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sethvargo/go-limiter/httplimit"
	"github.com/sethvargo/go-limiter/memorystore"

	indexererrors "github.com/cairoindex/chainindexer/pkg/errors"
	"github.com/cairoindex/chainindexer/pkg/ingest"
	"github.com/cairoindex/chainindexer/pkg/model"
)

// StatusSource reports the current sync status for a managed contract.
type StatusSource interface {
	StatusFor(address model.Address) (ingest.Status, bool)
}

// SnapshotExporter writes the store's operational snapshot (cursor and
// event count of each contract with stored events, zstd-compressed) to a
// path on disk. *eventstore.Store satisfies this directly.
type SnapshotExporter interface {
	ExportSnapshot(ctx context.Context, destPath string) error
}

// Router builds the status HTTP surface, grounded on the teacher's
// mux-based internal/router + ratelim middleware pairing.
func Router(
	source StatusSource,
	exporter SnapshotExporter,
	maxRPI uint64,
	rateLimInterval time.Duration,
) (*mux.Router, error) {
	r := mux.NewRouter()

	h := &handler{source: source, exporter: exporter}
	r.HandleFunc("/status/{contract_address}", h.status).Methods(http.MethodGet)
	r.HandleFunc("/snapshot", h.snapshot).Methods(http.MethodPost)

	if maxRPI > 0 {
		limiter, err := rateLimitMiddleware(maxRPI, rateLimInterval)
		if err != nil {
			return nil, fmt.Errorf("building rate limit middleware: %s", err)
		}
		r.Use(limiter)
	}

	return r, nil
}

func rateLimitMiddleware(maxRPI uint64, interval time.Duration) (mux.MiddlewareFunc, error) {
	keyFunc := func(r *http.Request) (string, error) {
		return r.RemoteAddr, nil
	}
	store, err := memorystore.New(&memorystore.Config{
		Tokens:   maxRPI,
		Interval: interval,
	})
	if err != nil {
		return nil, fmt.Errorf("creating memorystore: %s", err)
	}
	m, err := httplimit.NewMiddleware(store, keyFunc)
	if err != nil {
		return nil, fmt.Errorf("creating httplimiter: %s", err)
	}
	return m.Handle, nil
}

type handler struct {
	source   StatusSource
	exporter SnapshotExporter
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["contract_address"]
	address := model.NormalizeAddress(raw)

	status, ok := h.source.StatusFor(address)
	if !ok {
		writeJSON(w, http.StatusNotFound, indexererrors.ServiceError{Message: "contract not managed"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// snapshot triggers an operational snapshot export to the path given
// by the "dest" query parameter, e.g. POST /snapshot?dest=/var/snapshots/out.jsonl.zst.
func (h *handler) snapshot(w http.ResponseWriter, r *http.Request) {
	dest := r.URL.Query().Get("dest")
	if dest == "" {
		writeJSON(w, http.StatusBadRequest, indexererrors.ServiceError{Message: "missing dest query parameter"})
		return
	}
	if err := h.exporter.ExportSnapshot(r.Context(), dest); err != nil {
		writeJSON(w, http.StatusInternalServerError, indexererrors.ServiceError{Message: fmt.Sprintf("exporting snapshot: %s", err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": dest})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
