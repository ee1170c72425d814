// Package backendtest runs an in-memory row REST backend that speaks the same
// wire contract as the production service: apikey + bearer headers,
// column=eq.value filters, Prefer: return=representation and on_conflict upserts.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Row is one backend row keyed by column name.
type Row map[string]any

// Server is a fake backend. The zero value is not usable; call New.
type Server struct {
	APIKey string
	Token  string

	mu       sync.Mutex
	tables   map[string][]Row
	nextID   map[string]int64
	failures map[string]int
	requests map[string]int

	srv *httptest.Server
}

// New starts a server accepting the given credentials. Close it when done.
func New(apiKey, token string) *Server {
	s := &Server{
		APIKey:   apiKey,
		Token:    token,
		tables:   make(map[string][]Row),
		nextID:   make(map[string]int64),
		failures: make(map[string]int),
		requests: make(map[string]int),
	}
	s.srv = httptest.NewServer(http.StripPrefix("/rest/v1", http.HandlerFunc(s.handle)))
	return s
}

// URL is the base URL clients should be configured with.
func (s *Server) URL() string { return s.srv.URL + "/rest/v1" }

// Close shuts the server down.
func (s *Server) Close() { s.srv.Close() }

// Seed inserts rows into table, assigning ids where missing.
func (s *Server) Seed(table string, rows ...Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.insertLocked(table, r)
	}
}

// Rows returns a copy of table's rows in insertion order.
func (s *Server) Rows(table string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		out = append(out, copyRow(r))
	}
	return out
}

// Fail makes every request to table answer with status. Zero clears it.
func (s *Server) Fail(table string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, table)
		return
	}
	s.failures[table] = status
}

// Requests counts requests by "METHOD table".
func (s *Server) Requests(method, table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method+" "+table]
}

// TotalRequests counts every request the server received.
func (s *Server) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.requests {
		n += c
	}
	return n
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	table := strings.Trim(r.URL.Path, "/")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r.Method+" "+table]++

	if r.Header.Get("apikey") != s.APIKey {
		writeError(w, http.StatusUnauthorized, "No API key found in request")
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+s.Token {
		writeError(w, http.StatusUnauthorized, "JWT invalid")
		return
	}
	if status, ok := s.failures[table]; ok {
		writeError(w, status, fmt.Sprintf("injected failure for %s", table))
		return
	}

	q := r.URL.Query()
	representation := strings.Contains(r.Header.Get("Prefer"), "return=representation")

	switch r.Method {
	case http.MethodGet:
		rows := s.matchLocked(table, q)
		if order := q.Get("order"); order != "" {
			sortRows(rows, order)
		}
		writeJSON(w, http.StatusOK, rows)
	case http.MethodPost:
		var body Row
		if err := decode(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var out Row
		if col := q.Get("on_conflict"); col != "" {
			if existing := s.findLocked(table, col, body[col]); existing != nil {
				for k, v := range body {
					if k != "id" {
						existing[k] = v
					}
				}
				out = copyRow(existing)
			}
		}
		if out == nil {
			out = copyRow(s.insertLocked(table, body))
		}
		if representation {
			writeJSON(w, http.StatusCreated, []Row{out})
			return
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodPatch:
		var body Row
		if err := decode(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var updated []Row
		for _, row := range s.tables[table] {
			if !matches(row, q) {
				continue
			}
			for k, v := range body {
				if k != "id" && k != "created_at" {
					row[k] = v
				}
			}
			updated = append(updated, copyRow(row))
		}
		if representation {
			writeJSON(w, http.StatusOK, nonNil(updated))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		kept := s.tables[table][:0]
		for _, row := range s.tables[table] {
			if !matches(row, q) {
				kept = append(kept, row)
			}
		}
		s.tables[table] = kept
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) insertLocked(table string, r Row) Row {
	row := copyRow(r)
	id := toInt(row["id"])
	if id == 0 {
		s.nextID[table]++
		id = s.nextID[table]
	} else if id > s.nextID[table] {
		s.nextID[table] = id
	}
	row["id"] = id
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	s.tables[table] = append(s.tables[table], row)
	return row
}

func (s *Server) findLocked(table, col string, v any) Row {
	for _, row := range s.tables[table] {
		if fmt.Sprint(row[col]) == fmt.Sprint(v) {
			return row
		}
	}
	return nil
}

func (s *Server) matchLocked(table string, q map[string][]string) []Row {
	out := []Row{}
	for _, row := range s.tables[table] {
		if matches(row, q) {
			out = append(out, copyRow(row))
		}
	}
	return out
}

var reserved = map[string]bool{"select": true, "order": true, "limit": true, "on_conflict": true}

func matches(row Row, q map[string][]string) bool {
	for col, vals := range q {
		if reserved[col] {
			continue
		}
		for _, v := range vals {
			want, ok := strings.CutPrefix(v, "eq.")
			if !ok {
				return false
			}
			if fmt.Sprint(row[col]) != want {
				return false
			}
		}
	}
	return true
}

func sortRows(rows []Row, order string) {
	col, dir, _ := strings.Cut(order, ".")
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := fmt.Sprint(rows[i][col]), fmt.Sprint(rows[j][col])
		less := a < b
		if ai, aerr := strconv.ParseInt(a, 10, 64); aerr == nil {
			if bi, berr := strconv.ParseInt(b, 10, 64); berr == nil {
				less = ai < bi
			}
		}
		if dir == "desc" {
			return !less && a != b
		}
		return less
	})
}

func decode(r *http.Request, dst *Row) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(dst)
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func nonNil(rows []Row) []Row {
	if rows == nil {
		return []Row{}
	}
	return rows
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
