package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func namusServer(t *testing.T, pages map[string]string, failSkip map[string]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		skip := r.URL.Query().Get("skip")
		if code, ok := failSkip[skip]; ok {
			w.WriteHeader(code)
			return
		}
		body, ok := pages[skip]
		if !ok {
			body = `{"count":0,"results":[]}`
		}
		fmt.Fprint(w, body)
	}))
}

func TestNamusCollector_FetchPaginates(t *testing.T) {
	page0 := `{"count":3,"results":[
		{"namus_number":"MP1","legal_first_name":"Ana","legal_last_name":"Reyes","missing_age":"15","city":"Tampa","state":"FL","dlc":"2026-01-10","case_status":"open"},
		{"namus_number":"MP2","legal_first_name":"Ben","legal_last_name":"Cole","missing_age":"34","city":"Ocala","state":"FL"}
	]}`
	page1 := `{"count":3,"results":[
		{"namus_number":"MP3","legal_first_name":"Cam","legal_last_name":"Diaz","state":"FL"}
	]}`
	srv := namusServer(t, map[string]string{"0": page0, "2": page1}, nil)
	defer srv.Close()

	col := NewNamusCollector(SourceDefinition{ID: "namus", BaseURL: srv.URL})
	col.pageSize = 2

	records, err := col.Fetch(context.Background(), SourceDefinition{ID: "namus"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records across pages, got %d", len(records))
	}

	first := records[0]
	if first.ExternalID != "MP1" || first.Kind != KindMissingPerson {
		t.Fatalf("unexpected record: %+v", first)
	}
	if first.Person.Age == nil || *first.Person.Age != 15 {
		t.Fatalf("age not parsed: %+v", first.Person.Age)
	}
	if first.Person.Category != "missing_child" {
		t.Fatalf("under-18 must be categorized missing_child, got %s", first.Person.Category)
	}
	if records[1].Person.Category != "missing_adult" {
		t.Fatalf("adult categorized as %s", records[1].Person.Category)
	}
}

func TestNamusCollector_FirstPageFailureIsFatal(t *testing.T) {
	srv := namusServer(t, nil, map[string]int{"0": http.StatusBadGateway})
	defer srv.Close()

	col := NewNamusCollector(SourceDefinition{ID: "namus", BaseURL: srv.URL})
	_, err := col.Fetch(context.Background(), SourceDefinition{ID: "namus"})
	if err == nil {
		t.Fatalf("page zero failure must fail the run")
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != ErrKindHTTP {
		t.Fatalf("expected typed http error, got %v", err)
	}
}

func TestNamusCollector_LaterPageFailureKeepsPartialBatch(t *testing.T) {
	page0 := `{"count":4,"results":[
		{"namus_number":"MP1","legal_first_name":"Ana","legal_last_name":"Reyes","state":"FL"},
		{"namus_number":"MP2","legal_first_name":"Ben","legal_last_name":"Cole","state":"FL"}
	]}`
	srv := namusServer(t, map[string]string{"0": page0}, map[string]int{"2": http.StatusInternalServerError})
	defer srv.Close()

	col := NewNamusCollector(SourceDefinition{ID: "namus", BaseURL: srv.URL})
	col.pageSize = 2

	records, err := col.Fetch(context.Background(), SourceDefinition{ID: "namus"})
	if err != nil {
		t.Fatalf("later page failure must not fail the run: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected the partial batch, got %d", len(records))
	}
}

func TestNamusCollector_SkipsRecordsWithoutNameOrLocation(t *testing.T) {
	page := `{"count":2,"results":[
		{"namus_number":"MP1","city":"Tampa","state":"FL"},
		{"namus_number":"MP2","legal_first_name":"Ben","legal_last_name":"Cole","state":"FL"}
	]}`
	srv := namusServer(t, map[string]string{"0": page}, nil)
	defer srv.Close()

	col := NewNamusCollector(SourceDefinition{ID: "namus", BaseURL: srv.URL})
	records, err := col.Fetch(context.Background(), SourceDefinition{ID: "namus"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(records) != 1 || records[0].ExternalID != "MP2" {
		t.Fatalf("nameless record must be skipped at the boundary, got %+v", records)
	}
}
