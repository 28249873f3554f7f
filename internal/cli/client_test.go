package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"arenabot/internal/session"
)

func TestClientSubmitSendsKeyAndToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/v1/arenas/discord:1/actions" || r.Header.Get("Idempotency-Key") != "k1" {
			t.Errorf("path %q key %q", r.URL.Path, r.Header.Get("Idempotency-Key"))
		}
		var a session.Action
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil || a.Kind != session.ActionJoin {
			t.Errorf("action %+v, %v", a, err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"phase":"registration","version":2}`)
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/", "tok")
	res, err := c.Submit(context.Background(), "discord:1", session.Action{Kind: session.ActionJoin, PlayerID: "p"}, "k1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Phase != session.PhaseRegistration || res.Version != 2 {
		t.Fatalf("result %+v", res)
	}
}

func TestClientErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = fmt.Fprintf(w, `{"error":%q}`, session.ErrStaleAction.Error())
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "tok")
	_, err := c.Snapshot(context.Background(), "discord:1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Fatalf("err %v", err)
	}
	if !IsStale(err) {
		t.Fatalf("expected stale: %v", err)
	}
	if IsUnreachable(err) {
		t.Fatalf("api error is not a network error")
	}

	ts.Close()
	_, err = c.Snapshot(context.Background(), "discord:1")
	if !IsUnreachable(err) || IsStale(err) {
		t.Fatalf("closed server err %v", err)
	}
}

func TestClientEvents(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, ": ping\n\n")
		_, _ = fmt.Fprint(w, "event: arena\ndata: {\"arena_id\":\"discord:1\",\"kind\":\"player_joined\",\"version\":3}\n\n")
		_, _ = fmt.Fprint(w, "event: arena\ndata: {\"arena_id\":\"discord:1\",\"kind\":\"closed\",\"version\":9}\n\n")
	}))
	defer ts.Close()

	var got []string
	err := NewClient(ts.URL, "tok").Events(context.Background(), "discord:1", func(ev session.Event) {
		got = append(got, ev.Kind)
	})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(got) != 2 || got[0] != "player_joined" || got[1] != "closed" {
		t.Fatalf("got %v", got)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if _, err := LoadProfile(); err == nil {
		t.Fatalf("expected error without profile")
	}
	if err := SaveProfile(Profile{Token: "tok", PlayerID: "discord:1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	p, err := LoadProfile()
	if err != nil || p.PlayerID != "discord:1" {
		t.Fatalf("load %+v, %v", p, err)
	}
	if err := ClearProfile(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := SaveProfile(Profile{PlayerID: "x"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := LoadProfile(); err == nil {
		t.Fatalf("profile without token must not load")
	}
}
