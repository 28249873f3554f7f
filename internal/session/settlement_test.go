package session

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestComputePayout(t *testing.T) {
	players := []string{"a", "b", "c", "d"}
	tests := []struct {
		name  string
		pot   int64
		cfg   Config
		out   Outcome
		want  map[string]int64
		comm  int64
		fails bool
	}{
		{
			name: "single winner takes all",
			pot:  400,
			out:  Outcome{Winners: []string{"b"}},
			want: map[string]int64{"b": 400},
		},
		{
			name: "commission to house",
			pot:  400,
			cfg:  Config{CommissionBps: 1000, HouseAccount: "house"},
			out:  Outcome{Winners: []string{"b"}},
			want: map[string]int64{"house": 40, "b": 360},
			comm: 40,
		},
		{
			name: "remainder to first winner",
			pot:  100,
			out:  Outcome{Winners: []string{"c", "a", "b"}},
			want: map[string]int64{"c": 34, "a": 33, "b": 33},
		},
		{
			name: "remainder to house",
			pot:  100,
			cfg:  Config{HouseAccount: "house", Remainder: RemainderHouse},
			out:  Outcome{Winners: []string{"c", "a", "b"}},
			want: map[string]int64{"house": 1, "c": 33, "a": 33, "b": 33},
		},
		{
			name: "weighted shares",
			pot:  1000,
			cfg:  Config{CommissionBps: 500, HouseAccount: "house"},
			out:  Outcome{Winners: []string{"a", "b", "c"}, Shares: []int64{60, 30, 10}},
			want: map[string]int64{"house": 50, "a": 570, "b": 285, "c": 95},
			comm: 50,
		},
		{
			name: "no winners with house",
			pot:  400,
			cfg:  Config{CommissionBps: 250, HouseAccount: "house"},
			want: map[string]int64{"house": 400},
			comm: 10,
		},
		{
			name: "no winners without house splits among confirmed",
			pot:  400,
			want: map[string]int64{"a": 100, "b": 100, "c": 100, "d": 100},
		},
		{
			name: "commission without house is still deducted",
			pot:  400,
			cfg:  Config{CommissionBps: 500},
			out:  Outcome{Winners: []string{"a"}},
			want: map[string]int64{"a": 380},
			comm: 20,
		},
		{
			name: "empty pot",
			pot:  0,
			out:  Outcome{Winners: []string{"a"}},
			want: map[string]int64{},
		},
		{
			name:  "winner not confirmed",
			pot:   100,
			out:   Outcome{Winners: []string{"zed"}},
			fails: true,
		},
		{
			name:  "winner listed twice",
			pot:   100,
			out:   Outcome{Winners: []string{"a", "a"}},
			fails: true,
		},
		{
			name:  "shares misaligned",
			pot:   100,
			out:   Outcome{Winners: []string{"a", "b"}, Shares: []int64{1}},
			fails: true,
		},
		{
			name:  "zero total weight",
			pot:   100,
			out:   Outcome{Winners: []string{"a"}, Shares: []int64{0}},
			fails: true,
		},
	}
	for _, tc := range tests {
		plan, err := ComputePayout(tc.pot, tc.cfg, tc.out, players)
		if tc.fails {
			if err == nil {
				t.Fatalf("%s: expected error, got %+v", tc.name, plan)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		got := make(map[string]int64)
		for _, c := range plan.Credits {
			got[c.PlayerID] += c.Amount
		}
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
		for id, amount := range tc.want {
			if got[id] != amount {
				t.Fatalf("%s: %s got %d want %d", tc.name, id, got[id], amount)
			}
		}
		if plan.Commission != tc.comm {
			t.Fatalf("%s: commission %d want %d", tc.name, plan.Commission, tc.comm)
		}
		if plan.Distributed() != tc.pot {
			t.Fatalf("%s: distributed %d of %d", tc.name, plan.Distributed(), tc.pot)
		}
	}
}

func TestComputePayoutConservesAcrossPots(t *testing.T) {
	players := []string{"a", "b", "c", "d", "e", "f", "g"}
	cfg := Config{CommissionBps: 333, HouseAccount: "house"}
	for pot := int64(0); pot < 2000; pot += 7 {
		for n := 1; n <= len(players); n++ {
			plan, err := ComputePayout(pot, cfg, Outcome{Winners: players[:n]}, players)
			if err != nil {
				t.Fatalf("pot=%d winners=%d: %v", pot, n, err)
			}
			var sum int64
			for _, c := range plan.Credits {
				if c.Amount < 0 {
					t.Fatalf("pot=%d negative credit %+v", pot, c)
				}
				sum += c.Amount
			}
			if sum != pot {
				t.Fatalf("pot=%d winners=%d credited %d", pot, n, sum)
			}
		}
	}
}

func TestMulDivLargeValues(t *testing.T) {
	got, err := mulDiv(1<<62, 9_999, BpsScale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got <= 0 || got >= 1<<62 {
		t.Fatalf("got %d", got)
	}
	if _, err := mulDiv(1, 1, 0); err == nil {
		t.Fatalf("expected division error")
	}
}

func TestConfigValidate(t *testing.T) {
	ok := testConfig()
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	bad := []func(c *Config){
		func(c *Config) { c.EntryFee = -1 },
		func(c *Config) { c.MinParticipants = 0 },
		func(c *Config) { c.MaxParticipants = 1 },
		func(c *Config) { c.RegistrationWindow = 0 },
		func(c *Config) { c.ActiveBudget = 0 },
		func(c *Config) { c.TickInterval = -time.Second },
		func(c *Config) { c.CommissionBps = BpsScale + 1 },
		func(c *Config) { c.Remainder = RemainderHouse },
		func(c *Config) { c.Remainder = "coin_flip" },
	}
	for i, mutate := range bad {
		c := testConfig()
		mutate(&c)
		if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("case %d: got %v want ErrInvalidConfig", i, err)
		}
	}
}

func TestPhaseJSON(t *testing.T) {
	raw, err := json.Marshal([]Phase{PhaseRegistration, PhaseClosed})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `["registration","closed"]` {
		t.Fatalf("got %s", raw)
	}
	var back []Phase
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back) != 2 || back[1] != PhaseClosed {
		t.Fatalf("got %v", back)
	}
	if _, err := ParsePhase("paused"); err == nil {
		t.Fatalf("expected unknown phase error")
	}
}

func TestRegistryReleaseOnlyRemovesOwner(t *testing.T) {
	r := NewRegistry()
	first := &Session{ArenaID: "x"}
	second := &Session{ArenaID: "x"}
	if err := r.Create("x", first); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.Create("x", second); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("got %v want ErrAlreadyActive", err)
	}
	r.Remove("x")
	r.Remove("x")
	if err := r.Create("x", second); err != nil {
		t.Fatalf("create after remove: %v", err)
	}
	if r.release("x", first) {
		t.Fatalf("stale owner released the newer session")
	}
	if !r.release("x", second) || r.Len() != 0 {
		t.Fatalf("owner could not release")
	}
}

func TestManualClockOrdering(t *testing.T) {
	c := NewManualClock(epoch)
	var order []int
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	c.AfterFunc(time.Second, func() {
		order = append(order, 1)
		c.AfterFunc(0, func() { order = append(order, 10) })
	})
	stopped := c.AfterFunc(time.Second, func() { order = append(order, 99) })
	if !stopped.Stop() {
		t.Fatalf("stop of a pending timer reported false")
	}
	c.Advance(3 * time.Second)
	want := []int{1, 10, 2}
	if len(order) != len(want) {
		t.Fatalf("order %v want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order %v want %v", order, want)
		}
	}
	if !c.Now().Equal(epoch.Add(3 * time.Second)) {
		t.Fatalf("now %s", c.Now())
	}
	if stopped.Stop() {
		t.Fatalf("second stop reported true")
	}
}
