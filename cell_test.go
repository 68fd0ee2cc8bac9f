package bettershare

import (
	"testing"
)

func TestCell_FillKeepsNewerUpdate(t *testing.T) {
	var c cell

	gen := c.generation()
	newer := DefaultPreferences()
	newer.X = XTwittpr
	c.publish(newer)

	got := c.fill(gen, DefaultPreferences())
	if got.X != XTwittpr {
		t.Errorf("fill() = %+v, want the newer published value", got)
	}
	if cached, _ := c.get(); cached.X != XTwittpr {
		t.Errorf("cached = %+v, want the newer published value", cached)
	}
}

func TestCell_Fill(t *testing.T) {
	var c cell

	if _, ok := c.get(); ok {
		t.Fatal("get() ok = true on empty cell")
	}
	c.fill(c.generation(), DefaultPreferences())
	if _, ok := c.get(); !ok {
		t.Error("get() ok = false after fill")
	}
}

func TestCell_Listeners(t *testing.T) {
	var c cell
	var calls []string

	id1 := c.subscribe(func(UserPreferences) { calls = append(calls, "first") })
	c.subscribe(func(UserPreferences) { calls = append(calls, "second") })

	c.publish(DefaultPreferences())
	c.unsubscribe(id1)
	c.unsubscribe(id1)
	c.unsubscribe(999)
	c.publish(DefaultPreferences())

	want := []string{"first", "second", "second"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestCell_UnsubscribeWithinCallback(t *testing.T) {
	var c cell
	calls := 0
	var id ListenerID
	id = c.subscribe(func(UserPreferences) {
		calls++
		c.unsubscribe(id)
	})

	c.publish(DefaultPreferences())
	c.publish(DefaultPreferences())

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
