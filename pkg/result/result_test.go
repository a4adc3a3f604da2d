package result

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestOf(t *testing.T) {
	r := Of(42, nil)
	if v, err := r.Unwrap(); v != 42 || err != nil || !r.OK() {
		t.Errorf("unexpected %v %v", v, err)
	}

	boom := errors.New("boom")
	r = Of(42, boom)
	v, err := r.Unwrap()
	if v != 0 {
		t.Errorf("payload must be dropped on error, got %d", v)
	}
	if !errors.Is(err, boom) || r.OK() || r.Err() != boom {
		t.Errorf("unexpected error %v", err)
	}
}

func TestMarshalJSON(t *testing.T) {
	type vitals struct {
		Pulse int `json:"pulse"`
	}
	ok, _ := json.Marshal(Ok(vitals{Pulse: 72}))
	if string(ok) != `{"data":{"pulse":72}}` {
		t.Errorf("unexpected %s", ok)
	}
	fail, _ := json.Marshal(Fail[vitals](errors.New("timeout")))
	if string(fail) != `{"error":"timeout"}` {
		t.Errorf("unexpected %s", fail)
	}
	empty, _ := json.Marshal(Ok[*vitals](nil))
	if string(empty) != `{"data":null}` {
		t.Errorf("unexpected %s", empty)
	}
}
