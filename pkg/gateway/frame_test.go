package gateway

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestDecodeFrameEvent(t *testing.T) {
	data := []byte(`{"type":"event","event":"agent.delta","payload":{"text":"hi"},"seq":7,"stateVersion":{"presence":2,"health":1}}`)
	f, err := decodeFrame(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Type != FrameTypeEvent {
		t.Errorf("type = %q", f.Type)
	}
	if f.Event != "agent.delta" {
		t.Errorf("event = %q", f.Event)
	}
	if f.Seq == nil || *f.Seq != 7 {
		t.Errorf("seq = %v", f.Seq)
	}
	if f.StateVersion == nil || f.StateVersion.Presence != 2 || f.StateVersion.Health != 1 {
		t.Errorf("stateVersion = %+v", f.StateVersion)
	}
}

func TestDecodeFrameResponse(t *testing.T) {
	data := []byte(`{"type":"res","id":"abc","ok":false,"error":{"code":"NOT_FOUND","message":"no such session"}}`)
	f, err := decodeFrame(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Type != FrameTypeResponse || f.ID != "abc" || f.OK {
		t.Errorf("frame = %+v", f)
	}
	if f.Error == nil || f.Error.Code != "NOT_FOUND" {
		t.Errorf("error = %+v", f.Error)
	}
}

func TestDecodeFrameMalformed(t *testing.T) {
	for _, data := range []string{
		`{not json`,
		`"just a string"`,
		`{"type":"banana"}`,
		`{}`,
	} {
		if _, err := decodeFrame([]byte(data)); err == nil {
			t.Errorf("decodeFrame(%s) succeeded, want error", data)
		}
	}
}

func TestEncodeRequestFrameOmitsResponseFields(t *testing.T) {
	f := Frame{Type: FrameTypeRequest, ID: "id-1", Method: "health"}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"ok", "error", "event", "seq", "payload"} {
		if _, present := m[key]; present {
			t.Errorf("request frame unexpectedly carries %q: %s", key, data)
		}
	}
}

func TestRequestIDUniqueness(t *testing.T) {
	const n = 10000
	var (
		mu  sync.Mutex
		ids = make(map[string]bool, n)
		wg  sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := newRequestID()
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(ids) != n {
		t.Fatalf("generated %d unique ids out of %d", len(ids), n)
	}
}
