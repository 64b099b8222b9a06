// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package failures

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

// recorder remembers every value its handler was called with.
type recorder struct {
	calls []string
	fail  bool
}

func (r *recorder) handle(v json.RawMessage) error {
	if r.fail {
		return errors.New("rejected")
	}
	if v == nil {
		r.calls = append(r.calls, "<nil>")
	} else {
		r.calls = append(r.calls, string(v))
	}
	return nil
}

func newTestService(t *testing.T) (*Service, *recorder, *recorder, *httptest.Server) {
	s := New()
	read, fp := &recorder{}, &recorder{}
	if err := s.Register("read", read.handle); err != nil {
		t.Fatal(err)
	}
	if err := s.Register("fingerprint", fp.handle); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, read, fp, srv
}

func do(t *testing.T, method, url, body string) (int, string) {
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := ioutil.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(b))
}

func TestRegisterTwice(t *testing.T) {
	s := New()
	h := func(json.RawMessage) error { return nil }
	if err := s.Register("k", h); err != nil {
		t.Fatal(err)
	}
	if err := s.Register("k", h); err == nil {
		t.Errorf("second registration of the same key succeeded")
	}
	if keys := s.Keys(); !reflect.DeepEqual(keys, []string{"k"}) {
		t.Errorf("Keys() = %v", keys)
	}
}

func TestGetInitial(t *testing.T) {
	_, _, _, srv := newTestService(t)
	code, body := do(t, "GET", srv.URL, "")
	if code != http.StatusOK {
		t.Fatalf("GET returned %d", code)
	}
	var got map[string]interface{}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]interface{}{"read": nil, "fingerprint": nil}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GET = %v, want %v", got, want)
	}
}

func TestPostAndReset(t *testing.T) {
	s, read, fp, srv := newTestService(t)

	if code, body := do(t, "POST", srv.URL, `{"read": {"op": 6}}`); code != http.StatusOK {
		t.Fatalf("POST returned %d: %s", code, body)
	}
	if string(s.Get("read")) != `{"op": 6}` {
		t.Errorf("read = %s", s.Get("read"))
	}
	if !reflect.DeepEqual(read.calls, []string{`{"op": 6}`}) || len(fp.calls) != 0 {
		t.Errorf("calls after set: read %v fingerprint %v", read.calls, fp.calls)
	}

	// Omitting a key resets it; keys that were already unset aren't called.
	if code, _ := do(t, "POST", srv.URL, `{"fingerprint": 1}`); code != http.StatusOK {
		t.Fatalf("POST returned %d", code)
	}
	if s.Get("read") != nil || string(s.Get("fingerprint")) != "1" {
		t.Errorf("values: read %s fingerprint %s", s.Get("read"), s.Get("fingerprint"))
	}
	if !reflect.DeepEqual(read.calls, []string{`{"op": 6}`, "<nil>"}) {
		t.Errorf("read calls %v", read.calls)
	}

	if code, _ := do(t, "DELETE", srv.URL, ""); code != http.StatusOK {
		t.Fatalf("DELETE returned %d", code)
	}
	if s.Get("fingerprint") != nil {
		t.Errorf("DELETE left fingerprint = %s", s.Get("fingerprint"))
	}
	if !reflect.DeepEqual(fp.calls, []string{"1", "<nil>"}) {
		t.Errorf("fingerprint calls %v", fp.calls)
	}
}

func TestExplicitNull(t *testing.T) {
	s, read, _, _ := newTestService(t)
	if err := s.Apply(map[string]json.RawMessage{"read": json.RawMessage("null")}); err != nil {
		t.Fatal(err)
	}
	if len(read.calls) != 0 || s.Get("read") != nil {
		t.Errorf("null on an unset key called the handler: %v", read.calls)
	}
}

func TestRejectedUpdates(t *testing.T) {
	s, read, fp, srv := newTestService(t)

	if code, _ := do(t, "POST", srv.URL, `{"nope": 1}`); code != http.StatusBadRequest {
		t.Errorf("unknown key returned %d", code)
	}
	if code, _ := do(t, "POST", srv.URL, `{"read": `); code != http.StatusBadRequest {
		t.Errorf("bad json returned %d", code)
	}
	if code, _ := do(t, "PUT", srv.URL, `{}`); code != http.StatusMethodNotAllowed {
		t.Errorf("PUT returned %d", code)
	}
	if len(read.calls)+len(fp.calls) != 0 {
		t.Errorf("rejected updates reached handlers: %v %v", read.calls, fp.calls)
	}

	fp.fail = true
	if err := s.Apply(map[string]json.RawMessage{"fingerprint": json.RawMessage("2")}); err == nil {
		t.Errorf("handler error wasn't returned")
	}
	if s.Get("fingerprint") != nil {
		t.Errorf("rejected value was stored")
	}
}
