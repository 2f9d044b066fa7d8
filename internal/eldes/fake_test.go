package eldes

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/darshan-rambhia/eldesmon/internal/retry"
)

// fakeCloud is an in-memory ELDES Cloud with one device and mutable state.
type fakeCloud struct {
	t *testing.T

	mu         sync.Mutex
	partitions []fakePartition
	tokenSeq   int
	validToken string

	loginStatus  int    // 0 means 200
	loginBody    string // overrides the login answer when set
	listStatus   int
	listBody     string
	tempStatus   int
	tempBody     string
	infoStatus   int
	infoBody     string
	controlCode  int  // 0 means 202
	expireOnce   bool // answer the next authenticated call with 401
	requests     map[string]int
	lastLogin    map[string]string
	lastControl  map[string]any
	lastHeaders  http.Header
	unauthorized int
}

type fakePartition struct {
	ID    int
	Name  string
	Armed bool
}

const fakeIMEI = "123456789012345"

func newFakeCloud(t *testing.T) (*fakeCloud, *httptest.Server) {
	t.Helper()
	f := &fakeCloud{
		t:          t,
		partitions: []fakePartition{{ID: 1, Name: "Partition 1"}},
		requests:   make(map[string]int),
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeCloud) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[path]
}

func (f *fakeCloud) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.requests {
		n += c
	}
	return n
}

func (f *fakeCloud) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[r.URL.Path]++
	f.lastHeaders = r.Header.Clone()

	if r.URL.Path == "/auth/login" {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &f.lastLogin)
		if f.loginStatus != 0 && f.loginStatus != http.StatusOK {
			w.WriteHeader(f.loginStatus)
			_, _ = io.WriteString(w, f.loginBody)
			return
		}
		if f.loginBody != "" {
			_, _ = io.WriteString(w, f.loginBody)
			return
		}
		f.tokenSeq++
		f.validToken = fmt.Sprintf("tok-%d", f.tokenSeq)
		fmt.Fprintf(w, `{"token":%q,"refreshToken":"refresh"}`, f.validToken)
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+f.validToken || f.validToken == "" || f.expireOnce {
		f.expireOnce = false
		f.unauthorized++
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.URL.Path {
	case "/device/list":
		if f.listStatus != 0 {
			w.WriteHeader(f.listStatus)
			_, _ = io.WriteString(w, f.listBody)
			return
		}
		if f.listBody != "" {
			_, _ = io.WriteString(w, f.listBody)
			return
		}
		_, _ = io.WriteString(w, f.deviceListJSON())
	case "/device/temperatures":
		if f.tempStatus != 0 {
			w.WriteHeader(f.tempStatus)
			return
		}
		body := f.tempBody
		if body == "" {
			body = `{"temperatureDetailsList":[{"sensorId":1,"sensorName":"Hall","temperature":21.5,"minTemperature":30,"maxTemperature":5}]}`
		}
		_, _ = io.WriteString(w, body)
	case "/device/info":
		if f.infoStatus != 0 {
			w.WriteHeader(f.infoStatus)
			return
		}
		body := f.infoBody
		if body == "" {
			body = `{"online":true,"gsmStrength":3,"batteryStatus":true,"phoneNumber":"+37060000000"}`
		}
		_, _ = io.WriteString(w, body)
	case "/device/action/arm", "/device/action/disarm":
		body, _ := io.ReadAll(r.Body)
		f.lastControl = map[string]any{}
		_ = json.Unmarshal(body, &f.lastControl)
		if f.controlCode != 0 && f.controlCode != http.StatusAccepted {
			w.WriteHeader(f.controlCode)
			return
		}
		idx := int(f.lastControl["partitionIndex"].(float64))
		for i := range f.partitions {
			if f.partitions[i].ID == idx {
				f.partitions[i].Armed = strings.HasSuffix(r.URL.Path, "/arm")
			}
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeCloud) deviceListJSON() string {
	parts := make([]map[string]any, 0, len(f.partitions))
	for _, p := range f.partitions {
		parts = append(parts, map[string]any{"internalId": p.ID, "name": p.Name, "armed": p.Armed, "isReady": true})
	}
	b, _ := json.Marshal(map[string]any{
		"deviceListEntries": []map[string]any{{
			"imei":            fakeIMEI,
			"name":            "Home",
			"model":           "ESIM364",
			"firmwareVersion": "02.12.00",
			"partitions":      parts,
		}},
	})
	return string(b)
}

func testConfig(url string) Config {
	return Config{
		BaseURL:    url,
		Whitelabel: "eldes",
		Timeout:    5 * time.Second,
		Retry:      retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
	}
}

func testClient(url string) *Client {
	return NewClient(testConfig(url), Credentials{Login: "user@example.com", Secret: "pw"})
}
