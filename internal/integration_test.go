package internal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/gps-tracker/internal/connectivity"
	"github.com/sweeney/gps-tracker/internal/cycle"
	"github.com/sweeney/gps-tracker/internal/failure"
	"github.com/sweeney/gps-tracker/internal/location"
	"github.com/sweeney/gps-tracker/internal/metrics"
	"github.com/sweeney/gps-tracker/internal/modem"
	"github.com/sweeney/gps-tracker/internal/mqtt"
	"github.com/sweeney/gps-tracker/internal/sink"
	"github.com/sweeney/gps-tracker/internal/status"
	"github.com/sweeney/gps-tracker/internal/telemetry"
	"github.com/sweeney/gps-tracker/internal/web"
)

var (
	testFix = modem.Fix{Latitude: 37.1, Longitude: -122.4, SpeedKmh: 12.3, Altitude: 50}
	testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

type nopDog struct{}

func (nopDog) Arm(time.Duration) {}
func (nopDog) Kick()             {}
func (nopDog) Disarm()           {}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// collector is an HTTP endpoint that records posted forms and answers with
// a fixed status code.
type collector struct {
	mu    sync.Mutex
	code  int
	forms []url.Values
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	form, _ := url.ParseQuery(string(body))
	c.mu.Lock()
	c.forms = append(c.forms, form)
	code := c.code
	c.mu.Unlock()
	w.WriteHeader(code)
	io.WriteString(w, "ok")
}

func (c *collector) hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.forms)
}

type device struct {
	driver   *modem.FakeDriver
	client   *mqtt.FakeClient
	http     *collector
	logPath  string
	tracker  *status.Tracker
	registry *prometheus.Registry
	orch     *cycle.Orchestrator
}

// newDevice wires the real packages the way the daemon does, with fakes at
// the modem, broker and collector boundaries.
func newDevice(t *testing.T, policy location.Policy, thresholds failure.Thresholds) *device {
	t.Helper()
	d := &device{
		driver:   modem.NewFakeDriver(),
		client:   mqtt.NewFakeClient(),
		http:     &collector{code: http.StatusOK},
		logPath:  filepath.Join(t.TempDir(), "track.csv"),
		registry: prometheus.NewRegistry(),
	}
	d.driver.Fixes = []modem.FixResult{{Fix: testFix}}
	d.driver.Battery = 85
	d.driver.Now = testNow

	srv := httptest.NewServer(d.http)
	t.Cleanup(srv.Close)

	names := []string{sink.NameLocal, sink.NameMQTT, sink.NameHTTP}
	state := failure.NewDeviceState(thresholds, names)
	dog := nopDog{}

	conn := connectivity.NewManager(d.driver, connectivity.Config{APN: "internet"}, state.Bearer, dog, noSleep)
	loc, err := location.NewAcquirer(d.driver, policy, time.Second, state.Fix, dog, noSleep, nil)
	if err != nil {
		t.Fatalf("acquirer: %v", err)
	}

	sinks := []sink.Sink{
		sink.NewLocalLog(d.logPath, telemetry.FormatCSV6, state.DeliveryCounter(sink.NameLocal, thresholds.Delivery)),
		sink.NewPublish(d.client, sink.PublishConfig{
			Topic:       "feeds/gps/csv",
			SystemTopic: "feeds/gps-system",
			QoS:         1,
			Format:      telemetry.FormatCSV4,
			Startup:     &mqtt.SystemEvent{Event: mqtt.EventStartup, BootID: "boot-1"},
		}, state.Handshake, state.DeliveryCounter(sink.NameMQTT, thresholds.Delivery), dog, noSleep),
		sink.NewHTTPPost(srv.URL, srv.Client(), state.DeliveryCounter(sink.NameHTTP, thresholds.Delivery), time.Second, dog, noSleep),
	}

	m, err := metrics.New(d.registry)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	d.tracker = status.NewTracker(testNow, status.Config{Sinks: names, FixPolicy: string(policy)})
	d.tracker.NewGeneration("boot-1", 0, "")
	d.tracker.WatchMQTT(d.client)

	d.orch = cycle.New(cycle.Config{}, state, conn, loc, sinks, dog,
		cycle.WithSleeper(noSleep),
		cycle.WithObserver(cycle.Observers{d.tracker, m}))
	return d
}

func (d *device) localLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(d.logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read local log: %v", err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func (d *device) get(t *testing.T, path string) string {
	t.Helper()
	srv := httptest.NewServer(web.New("", d.tracker, d.registry).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

var defaultThresholds = failure.Thresholds{Bearer: 6, Handshake: 5, Fix: 10, Delivery: 3, Cycle: 5}

// TestIntegrationFullCycle drives one cycle from fix to every sink and reads
// the result back through the status page and metrics endpoint.
func TestIntegrationFullCycle(t *testing.T) {
	d := newDevice(t, location.PolicySkip, defaultThresholds)

	if err := d.orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	lines := d.localLines(t)
	want := "2024-03-01T12:00:00Z,12.30:85,37.100000,-122.400000,50.00"
	if len(lines) != 1 || lines[0] != want {
		t.Errorf("local log: got %q, want [%q]", lines, want)
	}

	if len(d.client.Messages) != 2 {
		t.Fatalf("expected startup and feed messages, got %d", len(d.client.Messages))
	}
	if got := d.client.Messages[0]; got.Topic != "feeds/gps-system" || !got.Retained {
		t.Errorf("first message should be the retained startup event, got %+v", got)
	}
	if got := string(d.client.Messages[1].Payload); got != "12.30,37.100000,-122.400000,50.00" {
		t.Errorf("feed payload: got %q", got)
	}

	if d.http.hits() != 1 {
		t.Fatalf("expected 1 HTTP post, got %d", d.http.hits())
	}
	form := d.http.forms[0]
	if form.Get("lat") != "37.100000" || form.Get("lon") != "-122.400000" || form.Get("bat") != "85" {
		t.Errorf("unexpected form: %v", form)
	}

	var st status.StatusJSON
	if err := json.Unmarshal([]byte(d.get(t, "/index.json")), &st); err != nil {
		t.Fatalf("invalid status JSON: %v", err)
	}
	if st.Status.LastOutcome != "delivered" {
		t.Errorf("last outcome: got %q", st.Status.LastOutcome)
	}
	if st.Status.State != "idle" {
		t.Errorf("state: got %q", st.Status.State)
	}
	if st.Status.LastSample == nil || st.Status.LastSample.Latitude != 37.1 {
		t.Errorf("last sample: got %+v", st.Status.LastSample)
	}
	if !st.Status.MQTT.Connected {
		t.Error("expected MQTT connected in status")
	}
	if !st.Status.LinkUp {
		t.Error("expected cellular link up in status")
	}
	if d.driver.BearerQueries != 1 {
		t.Errorf("expected 1 bearer status query, got %d", d.driver.BearerQueries)
	}

	m := d.get(t, "/metrics")
	if !strings.Contains(m, `tracker_cycles_total{outcome="delivered"} 1`) {
		t.Errorf("metrics missing delivered cycle:\n%s", m)
	}
	if !strings.Contains(m, "tracker_battery_percent 85") {
		t.Errorf("metrics missing battery gauge:\n%s", m)
	}
	if !strings.Contains(m, "tracker_link_up 1") {
		t.Errorf("metrics missing link gauge:\n%s", m)
	}
}

// TestIntegrationDegradedLink keeps the local log going while the broker
// and collector fail, until the broker's delivery budget forces a restart.
func TestIntegrationDegradedLink(t *testing.T) {
	d := newDevice(t, location.PolicySkip, defaultThresholds)
	d.http.code = http.StatusInternalServerError
	d.client.PublishResults = []error{nil, io.ErrUnexpectedEOF}

	err := d.orch.Run(context.Background())
	re, ok := cycle.AsRestart(err)
	if !ok {
		t.Fatalf("expected restart, got %v", err)
	}
	if re.Category != failure.CategoryDelivery {
		t.Errorf("restart category: got %s", re.Category)
	}
	if d.orch.Cycles() != 3 {
		t.Errorf("expected restart on cycle 3, got %d", d.orch.Cycles())
	}

	// Every cycle still reached the local log.
	if n := len(d.localLines(t)); n != 3 {
		t.Errorf("local log: expected 3 lines, got %d", n)
	}
	// The collector gets its full retry budget once; while its counter
	// stays saturated every later cycle makes a single attempt.
	if d.http.hits() != 5 {
		t.Errorf("expected 5 HTTP attempts, got %d", d.http.hits())
	}

	snap := d.tracker.Snapshot()
	if snap.LastOutcome != cycle.OutcomeRestart {
		t.Errorf("last outcome: got %s", snap.LastOutcome)
	}
	if snap.Counters["delivery/mqtt"] != 3 {
		t.Errorf("mqtt delivery counter: got %d", snap.Counters["delivery/mqtt"])
	}

	m := d.get(t, "/metrics")
	for _, want := range []string{
		`tracker_cycles_total{outcome="delivered"} 2`,
		`tracker_cycles_total{outcome="restart"} 1`,
	} {
		if !strings.Contains(m, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

// TestIntegrationNoFixSkipsCycle checks that a device with a local log
// gives up on the cycle without touching any sink.
func TestIntegrationNoFixSkipsCycle(t *testing.T) {
	th := defaultThresholds
	th.Fix = 3
	d := newDevice(t, location.PolicySkip, th)
	d.driver.Fixes = nil

	if err := d.orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if d.driver.FixPolls != 3 {
		t.Errorf("expected 3 fix polls, got %d", d.driver.FixPolls)
	}
	if lines := d.localLines(t); lines != nil {
		t.Errorf("expected no local log, got %q", lines)
	}
	if d.client.Publishes != 0 || d.http.hits() != 0 {
		t.Errorf("sinks should not run: publishes=%d posts=%d", d.client.Publishes, d.http.hits())
	}

	snap := d.tracker.Snapshot()
	if snap.LastOutcome != cycle.OutcomeFixSkipped {
		t.Errorf("last outcome: got %s", snap.LastOutcome)
	}
	if snap.Counters[string(failure.CategoryCycle)] != 1 {
		t.Errorf("cycle counter: got %d", snap.Counters[string(failure.CategoryCycle)])
	}
	if snap.LastSample != nil {
		t.Errorf("expected no sample, got %+v", snap.LastSample)
	}
}

// TestIntegrationNoFixRestarts covers a device without a local log.
func TestIntegrationNoFixRestarts(t *testing.T) {
	th := defaultThresholds
	th.Fix = 2
	d := newDevice(t, location.PolicyRestart, th)
	d.driver.Fixes = nil

	err := d.orch.RunCycle(context.Background())
	re, ok := cycle.AsRestart(err)
	if !ok || re.Category != failure.CategoryFix {
		t.Fatalf("expected fix restart, got %v", err)
	}
	if d.driver.FixPolls != 2 {
		t.Errorf("expected 2 fix polls, got %d", d.driver.FixPolls)
	}
}
