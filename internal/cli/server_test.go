package cli

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/config"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/limiter"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/recorder"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/replay"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/server"
)

// Two callers behind one proxy share a RemoteAddr and differ only in
// X-Forwarded-For. A replay of the capture must still see two callers.
func TestServerCapture_ReplayKeepsForwardedCallers(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Fingerprint.TrustForwardedFor = true
	cfg.Policies[0].MaxAttempts = 2 // login
	policies, err := cfg.PolicySet()
	if err != nil {
		t.Fatalf("PolicySet() error = %v", err)
	}

	live := replay.NewSandbox(epoch, limiter.WithFingerprinter(newFingerprinter(cfg.Fingerprint)))
	defer live.Close()
	rec := recorder.New(nil)
	srv := server.New(server.Options{
		Engine:        live.Engine,
		Policies:      policies,
		Recorder:      rec,
		RecordHeaders: cfg.RecordHeaders(),
	})

	for i := 0; i < 3; i++ {
		for _, ip := range []string{"198.51.100.1", "198.51.100.2"} {
			req := httptest.NewRequest(http.MethodPost, "/api/attempt/login", nil)
			req.RemoteAddr = "10.0.0.1:5000"
			req.Header.Set("User-Agent", "curl/8.0")
			req.Header.Set("X-Forwarded-For", ip+", 10.0.0.254")
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			want := http.StatusOK
			if i == 2 {
				want = http.StatusTooManyRequests
			}
			if w.Code != want {
				t.Fatalf("attempt %d from %s: status = %d, want %d", i+1, ip, w.Code, want)
			}
		}
		live.Clock.Advance(time.Second)
	}

	path := filepath.Join(t.TempDir(), "traffic.json")
	if err := rec.ExportFile(path); err != nil {
		t.Fatalf("ExportFile() error = %v", err)
	}
	records, err := recorder.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if got := records[0].Headers["X-Forwarded-For"]; got != "198.51.100.1, 10.0.0.254" {
		t.Fatalf("captured X-Forwarded-For = %q", got)
	}

	p, err := policies.Lookup("login")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	sb := replay.NewSandbox(earliest(records), limiter.WithFingerprinter(newFingerprinter(cfg.Fingerprint)))
	defer sb.Close()
	r := replay.New(sb.Engine, sb.Clock, p, 0, replay.Filter{Policies: []string{"login"}})
	r.LoadRecords(records)

	summary, err := r.Run(t.Context(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(summary.PerCaller) != 2 {
		t.Fatalf("replay saw %d callers, want 2: %+v", len(summary.PerCaller), summary.PerCaller)
	}
	if summary.Allowed != 4 || summary.Denied != 2 {
		t.Errorf("replay allowed=%d denied=%d, want 4 and 2 as in live traffic", summary.Allowed, summary.Denied)
	}
	for fp, cs := range summary.PerCaller {
		if cs.Allowed != 2 || cs.Denied != 1 {
			t.Errorf("caller %s: allowed=%d denied=%d, want 2 and 1", fp, cs.Allowed, cs.Denied)
		}
	}
}
