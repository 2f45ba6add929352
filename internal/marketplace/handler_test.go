package marketplace_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/bids"
	"github.com/sudo-init-do/jobhub/internal/escrow"
	"github.com/sudo-init-do/jobhub/internal/httpx"
	"github.com/sudo-init-do/jobhub/internal/jobs"
	"github.com/sudo-init-do/jobhub/internal/marketplace"
	"github.com/sudo-init-do/jobhub/internal/payments"
	"github.com/sudo-init-do/jobhub/internal/progress"
	"github.com/sudo-init-do/jobhub/internal/store/sqlite"
)

type env struct {
	e       *echo.Echo
	sandbox *payments.Sandbox
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "marketplace.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	sandbox := payments.NewSandbox("whsec")
	registry := jobs.NewRegistry(s)
	ledger := bids.NewLedger(s, registry)
	coord := escrow.NewCoordinator(s, registry, ledger, sandbox, escrow.WithFeeBasisPoints(1000))
	plog := progress.NewLog(s, registry, ledger)

	e := echo.New()
	e.Validator = httpx.NewValidator()
	g := e.Group("", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(httpx.KeyUserID, c.Request().Header.Get("X-User"))
			c.Set(httpx.KeyRole, c.Request().Header.Get("X-Role"))
			return next(c)
		}
	})
	marketplace.NewHandler(registry, ledger, coord, plog).Register(g)
	return &env{e: e, sandbox: sandbox}
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string          `json:"code"`
		Current json.RawMessage `json:"current"`
	} `json:"error"`
}

func (v *env) call(t *testing.T, method, path, user, role, body string, headers ...string) (int, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set("X-User", user)
	req.Header.Set("X-Role", role)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, req)
	var r response
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, r
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func TestJobToReleaseOverHTTP(t *testing.T) {
	v := newEnv(t)

	code, r := v.call(t, http.MethodPost, "/jobs", "poster", "poster", `{"title":"Tile bathroom","description":"6 sqm","service_type":"tiling"}`)
	if code != http.StatusCreated {
		t.Fatalf("create job: %d %+v", code, r)
	}
	job := decode[jobs.Job](t, r.Data)

	if code, _ := v.call(t, http.MethodPost, "/jobs", "provider-a", "provider", `{"title":"x","description":"y","service_type":"z"}`); code != http.StatusForbidden {
		t.Fatalf("provider creating job: %d", code)
	}
	if code, r := v.call(t, http.MethodPost, "/jobs", "poster", "poster", `{"title":"x"}`); code != http.StatusBadRequest || r.Error.Code != "validation_error" {
		t.Fatalf("invalid job: %d %+v", code, r)
	}

	code, r = v.call(t, http.MethodPost, "/jobs/"+job.ID+"/bids", "provider-a", "provider", `{"amount":"500.00","timeline":"1 week"}`)
	if code != http.StatusCreated {
		t.Fatalf("bid a: %d %+v", code, r)
	}
	bidA := decode[bids.Bid](t, r.Data)
	if bidA.Amount != 50000 {
		t.Fatalf("amount = %d", bidA.Amount)
	}
	code, r = v.call(t, http.MethodPost, "/jobs/"+job.ID+"/bids", "provider-b", "provider", `{"amount":"450"}`)
	if code != http.StatusCreated {
		t.Fatalf("bid b: %d %+v", code, r)
	}
	bidB := decode[bids.Bid](t, r.Data)

	if code, r := v.call(t, http.MethodPost, "/jobs/"+job.ID+"/bids", "provider-b", "provider", `{"amount":"400"}`); code != http.StatusConflict || r.Error.Code != "duplicate_bid" {
		t.Fatalf("duplicate bid: %d %+v", code, r)
	}

	_, r = v.call(t, http.MethodGet, "/jobs/"+job.ID+"/bids", "provider-b", "provider", "")
	if own := decode[httpx.List[bids.Bid]](t, r.Data); len(own.Items) != 1 || own.Items[0].ID != bidB.ID {
		t.Fatalf("provider sees %+v", own.Items)
	}
	_, r = v.call(t, http.MethodGet, "/jobs/"+job.ID+"/bids", "poster", "poster", "")
	if all := decode[httpx.List[bids.Bid]](t, r.Data); len(all.Items) != 2 {
		t.Fatalf("poster sees %d bids", len(all.Items))
	}

	if code, _ := v.call(t, http.MethodPost, "/bids/"+bidA.ID+"/accept", "someone-else", "poster", ""); code != http.StatusForbidden {
		t.Fatalf("foreign accept: %d", code)
	}
	code, r = v.call(t, http.MethodPost, "/bids/"+bidA.ID+"/accept", "poster", "poster", "")
	if code != http.StatusOK {
		t.Fatalf("accept: %d %+v", code, r)
	}
	d := decode[bids.Decision](t, r.Data)
	if d.Job.Status != jobs.StatusInProgress || len(d.Rejected) != 1 || d.Rejected[0] != bidB.ID {
		t.Fatalf("decision = %+v", d)
	}
	code, r = v.call(t, http.MethodPost, "/bids/"+bidB.ID+"/accept", "poster", "poster", "")
	if code != http.StatusConflict || r.Error.Code != "already_decided" || len(r.Error.Current) == 0 {
		t.Fatalf("second accept: %d %+v", code, r)
	}

	code, r = v.call(t, http.MethodPost, "/bids/"+bidA.ID+"/payments", "poster", "poster", "", "Idempotency-Key", "auth-1")
	if code != http.StatusCreated {
		t.Fatalf("authorize: %d %+v", code, r)
	}
	auth := decode[escrow.AuthorizeResult](t, r.Data)
	if auth.ClientSecret == "" || auth.Payment.Status != escrow.StatusCreated {
		t.Fatalf("authorize result = %+v", auth)
	}
	payID := auth.Payment.ID

	code, r = v.call(t, http.MethodPost, "/bids/"+bidA.ID+"/payments", "poster", "poster", "", "Idempotency-Key", "auth-1")
	if again := decode[escrow.AuthorizeResult](t, r.Data); code != http.StatusCreated || again.Payment.ID != payID || again.ClientSecret != auth.ClientSecret {
		t.Fatalf("authorize replay: %d %+v", code, r)
	}

	conf, err := v.sandbox.Confirm(auth.Payment.AuthorizationRef)
	if err != nil {
		t.Fatal(err)
	}
	captureBody := `{"reference":"` + conf.Reference + `","amount":"500.00","currency":"USD","signature":"` + conf.Signature + `"}`
	code, r = v.call(t, http.MethodPost, "/payments/"+payID+"/capture", "poster", "poster", captureBody, "Idempotency-Key", "cap-1")
	if code != http.StatusOK || decode[escrow.Payment](t, r.Data).Status != escrow.StatusHeld {
		t.Fatalf("capture: %d %+v", code, r)
	}

	code, r = v.call(t, http.MethodPost, "/payments/"+payID+"/release", "poster", "poster", `{"reason":"early"}`)
	if code != http.StatusConflict || r.Error.Code != "invalid_state_transition" {
		t.Fatalf("early release: %d %+v", code, r)
	}

	code, r = v.call(t, http.MethodPost, "/jobs/"+job.ID+"/progress", "provider-a", "provider", `{"bid_id":"`+bidA.ID+`","status":"completed","progress_percent":100,"title":"Done"}`)
	if code != http.StatusCreated {
		t.Fatalf("progress: %d %+v", code, r)
	}
	if res := decode[progress.Result](t, r.Data); res.Job.Status != jobs.StatusCompleted {
		t.Fatalf("job = %s", res.Job.Status)
	}

	if code, _ := v.call(t, http.MethodPost, "/payments/"+payID+"/release", "provider-a", "provider", `{}`); code != http.StatusForbidden {
		t.Fatalf("provider release: %d", code)
	}
	code, r = v.call(t, http.MethodPost, "/payments/"+payID+"/release", "poster", "poster", `{"reason":"job_completed"}`, "Idempotency-Key", "rel-1")
	if code != http.StatusOK {
		t.Fatalf("release: %d %+v", code, r)
	}
	paid := decode[escrow.Payment](t, r.Data)
	if paid.Status != escrow.StatusReleased || paid.ReleasedAmount != 50000 || paid.FeeAmount != 5000 || paid.ReleaseDate == nil {
		t.Fatalf("released payment = %+v", paid)
	}

	// replaying the same key returns the recorded outcome
	code, r = v.call(t, http.MethodPost, "/payments/"+payID+"/release", "poster", "poster", `{"reason":"job_completed"}`, "Idempotency-Key", "rel-1")
	if code != http.StatusOK || decode[escrow.Payment](t, r.Data).TransferRef != paid.TransferRef {
		t.Fatalf("replay: %d %+v", code, r)
	}

	if code, _ := v.call(t, http.MethodGet, "/payments/"+payID, "provider-b", "provider", ""); code != http.StatusForbidden {
		t.Fatalf("stranger reads payment: %d", code)
	}
	if code, _ := v.call(t, http.MethodGet, "/payments/"+payID, "provider-a", "provider", ""); code != http.StatusOK {
		t.Fatalf("provider reads payment: %d", code)
	}
	code, r = v.call(t, http.MethodPost, "/payments/"+payID+"/refund", "poster", "poster", `{}`)
	if code != http.StatusConflict || r.Error.Code != "invalid_state_transition" {
		t.Fatalf("refund after release: %d %+v", code, r)
	}
}

func TestListsAndErrors(t *testing.T) {
	v := newEnv(t)
	for _, title := range []string{"a", "b", "c"} {
		if code, r := v.call(t, http.MethodPost, "/jobs", "poster", "poster", `{"title":"`+title+`","description":"d","service_type":"cleaning"}`); code != http.StatusCreated {
			t.Fatalf("create: %d %+v", code, r)
		}
	}

	code, r := v.call(t, http.MethodGet, "/jobs?limit=2&service_type=cleaning", "anyone", "provider", "")
	if code != http.StatusOK {
		t.Fatalf("list: %d", code)
	}
	first := decode[httpx.List[jobs.Job]](t, r.Data)
	if len(first.Items) != 2 || first.NextCursor == "" {
		t.Fatalf("first page = %+v", first)
	}
	_, r = v.call(t, http.MethodGet, "/jobs?limit=2&service_type=cleaning&cursor="+first.NextCursor, "anyone", "provider", "")
	second := decode[httpx.List[jobs.Job]](t, r.Data)
	if len(second.Items) != 1 || second.NextCursor != "" {
		t.Fatalf("second page = %+v", second)
	}

	if code, r := v.call(t, http.MethodGet, "/jobs?status=bogus", "anyone", "provider", ""); code != http.StatusBadRequest || r.Success {
		t.Fatalf("bad status: %d", code)
	}
	if code, r := v.call(t, http.MethodGet, "/jobs/missing", "anyone", "provider", ""); code != http.StatusNotFound || r.Error.Code != "not_found" {
		t.Fatalf("missing job: %d %+v", code, r)
	}
	if code, _ := v.call(t, http.MethodPost, "/jobs/"+first.Items[0].ID+"/cancel", "intruder", "poster", ""); code != http.StatusForbidden {
		t.Fatalf("foreign cancel: %d", code)
	}
	if code, _ := v.call(t, http.MethodPost, "/jobs/"+first.Items[0].ID+"/cancel", "admin-1", "admin", ""); code != http.StatusOK {
		t.Fatalf("admin cancel: %d", code)
	}
	if code, r := v.call(t, http.MethodPost, "/jobs/"+first.Items[0].ID+"/bids", "provider-a", "provider", `{"amount":"10"}`); code != http.StatusConflict || r.Error.Code != "job_closed" {
		t.Fatalf("bid on cancelled: %d %+v", code, r)
	}
	if code, _ := v.call(t, http.MethodPost, "/jobs/"+first.Items[1].ID+"/bids", "provider-a", "provider", `{"amount":"ten"}`); code != http.StatusBadRequest {
		t.Fatalf("bad amount: %d", code)
	}
}

func TestReviseAndProgressVisibility(t *testing.T) {
	v := newEnv(t)
	_, r := v.call(t, http.MethodPost, "/jobs", "poster", "poster", `{"title":"Roof","description":"leak","service_type":"roofing"}`)
	job := decode[jobs.Job](t, r.Data)
	_, r = v.call(t, http.MethodPost, "/jobs/"+job.ID+"/bids", "provider-a", "provider", `{"amount":"300"}`)
	bid := decode[bids.Bid](t, r.Data)

	code, r := v.call(t, http.MethodPatch, "/bids/"+bid.ID, "provider-a", "provider", `{"amount":"280","timeline":"3 days"}`)
	if code != http.StatusOK || decode[bids.Bid](t, r.Data).Version != 2 {
		t.Fatalf("revise: %d %+v", code, r)
	}
	_, r = v.call(t, http.MethodGet, "/bids/"+bid.ID+"/revisions", "poster", "poster", "")
	if revs := decode[[]bids.Revision](t, r.Data); len(revs) != 2 {
		t.Fatalf("revisions = %+v", revs)
	}
	if code, _ := v.call(t, http.MethodGet, "/bids/"+bid.ID+"/revisions", "provider-z", "provider", ""); code != http.StatusForbidden {
		t.Fatalf("stranger revisions: %d", code)
	}

	v.call(t, http.MethodPost, "/bids/"+bid.ID+"/accept", "poster", "poster", "")
	v.call(t, http.MethodPost, "/jobs/"+job.ID+"/progress", "provider-a", "provider", `{"bid_id":"`+bid.ID+`","status":"in_progress","progress_percent":10,"title":"Started"}`)
	v.call(t, http.MethodPost, "/jobs/"+job.ID+"/progress", "provider-a", "provider", `{"bid_id":"`+bid.ID+`","status":"note","title":"Supplier late","internal":true}`)

	_, r = v.call(t, http.MethodGet, "/jobs/"+job.ID+"/progress", "poster", "poster", "")
	if ups := decode[httpx.List[progress.Update]](t, r.Data); len(ups.Items) != 1 {
		t.Fatalf("poster sees %d updates", len(ups.Items))
	}
	_, r = v.call(t, http.MethodGet, "/jobs/"+job.ID+"/progress", "ops", "admin", "")
	if ups := decode[httpx.List[progress.Update]](t, r.Data); len(ups.Items) != 2 {
		t.Fatalf("admin sees %d updates", len(ups.Items))
	}
	if code, _ := v.call(t, http.MethodGet, "/jobs/"+job.ID+"/progress", "provider-z", "provider", ""); code != http.StatusForbidden {
		t.Fatalf("stranger progress: %d", code)
	}
}
