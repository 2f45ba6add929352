package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"gopkg.in/yaml.v3"

	"github.com/sudo-init-do/jobhub/internal/escrow"
	"github.com/sudo-init-do/jobhub/internal/jobs"
)

func TestSignToken(t *testing.T) {
	now := time.Now()
	signed, err := signToken("s3cret", "u1", "admin", time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	}); err != nil {
		t.Fatal(err)
	}
	if claims["user_id"] != "u1" || claims["role"] != "admin" {
		t.Fatalf("claims = %v", claims)
	}
	if exp, _ := claims["exp"].(float64); int64(exp) != now.Add(time.Hour).Unix() {
		t.Fatalf("exp = %v", claims["exp"])
	}

	if _, err := signToken("", "u1", "admin", time.Hour, now); err == nil {
		t.Fatal("empty secret accepted")
	}
}

func sampleJobs() []jobs.Job {
	accepted := "b1"
	return []jobs.Job{
		{ID: "j1", Title: "Tile bathroom", ServiceType: "tiling", Status: jobs.StatusInProgress, PostedBy: "p1", AcceptedBidID: &accepted},
		{ID: "j2", Title: "Trim hedge", ServiceType: "garden", Status: jobs.StatusOpen, PostedBy: "p2"},
	}
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	if err := render(&buf, "table", sampleJobs(), jobRows); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Tile bathroom", "in_progress", "b1", "Trim hedge"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestRenderYAMLUsesJSONNames(t *testing.T) {
	var buf bytes.Buffer
	pays := []escrow.Payment{{ID: "pay1", JobID: "j1", Status: escrow.StatusHeld, Amount: 1250, Currency: "USD"}}
	if err := render(&buf, "yaml", pays, paymentRows); err != nil {
		t.Fatal(err)
	}
	var got []map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0]["job_id"] != "j1" || got[0]["status"] != "held" {
		t.Fatalf("yaml = %s", buf.String())
	}
}

func TestRenderPaymentsShowsUnreleased(t *testing.T) {
	var buf bytes.Buffer
	pays := []escrow.Payment{{ID: "pay1", JobID: "j1", Status: escrow.StatusReleased, Amount: 10000, ReleasedAmount: 7500, Currency: "USD"}}
	if err := render(&buf, "table", pays, paymentRows); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"UNRELEASED", "75.00", "25.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	if err := render(&bytes.Buffer{}, "xml", sampleJobs(), jobRows); err == nil {
		t.Fatal("expected error")
	}
}
