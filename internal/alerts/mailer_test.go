package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBuildMessage(t *testing.T) {
	msg := buildMessage("from@x", "to@x", "reply@x", "Hi", "plain body")
	for _, want := range []string{"From: from@x\r\n", "To: to@x\r\n", "Reply-To: reply@x\r\n", "Content-Type: text/plain;"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
	if html := buildMessage("f", "t", "", "s", "<html><body>x</body></html>"); !strings.Contains(html, "text/html") || strings.Contains(html, "Reply-To") {
		t.Fatalf("html message:\n%s", html)
	}
}

func TestNewMailerSelection(t *testing.T) {
	if _, err := NewMailer("", SMTPConfig{}, PlunkConfig{}); err == nil {
		t.Fatal("expected smtp config error")
	}
	m, err := NewMailer("", SMTPConfig{}, PlunkConfig{APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.(*Plunk); !ok {
		t.Fatalf("mailer = %T", m)
	}
	m, err = NewMailer("smtp", SMTPConfig{Host: "h", Port: "465", Username: "u", Password: "p", From: "f"}, PlunkConfig{APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.(*SMTP); !ok {
		t.Fatalf("mailer = %T", m)
	}
}

func TestPlunkSend(t *testing.T) {
	var got plunkSendBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer pk" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got.To == "fail@x" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"bad recipient"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := NewPlunk(PlunkConfig{APIKey: "pk", APIURL: srv.URL, From: "jobs@x", ReplyTo: "help@x"})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Send(context.Background(), "ops@x", "subj", "body"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.To != "ops@x" || got.From != "jobs@x" || got.Reply != "help@x" {
		t.Fatalf("body = %+v", got)
	}
	err = p.Send(context.Background(), "fail@x", "subj", "body")
	if err == nil || !strings.Contains(err.Error(), "status=422") {
		t.Fatalf("err = %v", err)
	}
}
