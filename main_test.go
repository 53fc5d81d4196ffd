package main

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig(t *testing.T) *Config {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "minitwit-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	return &Config{
		DBType:              dbTypeSQLite,
		DBSecretKeyUsername: secretKeyUsername,
		DBSecretKeyPassword: secretKeyPassword,
		DatabasePath:        tmpFile.Name(),
		SecretKey:           "test key",
		AdminUser:           "admin",
		AdminPassword:       "hunter2secret",
		Port:                5000,
	}
}

func newTestApp(t *testing.T, cfg *Config) *App {
	t.Helper()

	db, _, err := makeDBEngine(cfg, DBCredentials{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	if err := initSchema(db, cfg.DBType); err != nil {
		t.Fatal(err)
	}

	cloud := &CloudInfo{Type: "local", Hostname: "testhost"}
	return newApp(cfg, cloud, db, testLogger())
}

// Setup a test server with a fresh temp database
func setupTestServer(t *testing.T) (*httptest.Server, *http.Client, *App) {
	t.Helper()

	app := newTestApp(t, testConfig(t))
	ts := httptest.NewServer(app.handler())
	t.Cleanup(ts.Close)

	// Client with cookie jar — follows redirects automatically
	jar, _ := cookiejar.New(nil)
	client := ts.Client()
	client.Jar = jar

	return ts, client, app
}

// Helper: read response body as string
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

// Helper: register a user
func register(t *testing.T, ts *httptest.Server, client *http.Client, username, password, password2, email string) string {
	t.Helper()
	if password2 == "" {
		password2 = password
	}
	if email == "" {
		email = username + "@example.com"
	}
	resp, err := client.PostForm(ts.URL+"/register", url.Values{
		"username":  {username},
		"password":  {password},
		"password2": {password2},
		"email":     {email},
	})
	if err != nil {
		t.Fatal(err)
	}
	return readBody(t, resp)
}

// Helper: login
func login(t *testing.T, ts *httptest.Server, client *http.Client, username, password string) string {
	t.Helper()
	resp, err := client.PostForm(ts.URL+"/login", url.Values{
		"username": {username},
		"password": {password},
	})
	if err != nil {
		t.Fatal(err)
	}
	return readBody(t, resp)
}

// Helper: register and login
func registerAndLogin(t *testing.T, ts *httptest.Server, client *http.Client, username, password string) string {
	t.Helper()
	register(t, ts, client, username, password, "", "")
	return login(t, ts, client, username, password)
}

// Helper: logout
func doLogout(t *testing.T, ts *httptest.Server, client *http.Client) string {
	t.Helper()
	resp, err := client.Get(ts.URL + "/logout")
	if err != nil {
		t.Fatal(err)
	}
	return readBody(t, resp)
}

// Helper: add a message
func addMessage(t *testing.T, ts *httptest.Server, client *http.Client, text string) string {
	t.Helper()
	resp, err := client.PostForm(ts.URL+"/add_message", url.Values{
		"text": {text},
	})
	if err != nil {
		t.Fatal(err)
	}
	return readBody(t, resp)
}

// Helper: GET a page and return body
func getBody(t *testing.T, ts *httptest.Server, client *http.Client, path string) string {
	t.Helper()
	resp, err := client.Get(ts.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	return readBody(t, resp)
}

func TestRegister(t *testing.T) {
	ts, client, _ := setupTestServer(t)

	// Successful registration
	body := register(t, ts, client, "user1", "default", "", "")
	if !strings.Contains(body, "You were successfully registered and can login now") {
		t.Error("Expected successful registration message")
	}

	// Duplicate username
	body = register(t, ts, client, "user1", "default", "", "")
	if !strings.Contains(body, "The username is already taken") {
		t.Error("Expected 'username already taken' message")
	}

	// Empty username
	body = register(t, ts, client, "", "default", "", "test@example.com")
	if !strings.Contains(body, "You have to enter a username") {
		t.Error("Expected 'enter a username' message")
	}

	// Empty password
	body = register(t, ts, client, "meh", "", "", "meh@example.com")
	if !strings.Contains(body, "You have to enter a password") {
		t.Error("Expected 'enter a password' message")
	}

	// Mismatched passwords
	body = register(t, ts, client, "meh", "x", "y", "meh@example.com")
	if !strings.Contains(body, "The two passwords do not match") {
		t.Error("Expected 'passwords do not match' message")
	}

	// Invalid email
	body = register(t, ts, client, "meh", "foo", "", "broken")
	if !strings.Contains(body, "You have to enter a valid email address") {
		t.Error("Expected 'valid email address' message")
	}
}

func TestLoginLogout(t *testing.T) {
	ts, client, _ := setupTestServer(t)

	// Register and login
	body := registerAndLogin(t, ts, client, "user1", "default")
	if !strings.Contains(body, "You were logged in") {
		t.Error("Expected 'logged in' message")
	}

	// Logout
	body = doLogout(t, ts, client)
	if !strings.Contains(body, "You were logged out") {
		t.Error("Expected 'logged out' message")
	}

	// Wrong password
	body = login(t, ts, client, "user1", "wrongpassword")
	if !strings.Contains(body, "Invalid password") {
		t.Error("Expected 'Invalid password' message")
	}

	// Wrong username
	body = login(t, ts, client, "user2", "wrongpassword")
	if !strings.Contains(body, "Invalid username") {
		t.Error("Expected 'Invalid username' message")
	}
}

func TestMessageRecording(t *testing.T) {
	ts, client, _ := setupTestServer(t)

	registerAndLogin(t, ts, client, "foo", "default")
	addMessage(t, ts, client, "test message 1")
	addMessage(t, ts, client, "<test message 2>")

	body := getBody(t, ts, client, "/")
	if !strings.Contains(body, "test message 1") {
		t.Error("Expected 'test message 1' on timeline")
	}
	if !strings.Contains(body, "&lt;test message 2&gt;") {
		t.Error("Expected HTML-escaped message on timeline")
	}
}

func TestEmptyMessageIgnored(t *testing.T) {
	ts, client, app := setupTestServer(t)

	registerAndLogin(t, ts, client, "foo", "default")
	body := addMessage(t, ts, client, "")
	if strings.Contains(body, "Your message was recorded") {
		t.Error("Did not expect a success notice for an empty message")
	}

	var count int
	if err := app.db.QueryRow("SELECT COUNT(*) FROM message").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Expected no message rows, got %d", count)
	}
}

func TestAddMessageRequiresLogin(t *testing.T) {
	ts, client, _ := setupTestServer(t)

	resp, err := client.PostForm(ts.URL+"/add_message", url.Values{"text": {"sneaky"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}
}

func TestUnknownUserTimelineIs404(t *testing.T) {
	ts, client, _ := setupTestServer(t)

	resp, err := client.Get(ts.URL + "/nobody")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestTimelines(t *testing.T) {
	ts, client, _ := setupTestServer(t)

	// foo posts a message
	registerAndLogin(t, ts, client, "foo", "default")
	addMessage(t, ts, client, "the message by foo")
	doLogout(t, ts, client)

	// bar posts a message
	registerAndLogin(t, ts, client, "bar", "default")
	addMessage(t, ts, client, "the message by bar")

	// Public timeline shows both
	body := getBody(t, ts, client, "/public")
	if !strings.Contains(body, "the message by foo") {
		t.Error("Expected foo's message on public timeline")
	}
	if !strings.Contains(body, "the message by bar") {
		t.Error("Expected bar's message on public timeline")
	}

	// Bar's timeline shows only bar's message
	body = getBody(t, ts, client, "/")
	if strings.Contains(body, "the message by foo") {
		t.Error("Did not expect foo's message on bar's timeline")
	}
	if !strings.Contains(body, "the message by bar") {
		t.Error("Expected bar's message on bar's timeline")
	}

	// Follow foo
	body = getBody(t, ts, client, "/foo/follow")
	if !strings.Contains(body, "You are now following") {
		t.Error("Expected follow confirmation message")
	}

	// Foo's profile now reports the follow
	body = getBody(t, ts, client, "/foo")
	if !strings.Contains(body, "You are currently following this user") {
		t.Error("Expected follow status on foo's profile")
	}

	// Now bar's timeline should show both
	body = getBody(t, ts, client, "/")
	if !strings.Contains(body, "the message by foo") {
		t.Error("Expected foo's message after following")
	}
	if !strings.Contains(body, "the message by bar") {
		t.Error("Expected bar's message on own timeline")
	}

	// User page shows only that user's messages
	body = getBody(t, ts, client, "/bar")
	if strings.Contains(body, "the message by foo") {
		t.Error("Did not expect foo's message on bar's user page")
	}
	if !strings.Contains(body, "the message by bar") {
		t.Error("Expected bar's message on bar's user page")
	}

	body = getBody(t, ts, client, "/foo")
	if !strings.Contains(body, "the message by foo") {
		t.Error("Expected foo's message on foo's user page")
	}
	if strings.Contains(body, "the message by bar") {
		t.Error("Did not expect bar's message on foo's user page")
	}

	// Unfollow foo
	body = getBody(t, ts, client, "/foo/unfollow")
	if !strings.Contains(body, "You are no longer following") {
		t.Error("Expected unfollow confirmation message")
	}

	// Bar's timeline should only show bar's message again
	body = getBody(t, ts, client, "/")
	if strings.Contains(body, "the message by foo") {
		t.Error("Did not expect foo's message after unfollowing")
	}
	if !strings.Contains(body, "the message by bar") {
		t.Error("Expected bar's message on own timeline")
	}
}

func TestResponseHeaders(t *testing.T) {
	cfg := testConfig(t)
	cfg.BuildGitVersion = "0123456789abcdef"
	app := newTestApp(t, cfg)
	app.cloud = &CloudInfo{
		InCloud:  true,
		Type:     "ec2",
		Hostname: "ec2-203-0-113-25.compute-1.amazonaws.com",
		Metadata: InstanceIdentity{AvailabilityZone: "us-east-1a", Region: "us-east-1"},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/public", nil)
	app.handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Host"); got != "ec2-203-0-113-25.compute-1.amazonaws.com" {
		t.Errorf("Host header = %q", got)
	}
	if got := rec.Header().Get("X-Host-AZ"); got != "us-east-1a" {
		t.Errorf("X-Host-AZ header = %q", got)
	}
	if got := rec.Header().Get("X-App-Version"); got != "0123456" {
		t.Errorf("X-App-Version header = %q", got)
	}
}

// The request-scoped connection must be released even when a handler fails,
// otherwise the pool drains. Exhaust more requests than the pool allows open.
func TestRequestConnectionReleased(t *testing.T) {
	ts, client, app := setupTestServer(t)
	app.db.SetMaxOpenConns(1)

	for i := 0; i < 5; i++ {
		resp, err := client.Get(ts.URL + "/public")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status %d", i, resp.StatusCode)
		}
	}
}
