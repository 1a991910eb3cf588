package nietcloud

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"attendbot-backend/lib/timezone"

	"github.com/stretchr/testify/require"
)

const (
	testUser = "0221001@niet.co.in"
	testPass = "hunter2"
)

func shortenWaits(t *testing.T) {
	origMarkerDeadline, origMarkerInterval := loginMarkerDeadline, loginMarkerInterval
	origRowDeadline, origRowInterval := summaryRowDeadline, summaryRowInterval
	loginMarkerDeadline = time.Millisecond * 300
	loginMarkerInterval = time.Millisecond * 20
	summaryRowDeadline = time.Millisecond * 500
	summaryRowInterval = time.Millisecond * 10
	t.Cleanup(func() {
		loginMarkerDeadline, loginMarkerInterval = origMarkerDeadline, origMarkerInterval
		summaryRowDeadline, summaryRowInterval = origRowDeadline, origRowInterval
	})
}

func logPage(subject string, rows string) string {
	return fmt.Sprintf(`<html><body>
		<h3>Operating Systems</h3>
		<table>
			<tr><td>%s</td><td>1</td><td>P</td></tr>
		</table>
		<h3>%s</h3>
		<table>
			<tr><th>Date</th><th>Session</th><th>Status</th></tr>
			%s
		</table>
	</body></html>`, day(-5).Format(logDateLayout), subject, rows)
}

func logRow(offset int, status string) string {
	return fmt.Sprintf("<tr><td>%s</td><td>Lecture</td><td>%s</td></tr>",
		day(offset).Format(logDateLayout), status)
}

// fakePortal mimics the portal closely enough to drive the whole
// pipeline: spring-security login form, cookie session, late-loading
// dashboard widget, summary fragment, per-subject day logs.
func fakePortal(t *testing.T) *httptest.Server {
	authed := func(r *http.Request) bool {
		c, err := r.Cookie("JSESSIONID")
		return err == nil && c.Value == "ok"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login.htm", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<form action="/j_spring_security_check" method="post">
				<input type="hidden" name="_csrf" value="token123"/>
				<input type="text" id="j_username" name="j_username"/>
				<input type="password" id="password-1" name="j_password"/>
				<button type="submit">Login</button>
			</form>
		</body></html>`)
	})
	mux.HandleFunc("/j_spring_security_check", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostFormValue("_csrf") != "token123" {
			http.Error(w, "missing csrf", http.StatusForbidden)
			return
		}
		if r.PostFormValue("j_username") == testUser && r.PostFormValue("j_password") == testPass {
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "ok"})
		}
		fmt.Fprint(w, `<html><head><script>alert('Welcome to NIET Cloud');</script></head><body>Redirecting...</body></html>`)
	})
	mux.HandleFunc("/home.htm", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			fmt.Fprint(w, `<html><body>Session expired, please login.</body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body>
			<h2>Student Dashboard</h2>
			<div class="widget">
				<span>Attendance</span>
				<span>75.50%</span>
				<a href="/attendance/summary.htm">View Details</a>
			</div>
		</body></html>`)
	})
	mux.HandleFunc("/attendance/summary.htm", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		fmt.Fprint(w, `<html><body><table>
			<tr><th>#</th><th>Course Name</th><th>Faculty</th><th>Attended/Delivered</th><th>Percentage</th></tr>
			<tr><td>1</td><td>Database Systems</td><td>Dr. Rao</td><td><a href="/detail/1.htm">21/46</a></td><td>45.65</td></tr>
			<tr><td>2</td><td>Operating Systems</td><td>Dr. Iyer</td><td><a href="/detail/2.htm">40/50</a></td><td>80.00</td></tr>
			<tr><td>3</td><td>Discrete Maths</td><td>Dr. Puri</td><td><a href="/detail/3.htm">30/40</a></td><td>75.00</td></tr>
			<tr><td>Total</td><td></td><td></td><td>91/136</td><td>66.91</td></tr>
		</table></body></html>`)
	})
	mux.HandleFunc("/detail/1.htm", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, logPage("Database Systems",
			logRow(0, "P")+logRow(-1, "P")+logRow(-1, "A")+logRow(-2, "P")))
	})
	mux.HandleFunc("/detail/2.htm", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, logPage("Operating Systems",
			logRow(0, "A")+logRow(-1, "P")+logRow(-2, "A")))
	})
	mux.HandleFunc("/detail/3.htm", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, logPage("Discrete Maths",
			logRow(0, "P")+logRow(-3, "P")))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestPipeline(t *testing.T) {
	shortenWaits(t)
	server := fakePortal(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*20)
	defer cancel()

	client, err := NewClient(ctx, ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)
	defer client.Close()

	err = client.Login(ctx, testUser, testPass)
	require.NoError(t, err)

	snapshot, err := client.ScrapeSummary(ctx)
	require.NoError(t, err)
	require.Equal(t, "75.50%", snapshot.OverallText)
	require.InDelta(t, 75.50, snapshot.Overall, 0.001)
	require.Len(t, snapshot.Subjects, 3)
	require.NotNil(t, snapshot.Total)
	require.Equal(t, "91/136", snapshot.Total.Count)

	attended, delivered := snapshot.TotalAttended()
	require.Equal(t, 91, attended)
	require.Equal(t, 136, delivered)

	statuses := client.ScanAllSubjects(ctx, snapshot, timezone.Yesterday())
	require.Equal(t, StatusAbsent, statuses["Database Systems"], "mixed P/A sessions")
	require.Equal(t, StatusPresent, statuses["Operating Systems"])
	require.Equal(t, StatusNoClass, statuses["Discrete Maths"])
}

func TestLoginBadPassword(t *testing.T) {
	shortenWaits(t)
	server := fakePortal(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*20)
	defer cancel()

	client, err := NewClient(ctx, ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)
	defer client.Close()

	err = client.Login(ctx, testUser, "wrong")
	require.ErrorIs(t, err, ErrLoginFailed)
}

func TestLoginWithRetryGivesUp(t *testing.T) {
	shortenWaits(t)
	server := fakePortal(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	client, err := NewClient(ctx, ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)
	defer client.Close()

	err = client.LoginWithRetry(ctx, testUser, "wrong", 2)
	require.ErrorIs(t, err, ErrLoginFailed)
}
